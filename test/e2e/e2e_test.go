//go:build e2e

// test/e2e/e2e_test.go
package e2e

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"transfer-advisor/internal/common/config"
	"transfer-advisor/internal/common/database"
	"transfer-advisor/internal/common/logger"
	"transfer-advisor/internal/exclusions"
	"transfer-advisor/internal/hospitals"
	"transfer-advisor/internal/llm"
	"transfer-advisor/internal/models"
	"transfer-advisor/internal/pipeline"
)

const e2eIndexSuffix = "-e2e"

var zapLog *zap.Logger

func TestMain(m *testing.M) {
	zapLog, _ = zap.NewDevelopment()
	code := m.Run()
	_ = zapLog.Sync()
	os.Exit(code)
}

var e2eCampuses = []models.Hospital{
	{CampusID: "CAMPUS_A", Name: "Main Campus", CareLevels: []string{"General", "ICU", "PICU", "NICU"}, Specialties: []string{"Neonatology", "Trauma Surgery"}, Location: models.Location{Lat: 29.7079, Lon: -95.4016}},
	{CampusID: "CAMPUS_B", Name: "North Campus", CareLevels: []string{"General", "ICU", "PICU"}, Specialties: []string{"Pulmonology"}, Location: models.Location{Lat: 30.0268, Lon: -95.4411}},
	{CampusID: "CAMPUS_C", Name: "South Campus", CareLevels: []string{"General", "ICU"}, Specialties: []string{"Burn Care"}, Location: models.Location{Lat: 29.5583, Lon: -95.2127}},
	{CampusID: "CAMPUS_D", Name: "East Campus", CareLevels: []string{"General", "ICU"}, Specialties: []string{"Neurology"}, Location: models.Location{Lat: 29.7752, Lon: -95.1120}},
}

func TestTransferE2E(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	cfg, err := config.Load()
	require.NoError(t, err)

	// 🔧 FORCE LOCALHOST FOR E2E TESTS
	cfg.Database.Postgres.Host = "localhost"
	cfg.Database.Redis.Address = "localhost:6379"
	cfg.Database.Elasticsearch.Addresses = []string{"http://localhost:9200"}
	cfg.Database.Elasticsearch.ExclusionIndex += e2eIndexSuffix

	log := logger.NewZapAdapter(zapLog)

	pg := connectPostgres(ctx, t, cfg)
	defer pg.Close()
	seedCampuses(ctx, t, pg)

	rdb := database.NewRedis(cfg.Database.Redis)
	if err := rdb.Ping(ctx); err != nil {
		t.Skipf("Skipping test: Redis not responding: %v", err)
	}
	defer rdb.Close()
	census := hospitals.NewRedisCensusStore(rdb, time.Minute, log)
	require.NoError(t, census.Put(ctx, "CAMPUS_A", models.BedCensus{"PICU": {Available: 3, Total: 16}}))
	require.NoError(t, census.Put(ctx, "CAMPUS_B", models.BedCensus{"PICU": {Available: 0, Total: 8}}))

	es, err := database.NewElasticsearch(cfg.Database.Elasticsearch)
	require.NoError(t, err)
	if err := es.Ping(ctx); err != nil {
		t.Skipf("Skipping test: Elasticsearch not responding: %v", err)
	}
	seedExclusions(t, es, cfg.Database.Elasticsearch.ExclusionIndex)
	require.NoError(t, es.ExclusionsReady(ctx))

	gateway, err := llm.NewGateway(llm.OptionsFromConfig(cfg.LLM), nil, log)
	require.NoError(t, err)

	p, err := pipeline.New(pipeline.Dependencies{
		Completer:  gateway,
		Logger:     log,
		Directory:  hospitals.NewPostgresDirectory(pg, log),
		Census:     census,
		Exclusions: exclusions.NewElasticsearchSource(es, cfg.Database.Elasticsearch.ExclusionIndex, log),
	})
	require.NoError(t, err)

	t.Log("🚀 Running transfer pipeline against real collaborators...")
	resp := p.Process(ctx, pipeline.Request{
		RequestID:               "e2e-1",
		ClinicalText:            "3-year-old male with severe respiratory distress, SpO2 88%, HR 160, RR 48",
		SendingFacilityLocation: &models.Location{Lat: 29.76, Lon: -95.37},
		ScoringResults:          models.ScoringResults{"pews": map[string]interface{}{"score": 6}},
	})

	rec := resp.FinalRecommendation
	require.False(t, rec.IsError(), "error recommendation: %s", resp.ErrorMessage)
	assert.Equal(t, "e2e-1", rec.TransferRequestID)
	assert.Contains(t, []string{"CAMPUS_A", "CAMPUS_B", "CAMPUS_C", "CAMPUS_D"}, rec.RecommendedCampusID)
	assert.NotEmpty(t, rec.RecommendedCampusName)
	assert.GreaterOrEqual(t, rec.ConfidenceScore, 0.0)
	assert.LessOrEqual(t, rec.ConfidenceScore, 100.0)
	assert.Len(t, resp.Stages, 4)

	for _, s := range resp.Stages {
		t.Logf("stage %s: %s %s", s.Stage, s.Outcome, s.Cause)
	}
	t.Logf("✅ Recommended %s (%s) at %s, confidence %.0f", rec.RecommendedCampusID, rec.RecommendedCampusName, rec.RecommendedLevelOfCare, rec.ConfidenceScore)
}

func connectPostgres(ctx context.Context, t *testing.T, cfg *config.Config) *database.PostgresClient {
	t.Helper()
	pg, err := database.NewPostgres(cfg.Database.Postgres)
	if err != nil {
		t.Skipf("Skipping test: PostgreSQL connection failed: %v", err)
	}
	if err := pg.Ping(ctx); err != nil {
		pg.Close()
		t.Skipf("Skipping test: PostgreSQL not responding: %v", err)
	}
	t.Log("✅ PostgreSQL connected")
	return pg
}

func seedCampuses(ctx context.Context, t *testing.T, pg *database.PostgresClient) {
	t.Helper()
	_, err := pg.DB.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS campuses (
			campus_id   TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			care_levels TEXT[] NOT NULL DEFAULT '{}',
			specialties TEXT[] NOT NULL DEFAULT '{}',
			latitude    DOUBLE PRECISION,
			longitude   DOUBLE PRECISION,
			active      BOOLEAN NOT NULL DEFAULT true
		)`)
	require.NoError(t, err, "❌ create campuses table")

	for _, h := range e2eCampuses {
		_, err := pg.DB.ExecContext(ctx, `
			INSERT INTO campuses (campus_id, name, care_levels, specialties, latitude, longitude, active)
			VALUES ($1, $2, $3, $4, $5, $6, true)
			ON CONFLICT (campus_id) DO UPDATE SET
				name = EXCLUDED.name, care_levels = EXCLUDED.care_levels,
				specialties = EXCLUDED.specialties, latitude = EXCLUDED.latitude,
				longitude = EXCLUDED.longitude, active = true`,
			h.CampusID, h.Name, pq.Array(h.CareLevels), pq.Array(h.Specialties), h.Location.Lat, h.Location.Lon)
		require.NoError(t, err, "❌ insert campus %s", h.CampusID)
	}
	t.Log("✅ Campuses seeded")
}

func seedExclusions(t *testing.T, es *database.ElasticsearchClient, index string) {
	t.Helper()
	client := es.Client

	res, err := client.Indices.Delete([]string{index}, client.Indices.Delete.WithIgnoreUnavailable(true))
	require.NoError(t, err)
	res.Body.Close()

	docs := []models.CampusCriteria{
		{CampusID: "CAMPUS_B", GeneralExclusions: []string{"Patients requiring ECMO"}},
		{CampusID: "CAMPUS_C", GeneralExclusions: []string{"Neonates under 28 days"}},
		{CampusID: "CAMPUS_D", GeneralExclusions: []string{"Major trauma requiring surgical intervention"}},
	}
	for _, doc := range docs {
		body, err := json.Marshal(doc)
		require.NoError(t, err)
		res, err := client.Index(index, strings.NewReader(string(body)),
			client.Index.WithDocumentID(doc.CampusID),
			client.Index.WithRefresh("wait_for"),
		)
		require.NoError(t, err, "❌ index exclusion criteria for %s", doc.CampusID)
		require.False(t, res.IsError(), res.String())
		res.Body.Close()
	}
	t.Log("✅ Exclusion criteria indexed")
}
