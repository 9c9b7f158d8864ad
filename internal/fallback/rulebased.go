package fallback

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"transfer-advisor/internal/common/config"
	"transfer-advisor/internal/common/logger"
	"transfer-advisor/internal/models"
)

// Condition keywords searched in the clinical text, in report order.
var conditionPatterns = []struct {
	name    string
	pattern *regexp.Regexp
}{
	{"trauma", regexp.MustCompile(`(?i)trauma|accident|crash|fall|injury`)},
	{"burns", regexp.MustCompile(`(?i)burn|scald|thermal injury`)},
	{"respiratory", regexp.MustCompile(`(?i)breathing difficulty|respiratory distress|intubated|ventilator`)},
	{"cardiac", regexp.MustCompile(`(?i)cardiac|heart failure|arrhythmia|chest pain`)},
	{"neuro", regexp.MustCompile(`(?i)seizure|stroke|neurological|unresponsive|altered mental status`)},
	{"sepsis", regexp.MustCompile(`(?i)sepsis|septic|infection`)},
	{"nicu", regexp.MustCompile(`(?i)newborn|infant|premature|preterm|neonatal`)},
	{"picu", regexp.MustCompile(`(?i)child|pediatric intensive care`)},
}

var criticalConditions = map[string]bool{"trauma": true, "respiratory": true, "cardiac": true, "neuro": true}

var (
	hrPattern = regexp.MustCompile(`(?i)(?:hr|heart rate|pulse)[\s:=]*(\d{2,3})`)
	bpPattern = regexp.MustCompile(`(\d{2,3})\s*[/\\]\s*(\d{2,3})`)
	o2Pattern = regexp.MustCompile(`(?i)(?:o2 sat|spo2|oxygen saturation|o2)[\s:=]*(\d{1,3})`)
)

// Campus ids of the rule-based lookup table.
type CampusTable struct {
	Default    string
	NICU       string
	PICU       string
	PICUTrauma string
	Burns      string
	Neuro      string
}

var DefaultCampusTable = CampusTable{
	Default:    "CAMPUS_A",
	NICU:       "CAMPUS_A",
	PICU:       "CAMPUS_B",
	PICUTrauma: "CAMPUS_A",
	Burns:      "CAMPUS_C",
	Neuro:      "CAMPUS_D",
}

var DefaultCampusNames = map[string]string{
	"CAMPUS_A": "Main Campus",
	"CAMPUS_B": "North Campus",
	"CAMPUS_C": "South Campus",
	"CAMPUS_D": "East Campus",
}

// CampusTableFromConfig fills unset entries from DefaultCampusTable.
func CampusTableFromConfig(cfg config.CampusTableConfig) CampusTable {
	t := DefaultCampusTable
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&t.Default, cfg.Default)
	set(&t.NICU, cfg.NICU)
	set(&t.PICU, cfg.PICU)
	set(&t.PICUTrauma, cfg.PICUTrauma)
	set(&t.Burns, cfg.Burns)
	set(&t.Neuro, cfg.Neuro)
	return t
}

// Assessment is the deterministic reading of a clinical text.
type Assessment struct {
	CareLevel          string
	Conditions         []string
	VitalAbnormalities []string
	Escalations        []Escalation
}

func (a Assessment) has(condition string) bool {
	for _, c := range a.Conditions {
		if c == condition {
			return true
		}
	}
	return false
}

type Recommender struct {
	table     CampusTable
	names     map[string]string
	escalator *Escalator
	log       logger.Logger
}

// NewRecommender compiles the default escalation rules. names may be nil.
func NewRecommender(table CampusTable, names map[string]string, log logger.Logger) (*Recommender, error) {
	escalator, err := NewEscalator(DefaultEscalationRules)
	if err != nil {
		return nil, err
	}
	merged := make(map[string]string, len(DefaultCampusNames)+len(names))
	for k, v := range DefaultCampusNames {
		merged[k] = v
	}
	for k, v := range names {
		merged[k] = v
	}
	return &Recommender{
		table:     table,
		names:     merged,
		escalator: escalator,
		log:       logger.Component(log, "rule-based-recommender"),
	}, nil
}

// CampusName returns the configured display name for id, or "".
func (r *Recommender) CampusName(id string) string {
	return r.names[id]
}

// DefaultHospitals describes the campuses of the lookup table, for requests
// that arrive with no hospital list and no directory to ask.
func (r *Recommender) DefaultHospitals() []models.Hospital {
	byID := map[string]*models.Hospital{}
	var order []string
	add := func(id, level, specialty string) {
		if id == "" {
			return
		}
		h, ok := byID[id]
		if !ok {
			name := r.names[id]
			if name == "" {
				name = id
			}
			h = &models.Hospital{CampusID: id, Name: name, CareLevels: []string{models.CareGeneral}}
			byID[id] = h
			order = append(order, id)
		}
		if level != "" && !h.SupportsCareLevel(level) {
			h.CareLevels = append(h.CareLevels, level)
		}
		if specialty != "" && !h.HasSpecialty(specialty) {
			h.Specialties = append(h.Specialties, specialty)
		}
	}

	add(r.table.Default, "", "")
	add(r.table.NICU, models.CareNICU, "Neonatology")
	add(r.table.PICU, models.CarePICU, "")
	add(r.table.PICUTrauma, models.CarePICU, "Trauma Surgery")
	add(r.table.Burns, "", "Burn Care")
	add(r.table.Neuro, "", "Neurology")

	sort.Strings(order)
	out := make([]models.Hospital, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	return out
}

// Assess derives the care level from condition keywords and vitals, then
// lets severity scores escalate it.
func (r *Recommender) Assess(text string, scores models.ScoringResults) Assessment {
	var a Assessment
	for _, c := range conditionPatterns {
		if c.pattern.MatchString(text) {
			a.Conditions = append(a.Conditions, c.name)
		}
	}
	a.VitalAbnormalities = vitalAbnormalities(text)

	critical := len(a.VitalAbnormalities) > 0
	for _, c := range a.Conditions {
		if criticalConditions[c] {
			critical = true
		}
	}

	switch {
	case a.has("nicu"):
		a.CareLevel = models.CareNICU
	case a.has("picu"):
		a.CareLevel = models.CarePICU
	case critical:
		a.CareLevel = models.CareICU
	default:
		a.CareLevel = models.CareGeneral
	}

	a.CareLevel, a.Escalations = r.escalator.Apply(a.CareLevel, scores)
	return a
}

// Recommend builds the rule-based recommendation for text.
func (r *Recommender) Recommend(text, requestID string, scores models.ScoringResults) models.Recommendation {
	a := r.Assess(text, scores)
	campusID, confidence := r.campusFor(a)

	reason := "Rule-based recommendation based on " + a.CareLevel + " care level"
	if len(a.Conditions) > 0 {
		reason += " and identified conditions: " + strings.Join(a.Conditions, ", ")
	} else {
		reason += "."
	}

	rec := models.Recommendation{
		TransferRequestID:      requestID,
		RecommendedCampusID:    campusID,
		RecommendedCampusName:  r.names[campusID],
		RecommendedLevelOfCare: a.CareLevel,
		Reason:                 reason,
		ConfidenceScore:        confidence,
		Explainability: models.Explainability{
			MainRecommendationReason: reason,
			KeyFactorsConsidered:     append(append([]string{}, a.Conditions...), a.VitalAbnormalities...),
			ExtractionMethod:         models.SourceRuleBased,
		},
	}
	explanation := "Fixed confidence for the rule-based path"
	rec.Explainability.ConfidenceExplanation = &explanation

	rec.AddNote("Note: This is a RULE-BASED recommendation (LLM processing was not available)")
	rec.AddNote("Care level determination: " + a.CareLevel)
	if len(a.Conditions) > 0 {
		rec.AddNote("Identified conditions: " + strings.Join(a.Conditions, ", "))
	}
	if len(a.VitalAbnormalities) > 0 {
		rec.AddNote("Vital sign abnormalities: " + strings.Join(a.VitalAbnormalities, ", "))
	}
	if summaries := ScoreSummaries(scores); len(summaries) > 0 {
		rec.AddNote("Pediatric scoring results:")
		for _, s := range summaries {
			rec.AddNote("  - " + s)
		}
	}
	for _, e := range a.Escalations {
		rec.AddNote("Care level escalated to " + e.Level + " by score rule " + e.Rule)
	}
	rec.EnsureDefaults()

	r.log.Info("generated rule-based recommendation", map[string]interface{}{
		"campus_id":  campusID,
		"care_level": a.CareLevel,
		"confidence": confidence,
		"conditions": a.Conditions,
	})
	return rec
}

func (r *Recommender) campusFor(a Assessment) (string, float64) {
	switch {
	case a.CareLevel == models.CareNICU:
		return r.table.NICU, 70
	case a.CareLevel == models.CarePICU && a.has("trauma"):
		return r.table.PICUTrauma, 60
	case a.CareLevel == models.CarePICU:
		return r.table.PICU, 60
	case a.has("burns"):
		return r.table.Burns, 65
	case a.has("neuro"):
		return r.table.Neuro, 65
	}
	return r.table.Default, 40
}

func vitalAbnormalities(text string) []string {
	var out []string
	if m := hrPattern.FindStringSubmatch(text); m != nil {
		if hr, err := strconv.Atoi(m[1]); err == nil && hr > 120 {
			out = append(out, "tachycardia")
		}
	}
	if m := bpPattern.FindStringSubmatch(text); m != nil {
		if sbp, err := strconv.Atoi(m[1]); err == nil && sbp < 90 {
			out = append(out, "hypotension")
		}
	}
	if m := o2Pattern.FindStringSubmatch(text); m != nil {
		if o2, err := strconv.Atoi(m[1]); err == nil && o2 >= 1 && o2 <= 100 && o2 < 92 {
			out = append(out, "hypoxia")
		}
	}
	return out
}
