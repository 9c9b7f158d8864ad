// internal/common/database/elasticsearch.go
package database

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"transfer-advisor/internal/common/config"

	"github.com/elastic/go-elasticsearch/v8"
)

const (
	defaultExclusionIndex = "exclusion-criteria"
	readinessTimeout      = 5 * time.Second
)

// ElasticsearchClient holds the cluster connection and the index the
// exclusion criteria live in.
type ElasticsearchClient struct {
	Client         *elasticsearch.Client
	ExclusionIndex string
}

func NewElasticsearch(cfg config.ElasticsearchConfig) (*ElasticsearchClient, error) {
	esCfg := elasticsearch.Config{
		Addresses: cfg.Addresses,
	}
	if cfg.Username != "" {
		esCfg.Username = cfg.Username
		esCfg.Password = cfg.Password
	}

	es, err := elasticsearch.NewClient(esCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}

	index := cfg.ExclusionIndex
	if index == "" {
		index = defaultExclusionIndex
	}
	return &ElasticsearchClient{Client: es, ExclusionIndex: index}, nil
}

// Ping checks the cluster answers within the readiness timeout.
func (c *ElasticsearchClient) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, readinessTimeout)
	defer cancel()

	res, err := c.Client.Ping(c.Client.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("elasticsearch ping failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elasticsearch ping error: %s", res.Status())
	}
	return nil
}

// ExclusionsReady reports whether the cluster is up and the exclusion index
// exists. A reachable cluster without the index is not ready: every
// criteria lookup would fail.
func (c *ElasticsearchClient) ExclusionsReady(ctx context.Context) error {
	if err := c.Ping(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, readinessTimeout)
	defer cancel()

	res, err := c.Client.Indices.Exists(
		[]string{c.ExclusionIndex},
		c.Client.Indices.Exists.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("exclusion index check failed: %w", err)
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusNotFound:
		return fmt.Errorf("exclusion index %q does not exist", c.ExclusionIndex)
	case res.IsError():
		return fmt.Errorf("exclusion index check error: %s", res.Status())
	}
	return nil
}
