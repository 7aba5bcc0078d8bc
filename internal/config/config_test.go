package config

import (
	"testing"

	"github.com/stretchr/testify/require"

	"gopkg.in/yaml.v3"
)

const validYAML = `
parallelism: 4
sources:
  - name: orders-db
    source_type: postgres
    rate_limit: 10
    postgres:
      table: orders
      position_column: updated_at
      position_kind: timestamp
      key_columns: [order_id]
      soft_delete_column: deleted
  - name: events
    source_type: kafka
    kafka:
      brokers: [localhost:9092]
      topic: order-events
      key_field: order_id
pipelines:
  - name: orders
    source: orders-db
    bronze_table: bronze.orders
    silver_table: silver.orders
    gold_table: gold.orders_by_region
    batch_size: 500
    dedup_keys: [order_id]
    validations:
      - column: amount
        rule: non_negative
    dimension:
      table: dim.customers
      business_keys: [customer_id]
      delete_detection: expire
      null_equality: null_equals_absent
    aggregation:
      group_by: [region]
      metrics:
        total_amount:
          column: amount
          operator: sum
        order_count:
          column: order_id
          operator: count
`

func parse(t *testing.T, raw string) *Config {
	t.Helper()
	var cfg Config
	require.NoError(t, yaml.Unmarshal([]byte(raw), &cfg))
	return &cfg
}

// TestConfigValidate verifies a complete configuration parses and passes
// validation.
func TestConfigValidate(t *testing.T) {
	cfg := parse(t, validYAML)
	require.NoError(t, cfg.Validate())

	require.Len(t, cfg.Sources, 2)
	require.Equal(t, SourceTypePostgres, cfg.Sources[0].SourceType)
	require.Equal(t, "updated_at", cfg.Sources[0].Postgres.PositionColumn)
	require.Equal(t, 4, cfg.Parallelism)

	p := cfg.Pipelines[0]
	require.Equal(t, []string{"order_id"}, p.DedupKeys)
	require.Equal(t, "expire", p.Dimension.DeleteDetection)
	require.Equal(t, "sum", p.Aggregation.Metrics["total_amount"].Operator)
}

// TestConfigValidateRejections covers the cross-reference checks struct tags
// cannot express.
func TestConfigValidateRejections(t *testing.T) {
	t.Run("pipeline referencing unknown source", func(t *testing.T) {
		cfg := parse(t, validYAML)
		cfg.Pipelines[0].Source = "missing-db"
		require.ErrorContains(t, cfg.Validate(), "unknown source")
	})

	t.Run("duplicate source names", func(t *testing.T) {
		cfg := parse(t, validYAML)
		cfg.Sources[1].Name = cfg.Sources[0].Name
		require.ErrorContains(t, cfg.Validate(), "duplicate source name")
	})

	t.Run("postgres source without a postgres block", func(t *testing.T) {
		cfg := parse(t, validYAML)
		cfg.Sources[0].Postgres = nil
		require.ErrorContains(t, cfg.Validate(), "postgres block required")
	})

	t.Run("aggregation without a gold table", func(t *testing.T) {
		cfg := parse(t, validYAML)
		cfg.Pipelines[0].GoldTable = ""
		require.ErrorContains(t, cfg.Validate(), "no gold table")
	})

	t.Run("unknown aggregation operator", func(t *testing.T) {
		cfg := parse(t, validYAML)
		m := cfg.Pipelines[0].Aggregation.Metrics["total_amount"]
		m.Operator = "median"
		cfg.Pipelines[0].Aggregation.Metrics["total_amount"] = m
		require.Error(t, cfg.Validate())
	})

	t.Run("missing dedup keys", func(t *testing.T) {
		cfg := parse(t, validYAML)
		cfg.Pipelines[0].DedupKeys = nil
		require.Error(t, cfg.Validate())
	})

	t.Run("invalid position kind", func(t *testing.T) {
		cfg := parse(t, validYAML)
		cfg.Sources[0].Postgres.PositionKind = "vector-clock"
		require.Error(t, cfg.Validate())
	})
}
