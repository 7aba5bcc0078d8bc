package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// SourceType enumerates the supported row source types.
type SourceType string

const (
	SourceTypePostgres SourceType = "postgres"
	SourceTypeKafka    SourceType = "kafka"
	SourceTypeMemory   SourceType = "memory"
)

// Config represents the top-level pipeline configuration.
type Config struct {
	Sources   []SourceSpec   `yaml:"sources" validate:"required,min=1,dive"`
	Pipelines []PipelineSpec `yaml:"pipelines" validate:"required,min=1,dive"`

	// Parallelism caps the number of extraction pairs running at once.
	Parallelism int `yaml:"parallelism,omitempty" validate:"omitempty,min=1"`
}

// SourceSpec is a generic wrapper for different source types.
type SourceSpec struct {
	Name       string          `yaml:"name" validate:"required"`
	SourceType SourceType      `yaml:"source_type" validate:"required,oneof=postgres kafka memory"`
	Postgres   *PostgresSource `yaml:"postgres,omitempty"`
	Kafka      *KafkaSource    `yaml:"kafka,omitempty"`

	// RateLimit is the maximum polls per second against this source.
	// Zero (or omitted) means no rate limiting.
	RateLimit float64 `yaml:"rate_limit,omitempty"`

	// RetryConfig defines how callers should retry transient source errors.
	RetryConfig *RetryConfig `yaml:"retry,omitempty"`
}

// PostgresSource defines parameters for polling a Postgres table's change
// stream.
type PostgresSource struct {
	Table string `yaml:"table" validate:"required"`

	// PositionColumn is the totally ordered change column: a sequence,
	// a modification timestamp, or a key cursor.
	PositionColumn string `yaml:"position_column" validate:"required"`
	PositionKind   string `yaml:"position_kind" validate:"required,oneof=sequence timestamp key"`

	KeyColumns []string `yaml:"key_columns" validate:"required,min=1"`

	// SoftDeleteColumn names a boolean column marking deleted rows, empty
	// when the source hard-deletes.
	SoftDeleteColumn string `yaml:"soft_delete_column,omitempty"`
}

// KafkaSource defines parameters for consuming a topic as a change stream.
// Partition offsets serve as sequence positions.
type KafkaSource struct {
	Brokers   []string `yaml:"brokers" validate:"required,min=1"`
	Topic     string   `yaml:"topic" validate:"required"`
	Partition int32    `yaml:"partition"`
	KeyField  string   `yaml:"key_field" validate:"required"`
}

// PipelineSpec wires one source through the layered tables.
type PipelineSpec struct {
	Name   string `yaml:"name" validate:"required"`
	Source string `yaml:"source" validate:"required"`

	// Table names per layer.
	BronzeTable string `yaml:"bronze_table" validate:"required"`
	SilverTable string `yaml:"silver_table" validate:"required"`
	GoldTable   string `yaml:"gold_table,omitempty"`

	// BatchSize caps rows pulled per extraction call.
	BatchSize int `yaml:"batch_size,omitempty" validate:"omitempty,min=1"`

	// DedupKeys is the column list used to collapse Bronze duplicates
	// during promotion to Silver.
	DedupKeys []string `yaml:"dedup_keys" validate:"required,min=1"`

	// Validations are the column rules applied during promotion; failing
	// rows are quarantined.
	Validations []ValidationRule `yaml:"validations,omitempty" validate:"dive"`

	// Dimension configures versioned history tracking for this pipeline.
	Dimension *DimensionSpec `yaml:"dimension,omitempty"`

	// Aggregation configures the Gold refresh for this pipeline.
	Aggregation *AggregationSpec `yaml:"aggregation,omitempty"`
}

// ValidationRule is a declarative column-level check.
type ValidationRule struct {
	Column string `yaml:"column" validate:"required"`
	Rule   string `yaml:"rule" validate:"required,oneof=not_null non_negative non_empty"`
}

// DimensionSpec configures the versioning engine for a pipeline's dimension
// table.
type DimensionSpec struct {
	Table        string   `yaml:"table" validate:"required"`
	BusinessKeys []string `yaml:"business_keys" validate:"required,min=1"`

	// DeleteDetection is one of disabled, expire, error.
	DeleteDetection string `yaml:"delete_detection,omitempty" validate:"omitempty,oneof=disabled expire error"`

	// NullEquality is one of null_equals_absent, null_distinct_from_absent.
	NullEquality string `yaml:"null_equality,omitempty" validate:"omitempty,oneof=null_equals_absent null_distinct_from_absent"`
}

// AggregationSpec configures the Silver to Gold transition.
type AggregationSpec struct {
	GroupBy []string `yaml:"group_by" validate:"required,min=1"`

	// Metrics maps output column names to their aggregate definitions.
	Metrics map[string]MetricSpec `yaml:"metrics" validate:"required,min=1,dive"`
}

// MetricSpec defines one aggregate output column.
type MetricSpec struct {
	Column   string `yaml:"column" validate:"required"`
	Operator string `yaml:"operator" validate:"required,oneof=sum count count_distinct min max average"`
}

// RetryConfig defines basic retry behavior for transient failures.
type RetryConfig struct {
	// MaxAttempts is how many times to retry before giving up.
	MaxAttempts int `yaml:"max_attempts,omitempty"`

	// InitialWait is the initial backoff duration (e.g., 1s).
	InitialWait time.Duration `yaml:"initial_wait,omitempty"`

	// MaxWait is the upper bound for the backoff (e.g., 30s).
	MaxWait time.Duration `yaml:"max_wait,omitempty"`
}

// Validate checks structural constraints plus the cross references a struct
// tag cannot express: every pipeline must name a defined source, and each
// source spec must carry the block matching its type.
func (c *Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	sources := make(map[string]SourceSpec, len(c.Sources))
	for _, src := range c.Sources {
		if _, dup := sources[src.Name]; dup {
			return fmt.Errorf("duplicate source name: %s", src.Name)
		}
		switch src.SourceType {
		case SourceTypePostgres:
			if src.Postgres == nil {
				return fmt.Errorf("source %s: postgres block required", src.Name)
			}
		case SourceTypeKafka:
			if src.Kafka == nil {
				return fmt.Errorf("source %s: kafka block required", src.Name)
			}
		}
		sources[src.Name] = src
	}

	for _, p := range c.Pipelines {
		if _, ok := sources[p.Source]; !ok {
			return fmt.Errorf("pipeline %s references unknown source %s", p.Name, p.Source)
		}
		if p.Aggregation != nil && p.GoldTable == "" {
			return fmt.Errorf("pipeline %s declares an aggregation but no gold table", p.Name)
		}
	}

	return nil
}
