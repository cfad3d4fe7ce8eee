// Package config is the typed configuration surface for the
// entity-resolution pipeline: process-level settings (ports, DSNs, Kafka
// brokers) loaded from the environment in the teacher's env-tag idiom,
// composed with a nested, declarative domain configuration (field
// descriptors, blocking, thresholds, trust, survivorship) loaded from a
// file and validated at startup. Unknown domain options or missing
// required fields fail fast, never silently default.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/Gobusters/ectoenv"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/ns-3e/OpenMatch/pkg/blocking"
	"github.com/ns-3e/OpenMatch/pkg/comparators"
	"github.com/ns-3e/OpenMatch/pkg/matchengine"
	"github.com/ns-3e/OpenMatch/pkg/survivorship"
	"github.com/ns-3e/OpenMatch/pkg/trust"
)

// Process holds process-level settings: ports, connection strings, broker
// lists — the kind of thing that varies per deployment, not per domain.
type Process struct {
	AppName          string `env:"APP_NAME" env-default:"openmatch"`
	LogLevel         string `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs       bool   `env:"PRETTY_LOGS" env-default:"false"`
	Port             int    `env:"PORT" env-default:"8080"`
	MetricsNamespace string `env:"METRICS_NAMESPACE" env-default:"openmatch"`

	DatabaseDriver              string        `env:"DB_DRIVER" env-default:"postgres"`
	DatabaseHost                string        `env:"DB_HOST" env-default:"localhost"`
	DatabasePort                string        `env:"DB_PORT" env-default:"5432"`
	DatabaseUserName            string        `env:"DB_USER_NAME" env-default:""`
	DatabasePassword            string        `env:"DB_PASSWORD" env-default:""`
	DatabaseName                string        `env:"DB_NAME" env-default:"openmatch"`
	DatabaseSSLMode              string        `env:"DB_SSL_MODE" env-default:"disable"`
	DatabaseMaxOpenConns        int           `env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	DatabaseMaxIdleConns        int           `env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	DatabaseConnMaxLifetime     time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"10s"`
	DatabaseMigrationFolderPath string        `env:"DB_MIGRATION_FOLDER_PATH" env-default:"db/migrations"`

	GraphDBHost     string `env:"GRAPH_DB_HOST" env-default:"localhost"`
	GraphDBPort     int    `env:"GRAPH_DB_PORT" env-default:"7687"`
	GraphDBUser     string `env:"GRAPH_DB_USER" env-default:""`
	GraphDBPassword string `env:"GRAPH_DB_PASSWORD" env-default:""`

	KafkaBrokers       []string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	KafkaInputTopic    string   `env:"KAFKA_INPUT_TOPIC" env-default:"openmatch-records"`
	KafkaConsumerGroup string   `env:"KAFKA_CONSUMER_GROUP" env-default:"openmatch-consumer"`
	KafkaAuditTopic    string   `env:"KAFKA_AUDIT_TOPIC" env-default:"openmatch-merge-events"`

	Workers          int `env:"PIPELINE_WORKERS" env-default:"8"`
	MaxBatchesPerRun int `env:"PIPELINE_MAX_BATCHES_PER_RUN" env-default:"0"`

	DomainConfigPath string `env:"DOMAIN_CONFIG_PATH" env-default:"config/domain.json"`
}

// LoadProcess loads Process from the environment, first loading a .env
// file if one is present (a missing .env is not an error — it is the
// normal case in production, where env vars are injected directly).
func LoadProcess() (*Process, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: failed to load .env: %w", err)
	}

	var cfg Process
	if err := ectoenv.BindEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse environment: %w", err)
	}
	return &cfg, nil
}

// FieldConfig declaratively describes one field of the domain's record
// schema: whether it is required for ingestion, whether it participates
// in matching, and if so under what rule.
type FieldConfig struct {
	Name           string   `json:"name" validate:"required"`
	Required       bool     `json:"required"`
	ValidateTag    string   `json:"validate_tag,omitempty"`
	Match          *Rule    `json:"match,omitempty"`
	Survive        *string  `json:"survive,omitempty" validate:"omitempty,oneof=most_trusted most_recent trusted_source_priority most_frequent longest shortest weighted_average custom"`
	SourcePriority []string `json:"source_priority,omitempty"`
}

// Rule is the declarative form of matchengine.FieldRule (minus the
// Condition callback, which has no file-serializable representation and
// is wired programmatically by callers that need conditional gating).
type Rule struct {
	Comparator     string  `json:"comparator" validate:"required,oneof=exact fuzzy phonetic numeric date address vector"`
	Weight         float64 `json:"weight" validate:"required,gt=0"`
	NullPolicy     string  `json:"null_policy" validate:"omitempty,oneof=treat_as_mismatch skip treat_nulls_equal"`
	FuzzyThreshold float64 `json:"fuzzy_threshold,omitempty"`
	Phonetic       string  `json:"phonetic,omitempty" validate:"omitempty,oneof=soundex metaphone nysiis"`
	NumericTol     float64 `json:"numeric_tolerance,omitempty"`
	DateWindowDays int     `json:"date_window_days,omitempty"`
	CaseSensitive  bool    `json:"case_sensitive,omitempty"`
}

// Domain is the full declarative matching configuration: field
// descriptors plus blocking, aggregation, threshold, and trust settings.
// Unknown fields fail validation at startup rather than silently
// defaulting, per spec's configuration-error taxonomy.
type Domain struct {
	Fields      []FieldConfig `json:"fields" validate:"required,dive"`
	Aggregation string        `json:"aggregation" validate:"required,oneof=weighted_average min product max"`
	Thresholds  struct {
		Match  float64 `json:"match" validate:"required,gt=0,lte=1"`
		Review float64 `json:"review" validate:"gte=0,ltefield=Match"`
	} `json:"thresholds"`
	Blocking struct {
		Strategy     string   `json:"strategy" validate:"required,oneof=standard sorted_neighborhood lsh"`
		Keys         []string `json:"keys,omitempty"`
		WindowSize   int      `json:"window_size,omitempty"`
		SortKey      string   `json:"sort_key,omitempty"`
		TopK         int      `json:"top_k,omitempty"`
		VectorField  string   `json:"vector_field,omitempty"`
		MaxBlockSize int      `json:"max_block_size" validate:"required,gt=0"`
	} `json:"blocking"`
	Trust struct {
		Weights struct {
			SourceReliability float64 `json:"source_reliability"`
			Completeness      float64 `json:"completeness"`
			Timeliness        float64 `json:"timeliness"`
			Validity          float64 `json:"validity"`
		} `json:"weights"`
		SourceReliability  map[string]float64 `json:"source_reliability,omitempty"`
		DefaultReliability float64            `json:"default_reliability"`
		RequiredFields     []string           `json:"required_fields,omitempty"`
		HalfLifeDays       float64            `json:"half_life_days" validate:"required,gt=0"`
	} `json:"trust"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// LoadDomain reads and validates a Domain configuration file.
func LoadDomain(path string) (*Domain, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read domain config %q: %w", path, err)
	}
	defer f.Close()

	var d Domain
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&d); err != nil {
		return nil, fmt.Errorf("config: failed to parse domain config %q: %w", path, err)
	}

	if err := validate.Struct(&d); err != nil {
		return nil, fmt.Errorf("config: invalid domain config %q: %w", path, err)
	}

	return &d, nil
}

// MatchEngineConfig translates the declarative Domain into a
// matchengine.Config ready to build an Engine.
func (d *Domain) MatchEngineConfig() matchengine.Config {
	cfg := matchengine.Config{
		Aggregation: matchengine.Aggregation(d.Aggregation),
		Thresholds: matchengine.Thresholds{
			Match:  d.Thresholds.Match,
			Review: d.Thresholds.Review,
		},
		EnableCaching: true,
		CacheShards:   16,
		CacheCapacity: 4096,
	}

	for _, f := range d.Fields {
		if f.Match == nil {
			continue
		}
		rule := matchengine.FieldRule{
			Field:          f.Name,
			Comparator:     matchengine.ComparatorType(f.Match.Comparator),
			Weight:         f.Match.Weight,
			NullPolicy:     matchengine.NullPolicy(f.Match.NullPolicy),
			NumericTol:     f.Match.NumericTol,
			DateWindowDays: f.Match.DateWindowDays,
			CaseSensitive:  f.Match.CaseSensitive,
		}
		if f.Match.Phonetic != "" {
			rule.Phonetic = comparators.PhoneticAlgorithm(f.Match.Phonetic)
		}
		if f.Match.FuzzyThreshold > 0 {
			rule.FuzzyParams = comparators.FuzzyParams{
				Method:       comparators.FuzzyJaroWinkler,
				PrefixWeight: f.Match.FuzzyThreshold,
				MaxPrefix:    4,
			}
		}
		cfg.Fields = append(cfg.Fields, rule)
	}

	return cfg
}

// BlockingConfig translates the declarative Domain into a blocking.Config.
func (d *Domain) BlockingConfig() blocking.Config {
	return blocking.Config{
		Strategy:     blocking.Strategy(d.Blocking.Strategy),
		Keys:         d.Blocking.Keys,
		WindowSize:   d.Blocking.WindowSize,
		SortKey:      d.Blocking.SortKey,
		TopK:         d.Blocking.TopK,
		VectorField:  d.Blocking.VectorField,
		MaxBlockSize: d.Blocking.MaxBlockSize,
	}
}

// TrustConfig translates the declarative Domain into a trust.Config.
func (d *Domain) TrustConfig() trust.Config {
	return trust.Config{
		Weights: trust.ComponentWeights{
			SourceReliability: d.Trust.Weights.SourceReliability,
			Completeness:      d.Trust.Weights.Completeness,
			Timeliness:        d.Trust.Weights.Timeliness,
			Validity:          d.Trust.Weights.Validity,
		},
		SourceReliability:  d.Trust.SourceReliability,
		DefaultReliability: d.Trust.DefaultReliability,
		RequiredFields:     d.Trust.RequiredFields,
		HalfLifeDays:       d.Trust.HalfLifeDays,
	}
}

// SurvivorshipRules translates the declarative Domain into the
// survivorship.FieldRule slice the orchestrator expects.
func (d *Domain) SurvivorshipRules() []survivorship.FieldRule {
	var rules []survivorship.FieldRule
	for _, f := range d.Fields {
		if f.Survive == nil {
			continue
		}
		rules = append(rules, survivorship.FieldRule{
			Field:          f.Name,
			Strategy:       survivorship.Strategy(*f.Survive),
			SourcePriority: f.SourcePriority,
		})
	}
	return rules
}
