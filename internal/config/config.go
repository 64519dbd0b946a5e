package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kailas-cloud/docsearch/internal/db"
	"github.com/kailas-cloud/docsearch/internal/domain"
	"github.com/kailas-cloud/docsearch/internal/domain/access"
	"github.com/kailas-cloud/docsearch/internal/domain/routing"
)

// Config holds the docsearch service configuration.
type Config struct {
	HTTP        HTTPConfig        `yaml:"http"`
	Database    DatabaseConfig    `yaml:"database"`
	Index       IndexConfig       `yaml:"index"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Extraction  ExtractionConfig  `yaml:"extraction"`
	ObjectStore ObjectStoreConfig `yaml:"objectstore"`
	Queue       QueueConfig       `yaml:"queue"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Search      SearchConfig      `yaml:"search"`
	Auth        AuthConfig        `yaml:"auth"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
	// DepartmentHeader carries the caller's department claim, set by the authorizer in front.
	DepartmentHeader string `yaml:"department_header"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int   `yaml:"port"`
	ReadTimeoutSec  int   `yaml:"read_timeout_sec"`
	WriteTimeoutSec int   `yaml:"write_timeout_sec"`
	ShutdownSec     int   `yaml:"shutdown_timeout_sec"`
	MaxUploadBytes  int64 `yaml:"max_upload_bytes"`
}

// DatabaseConfig holds key-value store connection settings.
type DatabaseConfig struct {
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// IndexConfig holds search index settings.
type IndexConfig struct {
	Backend          string `yaml:"backend"` // valkey (default), qdrant
	QdrantAddr       string `yaml:"qdrant_addr"`
	QdrantCollection string `yaml:"qdrant_collection"`
	HNSWM            int    `yaml:"hnsw_m"`
	HNSWEFConstruct  int    `yaml:"hnsw_ef_construction"`
	DistanceMetric   string `yaml:"distance_metric"`
	TimeoutSec       int    `yaml:"timeout_sec"`
}

// EmbeddingConfig holds embedding model settings.
type EmbeddingConfig struct {
	Provider            string `yaml:"provider"` // openai (default), inference
	APIKey              string `yaml:"api_key"`
	BaseURL             string `yaml:"base_url"`
	InferenceURL        string `yaml:"inference_url"`
	Model               string `yaml:"model"`
	Dimensions          int    `yaml:"dimensions"`
	DocumentInstruction string `yaml:"document_instruction"`
	QueryInstruction    string `yaml:"query_instruction"`
	TimeoutSec          int    `yaml:"timeout_sec"`
	CacheTTLSec         int    `yaml:"cache_ttl_sec"` // 0 disables the cache
}

// ExtractionConfig holds text extraction service settings.
type ExtractionConfig struct {
	URL        string  `yaml:"url"`
	APIKey     string  `yaml:"api_key"`
	TimeoutSec int     `yaml:"timeout_sec"`
	RatePerSec float64 `yaml:"rate_per_sec"`
	Burst      int     `yaml:"burst"`
	// TextField picks a form field to embed instead of the full text.
	TextField string `yaml:"text_field"`
	// LocalPlainText extracts .txt and text/plain objects in-process.
	LocalPlainText bool `yaml:"local_plaintext"`
}

// ObjectStoreConfig holds object store settings.
type ObjectStoreConfig struct {
	Path              string `yaml:"path"`
	InMemory          bool   `yaml:"in_memory"`
	RawBucket         string `yaml:"raw_bucket"`
	TransformedBucket string `yaml:"transformed_bucket"`
	DepartmentTag     string `yaml:"department_tag"`
	ReadTimeoutSec    int    `yaml:"read_timeout_sec"`
	WriteTimeoutSec   int    `yaml:"write_timeout_sec"`
}

// QueueConfig holds ingestion queue settings.
type QueueConfig struct {
	Driver               string `yaml:"driver"` // memory (default), jetstream
	URL                  string `yaml:"url"`
	Stream               string `yaml:"stream"`
	Subject              string `yaml:"subject"`
	Consumer             string `yaml:"consumer"`
	VisibilityTimeoutSec int    `yaml:"visibility_timeout_sec"`
	MaxDeliveries        int    `yaml:"max_deliveries"`
	MaxMalformedAttempts int    `yaml:"max_malformed_attempts"`
	QuotaBackoffSec      int    `yaml:"quota_backoff_sec"`
	QuotaBackoffMaxSec   int    `yaml:"quota_backoff_max_sec"`
}

// RouteConfig is one routing rule.
type RouteConfig struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
	Suffix string `yaml:"suffix"`
	Route  string `yaml:"route"`
}

// PipelineConfig holds trigger and index worker settings.
type PipelineConfig struct {
	IndexWorkers int `yaml:"index_workers"`
	IndexRetries int `yaml:"index_retries"`
	// Routes overrides the default table built from DepartmentPrefixes x AcceptedSuffixes.
	Routes             []RouteConfig `yaml:"routes"`
	DepartmentPrefixes []string      `yaml:"department_prefixes"`
	AcceptedSuffixes   []string      `yaml:"accepted_suffixes"`
}

// SearchConfig holds query-time settings.
type SearchConfig struct {
	AccessPolicy     string `yaml:"access_policy"` // filter (default), rerank, open
	RerankCandidates int    `yaml:"rerank_candidates"`
}

// Load reads configuration from a YAML file by environment name (local, dev, docker, prod).
// A .env file in the working directory, if present, is loaded into the environment first.
func Load(env string) (Config, error) {
	_ = godotenv.Load()

	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	vec := domain.DefaultVectorConfig()

	setDefault(&c.HTTP.ReadTimeoutSec, 10)
	setDefault(&c.HTTP.WriteTimeoutSec, 10)
	setDefault(&c.HTTP.ShutdownSec, 10)
	if c.HTTP.MaxUploadBytes <= 0 {
		c.HTTP.MaxUploadBytes = 10 << 20
	}
	setDefault(&c.Database.ReadinessTimeout, 10)

	if c.Index.Backend == "" {
		c.Index.Backend = "valkey"
	}
	if c.Index.QdrantCollection == "" {
		c.Index.QdrantCollection = "docsearch"
	}
	setDefault(&c.Index.HNSWM, vec.HNSWM)
	setDefault(&c.Index.HNSWEFConstruct, vec.HNSWEFConstruct)
	if c.Index.DistanceMetric == "" {
		c.Index.DistanceMetric = vec.DistanceMetric
	}
	setDefault(&c.Index.TimeoutSec, 5)

	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "openai"
	}
	if c.Embedding.Model == "" {
		c.Embedding.Model = vec.Model
	}
	setDefault(&c.Embedding.Dimensions, vec.Dimensions)
	setDefault(&c.Embedding.TimeoutSec, 10)

	setDefault(&c.Extraction.TimeoutSec, 10)
	setDefault(&c.Extraction.Burst, 1)

	if c.ObjectStore.RawBucket == "" {
		c.ObjectStore.RawBucket = "raw"
	}
	if c.ObjectStore.TransformedBucket == "" {
		c.ObjectStore.TransformedBucket = "transformed"
	}
	if c.ObjectStore.DepartmentTag == "" {
		c.ObjectStore.DepartmentTag = domain.DefaultDepartmentTag
	}
	setDefault(&c.ObjectStore.ReadTimeoutSec, 5)
	setDefault(&c.ObjectStore.WriteTimeoutSec, 5)

	if c.Queue.Driver == "" {
		c.Queue.Driver = "memory"
	}
	setDefault(&c.Queue.VisibilityTimeoutSec, 60)
	setDefault(&c.Queue.MaxDeliveries, 5)
	setDefault(&c.Queue.MaxMalformedAttempts, 3)
	setDefault(&c.Queue.QuotaBackoffSec, 2)
	setDefault(&c.Queue.QuotaBackoffMaxSec, 300)

	setDefault(&c.Pipeline.IndexWorkers, 4)
	setDefault(&c.Pipeline.IndexRetries, 3)
	if len(c.Pipeline.DepartmentPrefixes) == 0 {
		c.Pipeline.DepartmentPrefixes = []string{"sales/", "marketing/"}
	}
	if len(c.Pipeline.AcceptedSuffixes) == 0 {
		c.Pipeline.AcceptedSuffixes = []string{".txt", ".pdf", ".png"}
	}

	if c.Search.AccessPolicy == "" {
		c.Search.AccessPolicy = string(access.ModeFilter)
	}
	setDefault(&c.Search.RerankCandidates, 10)

	if c.Auth.DepartmentHeader == "" {
		c.Auth.DepartmentHeader = "X-Department"
	}
}

func setDefault(v *int, def int) {
	if *v <= 0 {
		*v = def
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}

	switch c.Index.Backend {
	case "valkey":
		if len(c.Database.Addrs) == 0 {
			return errors.New("database.addrs is required")
		}
	case "qdrant":
		if c.Index.QdrantAddr == "" {
			return errors.New("index.qdrant_addr is required for the qdrant backend")
		}
	default:
		return fmt.Errorf("index.backend must be \"valkey\" or \"qdrant\", got %q", c.Index.Backend)
	}

	switch c.Embedding.Provider {
	case "openai":
	case "inference":
		if c.Embedding.InferenceURL == "" {
			return errors.New("embedding.inference_url is required for the inference provider")
		}
	default:
		return fmt.Errorf("embedding.provider must be \"openai\" or \"inference\", got %q", c.Embedding.Provider)
	}

	if c.Extraction.URL == "" && !c.Extraction.LocalPlainText {
		return errors.New("extraction.url is required unless extraction.local_plaintext is set")
	}

	switch c.Queue.Driver {
	case "memory":
	case "jetstream":
		if c.Queue.URL == "" {
			return errors.New("queue.url is required for the jetstream driver")
		}
	default:
		return fmt.Errorf("queue.driver must be \"memory\" or \"jetstream\", got %q", c.Queue.Driver)
	}

	if budget := c.workBudgetSec(); c.Queue.VisibilityTimeoutSec <= budget {
		return fmt.Errorf(
			"queue.visibility_timeout_sec (%d) must exceed the worst-case processing time (%d)",
			c.Queue.VisibilityTimeoutSec, budget,
		)
	}

	if _, err := db.ParseDistance(c.Index.DistanceMetric); err != nil {
		return fmt.Errorf("index.distance_metric: %w", err)
	}
	if want, ok := domain.ModelDimensions(c.Embedding.Model); ok && c.Embedding.Dimensions != want {
		return fmt.Errorf("embedding.dimensions is %d but model %q produces %d",
			c.Embedding.Dimensions, c.Embedding.Model, want)
	}

	if c.ObjectStore.RawBucket == c.ObjectStore.TransformedBucket {
		return errors.New("objectstore.raw_bucket and objectstore.transformed_bucket must differ")
	}
	if !c.ObjectStore.InMemory && c.ObjectStore.Path == "" {
		return errors.New("objectstore.path is required unless objectstore.in_memory is set")
	}

	if _, err := access.ParseMode(c.Search.AccessPolicy); err != nil {
		return fmt.Errorf("search.access_policy: %w", err)
	}
	if _, err := c.RoutingTable(); err != nil {
		return fmt.Errorf("pipeline.routes: %w", err)
	}
	return nil
}

// workBudgetSec is the longest a message can stay hidden while one delivery is processed:
// the source read, the wait for an extraction token, extraction, embedding and the artifact write.
func (c *Config) workBudgetSec() int {
	budget := c.ObjectStore.ReadTimeoutSec + c.Extraction.TimeoutSec +
		c.Embedding.TimeoutSec + c.ObjectStore.WriteTimeoutSec
	if c.Extraction.RatePerSec > 0 {
		budget += int(math.Ceil(1 / c.Extraction.RatePerSec))
	}
	return budget
}

// RoutingTable builds the routing table from explicit routes, or from the department
// prefixes and accepted suffixes when none are given.
func (c *Config) RoutingTable() (*routing.Table, error) {
	if len(c.Pipeline.Routes) == 0 {
		return routing.NewTable(routing.DefaultRules(
			c.ObjectStore.RawBucket, c.ObjectStore.TransformedBucket,
			c.Pipeline.DepartmentPrefixes, c.Pipeline.AcceptedSuffixes, domain.ArtifactSuffix,
		))
	}
	rules := make([]routing.Rule, 0, len(c.Pipeline.Routes))
	for _, r := range c.Pipeline.Routes {
		rules = append(rules, routing.Rule{
			Bucket: r.Bucket, Prefix: r.Prefix, Suffix: r.Suffix, Route: routing.Route(r.Route),
		})
	}
	return routing.NewTable(rules)
}

// VectorConfig returns the index vector settings.
func (c *Config) VectorConfig() domain.VectorConfig {
	v := domain.DefaultVectorConfig()
	v.Model = c.Embedding.Model
	v.Dimensions = c.Embedding.Dimensions
	v.DistanceMetric = c.Index.DistanceMetric
	v.HNSWM = c.Index.HNSWM
	v.HNSWEFConstruct = c.Index.HNSWEFConstruct
	v.DocumentInstruction = c.Embedding.DocumentInstruction
	v.QueryInstruction = c.Embedding.QueryInstruction
	return v
}

// Seconds converts a whole-second setting to a duration.
func Seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
