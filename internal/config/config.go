package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

const (
	defaultHTTPListen       = ":8080"
	defaultHealthPath       = "/healthz"
	defaultReadyPath        = "/readyz"
	defaultIngestPath       = "/ingest"
	defaultWSPath           = "/ws"
	defaultMaxBodyBytes     = 1 << 20
	defaultEvaluateSec      = 30
	defaultSnapshotTTLSec   = 300
	defaultDeliveryWorkers  = 4
	defaultDeliveryQueue    = 256
	defaultNATSURL          = "nats://127.0.0.1:4222"
	defaultNATSSubject      = "zonealert.metrics"
	defaultNATSQueueGroup   = "zonealert-ingest"
	defaultAlertsBucket     = "alerts"
	defaultOpenIndexBucket  = "alerts_open"
	defaultShutdownGraceSec = 15

	// StateBackendMemory keeps alerts in process memory.
	StateBackendMemory = "memory"
	// StateBackendNATS persists alerts in JetStream KV buckets.
	StateBackendNATS = "nats"
)

// Config holds service runtime settings and seed alert rules.
// Params: TOML sections from file or merged directory snapshot.
// Returns: validated runtime configuration.
type Config struct {
	Service  ServiceConfig  `toml:"service"`
	Log      LogConfig      `toml:"log"`
	Ingest   IngestConfig   `toml:"ingest"`
	State    StateConfig    `toml:"state"`
	Delivery DeliveryConfig `toml:"delivery"`
	Rules    []AlertRule    `toml:"rules"`
}

// ServiceConfig keeps facility scope and evaluation cadence.
// Params: facility id, evaluation interval, and snapshot staleness bound.
// Returns: service-level runtime settings.
type ServiceConfig struct {
	FacilityID       string `toml:"facility_id"`
	EvaluateSec      int    `toml:"evaluate_sec"`
	SnapshotTTLSec   int    `toml:"snapshot_ttl_sec"`
	ShutdownGraceSec int    `toml:"shutdown_grace_sec"`
}

// LogConfig keeps console and file sink settings.
// Params: per-sink enabled/level/format/path fields.
// Returns: logging configuration.
type LogConfig struct {
	Console LogSinkConfig `toml:"console"`
	File    LogSinkConfig `toml:"file"`
}

// LogSinkConfig keeps one log sink settings.
// Params: enabled flag, level name, format, and file path.
// Returns: sink configuration.
type LogSinkConfig struct {
	Enabled bool   `toml:"enabled"`
	Level   string `toml:"level"`
	Format  string `toml:"format"`
	Path    string `toml:"path"`
}

// IngestConfig keeps metric snapshot ingest settings.
// Params: HTTP listener and optional NATS subscriber sections.
// Returns: ingest configuration.
type IngestConfig struct {
	HTTP HTTPIngestConfig `toml:"http"`
	NATS NATSIngestConfig `toml:"nats"`
}

// HTTPIngestConfig keeps HTTP server and ingest endpoint settings.
// Params: listen address, paths, and request body limit.
// Returns: HTTP ingest configuration.
type HTTPIngestConfig struct {
	Listen       string `toml:"listen"`
	IngestPath   string `toml:"ingest_path"`
	HealthPath   string `toml:"health_path"`
	ReadyPath    string `toml:"ready_path"`
	WSPath       string `toml:"ws_path"`
	MaxBodyBytes int64  `toml:"max_body_bytes"`
}

// NATSIngestConfig keeps NATS snapshot subscriber settings.
// Params: enabled flag, server URL, subject, and queue group.
// Returns: NATS ingest configuration.
type NATSIngestConfig struct {
	Enabled    bool   `toml:"enabled"`
	URL        string `toml:"url"`
	Subject    string `toml:"subject"`
	QueueGroup string `toml:"queue_group"`
}

// StateConfig selects and configures the alert state backend.
// Params: backend name and NATS KV settings.
// Returns: state backend configuration.
type StateConfig struct {
	Backend string          `toml:"backend"`
	NATS    NATSStateConfig `toml:"nats"`
}

// NATSStateConfig keeps JetStream KV bucket settings for alert persistence.
// Params: server URL, bucket names, and bucket creation policy.
// Returns: NATS state configuration.
type NATSStateConfig struct {
	URL                string `toml:"url"`
	AlertsBucket       string `toml:"alerts_bucket"`
	OpenIndexBucket    string `toml:"open_index_bucket"`
	AllowCreateBuckets bool   `toml:"allow_create_buckets"`
}

// DeliveryConfig keeps async notification pool settings.
// Params: worker count, queue depth, and backoff bounds.
// Returns: delivery engine configuration.
type DeliveryConfig struct {
	Workers          int `toml:"workers"`
	QueueDepth       int `toml:"queue_depth"`
	BackoffInitialMS int `toml:"backoff_initial_ms"`
	BackoffMaxMS     int `toml:"backoff_max_ms"`
}

// ConfigSource abstracts file or directory TOML config loading.
// Params: none.
// Returns: raw merged TOML payload for one snapshot.
type ConfigSource interface {
	Load() ([]byte, error)
	Describe() string
}

// fileSource loads one TOML file.
type fileSource struct {
	path string
}

func (s fileSource) Load() ([]byte, error) {
	return os.ReadFile(s.path)
}

func (s fileSource) Describe() string {
	return "file:" + s.path
}

// dirSource concatenates *.toml fragments in lexical order.
type dirSource struct {
	path string
}

func (s dirSource) Load() ([]byte, error) {
	entries, err := os.ReadDir(s.path)
	if err != nil {
		return nil, fmt.Errorf("read config dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".toml") {
			continue
		}
		names = append(names, entry.Name())
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("config dir %q has no *.toml fragments", s.path)
	}
	sort.Strings(names)

	var merged []byte
	for _, name := range names {
		fragment, err := os.ReadFile(filepath.Join(s.path, name))
		if err != nil {
			return nil, fmt.Errorf("read config fragment %q: %w", name, err)
		}
		merged = append(merged, fragment...)
		merged = append(merged, '\n')
	}
	return merged, nil
}

func (s dirSource) Describe() string {
	return "dir:" + s.path
}

// FromCLI selects config source from CLI flags.
// Params: file path and directory path (exactly one must be set).
// Returns: selected source or usage error.
func FromCLI(configFile, configDir string) (ConfigSource, error) {
	file := strings.TrimSpace(configFile)
	dir := strings.TrimSpace(configDir)
	switch {
	case file != "" && dir != "":
		return nil, errors.New("set either --config-file or --config-dir, not both")
	case file != "":
		return fileSource{path: file}, nil
	case dir != "":
		return dirSource{path: dir}, nil
	default:
		return nil, errors.New("one of --config-file or --config-dir is required")
	}
}

// LoadSnapshot loads, defaults, and validates one configuration snapshot.
// Params: config source.
// Returns: ready configuration or load/validation error.
func LoadSnapshot(source ConfigSource) (Config, error) {
	raw, err := source.Load()
	if err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", source.Describe(), err)
	}
	return Parse(raw)
}

// Parse decodes and validates a raw TOML payload.
// Params: raw TOML bytes.
// Returns: ready configuration or decode/validation error.
func Parse(raw []byte) (Config, error) {
	var cfg Config
	decoder := toml.NewDecoder(strings.NewReader(string(raw)))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyDefaults fills absent optional settings in place.
// Params: none.
// Returns: config mutated with default values.
func (c *Config) applyDefaults() {
	if c.Service.EvaluateSec <= 0 {
		c.Service.EvaluateSec = defaultEvaluateSec
	}
	if c.Service.SnapshotTTLSec <= 0 {
		c.Service.SnapshotTTLSec = defaultSnapshotTTLSec
	}
	if c.Service.ShutdownGraceSec <= 0 {
		c.Service.ShutdownGraceSec = defaultShutdownGraceSec
	}

	if !c.Log.Console.Enabled && !c.Log.File.Enabled {
		c.Log.Console.Enabled = true
	}
	if c.Log.Console.Level == "" {
		c.Log.Console.Level = "info"
	}
	if c.Log.Console.Format == "" {
		c.Log.Console.Format = "line"
	}
	if c.Log.File.Level == "" {
		c.Log.File.Level = "info"
	}
	if c.Log.File.Format == "" {
		c.Log.File.Format = "json"
	}

	if c.Ingest.HTTP.Listen == "" {
		c.Ingest.HTTP.Listen = defaultHTTPListen
	}
	if c.Ingest.HTTP.IngestPath == "" {
		c.Ingest.HTTP.IngestPath = defaultIngestPath
	}
	if c.Ingest.HTTP.HealthPath == "" {
		c.Ingest.HTTP.HealthPath = defaultHealthPath
	}
	if c.Ingest.HTTP.ReadyPath == "" {
		c.Ingest.HTTP.ReadyPath = defaultReadyPath
	}
	if c.Ingest.HTTP.WSPath == "" {
		c.Ingest.HTTP.WSPath = defaultWSPath
	}
	if c.Ingest.HTTP.MaxBodyBytes <= 0 {
		c.Ingest.HTTP.MaxBodyBytes = defaultMaxBodyBytes
	}
	if c.Ingest.NATS.URL == "" {
		c.Ingest.NATS.URL = defaultNATSURL
	}
	if c.Ingest.NATS.Subject == "" {
		c.Ingest.NATS.Subject = defaultNATSSubject
	}
	if c.Ingest.NATS.QueueGroup == "" {
		c.Ingest.NATS.QueueGroup = defaultNATSQueueGroup
	}

	if c.State.Backend == "" {
		c.State.Backend = StateBackendMemory
	}
	if c.State.NATS.URL == "" {
		c.State.NATS.URL = defaultNATSURL
	}
	if c.State.NATS.AlertsBucket == "" {
		c.State.NATS.AlertsBucket = defaultAlertsBucket
	}
	if c.State.NATS.OpenIndexBucket == "" {
		c.State.NATS.OpenIndexBucket = defaultOpenIndexBucket
	}

	if c.Delivery.Workers <= 0 {
		c.Delivery.Workers = defaultDeliveryWorkers
	}
	if c.Delivery.QueueDepth <= 0 {
		c.Delivery.QueueDepth = defaultDeliveryQueue
	}
	if c.Delivery.BackoffInitialMS <= 0 {
		c.Delivery.BackoffInitialMS = 500
	}
	if c.Delivery.BackoffMaxMS <= 0 {
		c.Delivery.BackoffMaxMS = 30_000
	}

	for index := range c.Rules {
		c.Rules[index].applyDefaults()
	}
}

// Validate checks cross-field configuration invariants.
// Params: none.
// Returns: first configuration error.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Service.FacilityID) == "" {
		return errors.New("service.facility_id is required")
	}
	if c.State.Backend != StateBackendMemory && c.State.Backend != StateBackendNATS {
		return fmt.Errorf("state.backend %q is not supported", c.State.Backend)
	}

	seen := make(map[string]struct{}, len(c.Rules))
	for index := range c.Rules {
		rule := &c.Rules[index]
		if err := ValidateRule(*rule); err != nil {
			return fmt.Errorf("rules[%d]: %w", index, err)
		}
		if _, duplicate := seen[rule.ID]; duplicate {
			return fmt.Errorf("rules[%d]: duplicate rule id %q", index, rule.ID)
		}
		seen[rule.ID] = struct{}{}
	}
	return nil
}
