package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.chatvault/config.toml.
type Config struct {
	DefaultSession string   `toml:"default_session"`
	API            API      `toml:"api"`
	Ingest         Ingest   `toml:"ingest"`
	Backfill       Backfill `toml:"backfill"`
}

// API configures the read-only HTTP query surface.
type API struct {
	ListenAddr string `toml:"listen_addr"`
}

// Ingest configures the ingestion pipeline.
type Ingest struct {
	PreviewLength int `toml:"preview_length"`
}

// Backfill configures history import completion heuristics. Both
// timeouts are best-effort: the feed's batch cadence is unspecified
// upstream, so a slow-but-legitimate late batch can lose the race.
// Zero disables the corresponding heuristic.
type Backfill struct {
	IdleTimeoutSeconds int `toml:"idle_timeout_seconds"`
	MaxWaitSeconds     int `toml:"max_wait_seconds"`
	SubBatchSize       int `toml:"sub_batch_size"`
}

// Defaults returns the configuration used when no file exists.
func Defaults() *Config {
	return &Config{
		API:    API{ListenAddr: "127.0.0.1:8420"},
		Ingest: Ingest{PreviewLength: 100},
		Backfill: Backfill{
			IdleTimeoutSeconds: 90,
			MaxWaitSeconds:     1800,
			SubBatchSize:       100,
		},
	}
}

// Load reads config from the given path, filling unset fields with
// defaults. Returns an error if the file is missing or malformed.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if cfg.API.ListenAddr == "" {
		cfg.API.ListenAddr = Defaults().API.ListenAddr
	}
	if cfg.Ingest.PreviewLength <= 0 {
		cfg.Ingest.PreviewLength = Defaults().Ingest.PreviewLength
	}
	if cfg.Backfill.SubBatchSize <= 0 {
		cfg.Backfill.SubBatchSize = Defaults().Backfill.SubBatchSize
	}
	return cfg, nil
}

// LoadOrDefaults behaves like Load but substitutes defaults when the
// file does not exist.
func LoadOrDefaults(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Defaults(), nil
		}
		return nil, err
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
