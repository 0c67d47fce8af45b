package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidSummarizerProviders lists known LLM provider names. Used by [Validate]
// to warn about unrecognised providers without rejecting them.
var ValidSummarizerProviders = []string{
	"openai", "anthropic", "gemini", "ollama", "mistral", "groq", "llamacpp",
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Audio
	if cfg.Audio.WindowLength < 0 {
		errs = append(errs, fmt.Errorf("audio.window_length %v must not be negative", cfg.Audio.WindowLength))
	}
	if cfg.Audio.Overlap < 0 {
		errs = append(errs, fmt.Errorf("audio.overlap %v must not be negative", cfg.Audio.Overlap))
	}
	if cfg.Audio.WindowLength > 0 && cfg.Audio.Overlap >= cfg.Audio.WindowLength {
		errs = append(errs, fmt.Errorf("audio.overlap %v must be shorter than audio.window_length %v", cfg.Audio.Overlap, cfg.Audio.WindowLength))
	}
	if cfg.Audio.SilenceThreshold < 0 {
		errs = append(errs, fmt.Errorf("audio.silence_threshold %d must not be negative", cfg.Audio.SilenceThreshold))
	}
	if cfg.Audio.DedupSimilarity != 0 && (cfg.Audio.DedupSimilarity <= 0 || cfg.Audio.DedupSimilarity > 1) {
		errs = append(errs, fmt.Errorf("audio.dedup_similarity %.2f is out of range (0, 1]", cfg.Audio.DedupSimilarity))
	}

	// Recognizer — backend cross-requirements.
	switch cfg.Recognizer.Backend {
	case "":
		errs = append(errs, errors.New("recognizer.backend is required; valid values: local, remote"))
	case BackendLocal:
		if cfg.Recognizer.ModelPath == "" {
			errs = append(errs, errors.New("recognizer.model_path is required when backend is local"))
		}
	case BackendRemote:
		if cfg.Recognizer.Endpoint == "" {
			errs = append(errs, errors.New("recognizer.endpoint is required when backend is remote"))
		}
	default:
		errs = append(errs, fmt.Errorf("recognizer.backend %q is invalid; valid values: local, remote", cfg.Recognizer.Backend))
	}
	if cfg.Recognizer.ResponseTimeout < 0 {
		errs = append(errs, fmt.Errorf("recognizer.response_timeout %v must not be negative", cfg.Recognizer.ResponseTimeout))
	}

	// Summarizer
	if cfg.Summarizer.Provider != "" {
		if !slices.Contains(ValidSummarizerProviders, cfg.Summarizer.Provider) {
			slog.Warn("unknown summarizer provider — may be a typo or third-party provider",
				"provider", cfg.Summarizer.Provider,
				"known", ValidSummarizerProviders,
			)
		}
		if cfg.Summarizer.Model == "" {
			errs = append(errs, errors.New("summarizer.model is required when summarizer.provider is set"))
		}
	} else {
		slog.Warn("no summarizer provider configured; summaries will use rule-based extraction only")
	}

	// Store
	if cfg.Store.PostgresDSN == "" {
		slog.Warn("store.postgres_dsn is empty; transcripts and archives will not survive a restart")
	}

	// Workers
	if cfg.Workers.MaxConcurrent < 0 {
		errs = append(errs, fmt.Errorf("workers.max_concurrent %d must not be negative", cfg.Workers.MaxConcurrent))
	}

	return errors.Join(errs...)
}
