// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads medic's settings.
//
// Settings come from, in increasing precedence: built-in defaults, the
// YAML settings file (.medic.yaml in the project root, or --config), a
// .env file in the project root, the process environment, and finally
// command-line flags applied by the caller. API credentials never stay in
// plain strings: they are sealed in memguard enclaves as soon as they are
// read and opened only when a cloud client is built.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/awnumar/memguard"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// FileName is the settings file looked up in the project root.
	FileName = ".medic.yaml"

	// DotEnvName is the environment file looked up in the project root.
	DotEnvName = ".env"

	DefaultMaxAttempts    = 3
	DefaultContextWindow  = 10
	DefaultBackendTimeout = 2 * time.Minute
	DefaultPython         = "python3"
	DefaultLogDir         = "~/.medic/logs"
	DefaultLogLevel       = "info"
)

// ErrInvalidConfig is matched by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

var validate = validator.New()

// Config is the resolved, non-secret settings.
type Config struct {
	// BackendHost is the Ollama endpoint.
	BackendHost string `yaml:"backend_host" validate:"omitempty,url"`

	// BackendModel is the local model.
	BackendModel string `yaml:"backend_model"`

	OpenAIModel string `yaml:"openai_model,omitempty"`
	GeminiModel string `yaml:"gemini_model,omitempty"`

	// Backend is the selection mode or backend ID.
	Backend string `yaml:"backend" validate:"omitempty,oneof=auto local cloud ollama openai gemini"`

	MaxAttempts       int           `yaml:"max_attempts" validate:"gte=1,lte=20"`
	ContextWindowSize int           `yaml:"context_window_size" validate:"gte=1,lte=500"`
	RunTimeout        time.Duration `yaml:"run_timeout" validate:"gte=0"`
	BackendTimeout    time.Duration `yaml:"backend_timeout" validate:"gte=0"`

	// Python runs "file.py" shorthand commands.
	Python string `yaml:"python" validate:"required"`

	// BackupDir defaults to <root>/.medic/backups.
	BackupDir string `yaml:"backup_dir,omitempty"`

	// LogDir holds the journal and the log file.
	LogDir   string `yaml:"log_dir" validate:"required"`
	LogLevel string `yaml:"log_level" validate:"oneof=debug info warn warning error"`

	// MetricsTextfile, when set, receives the session's metrics in the
	// Prometheus text format.
	MetricsTextfile string `yaml:"metrics_textfile,omitempty"`

	// TraceFile, when set, receives the session's spans as JSON.
	TraceFile string `yaml:"trace_file,omitempty"`
}

// credentials is the secret part of the settings file.
type credentials struct {
	APICredential    string `yaml:"api_credential"`
	GeminiCredential string `yaml:"gemini_credential"`
}

// Settings are the loaded configuration plus sealed credentials.
type Settings struct {
	Config

	// Source is the settings file that was read, if any.
	Source string

	openAIKey *memguard.Enclave
	geminiKey *memguard.Enclave
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Backend:           "auto",
		MaxAttempts:       DefaultMaxAttempts,
		ContextWindowSize: DefaultContextWindow,
		BackendTimeout:    DefaultBackendTimeout,
		Python:            DefaultPython,
		LogDir:            DefaultLogDir,
		LogLevel:          DefaultLogLevel,
	}
}

// Options controls Load.
type Options struct {
	// Root is the project root. The default settings and .env files are
	// looked up there.
	Root string

	// Path is an explicit settings file. It must exist.
	Path string

	// LookupEnv replaces os.LookupEnv. Used by tests.
	LookupEnv func(key string) (string, bool)
}

// Load resolves settings.
//
// # Description
//
// Defaults are overlaid with the settings file, then with variables from
// the environment or the project's .env file. Process environment wins
// over .env, as with godotenv.Load, but the process environment is not
// modified. The result is validated.
//
// # Outputs
//
//   - *Settings: The resolved settings.
//   - error: Unreadable or malformed files, bad numeric variables, or a
//     validation failure matching ErrInvalidConfig.
func Load(opts Options) (*Settings, error) {
	s := &Settings{Config: Default()}

	path := opts.Path
	explicit := path != ""
	if !explicit {
		path = filepath.Join(opts.Root, FileName)
	}
	var creds credentials
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &s.Config); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &creds); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		s.Source = path
	case explicit || !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("reading settings %s: %w", path, err)
	}

	lookup, err := envLookup(opts)
	if err != nil {
		return nil, err
	}
	if err := s.applyEnv(lookup, &creds); err != nil {
		return nil, err
	}
	s.openAIKey = seal(creds.APICredential)
	s.geminiKey = seal(creds.GeminiCredential)

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// envLookup layers the process environment over the project's .env file.
func envLookup(opts Options) (func(string) (string, bool), error) {
	proc := opts.LookupEnv
	if proc == nil {
		proc = os.LookupEnv
	}
	dotenv, err := godotenv.Read(filepath.Join(opts.Root, DotEnvName))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading %s: %w", DotEnvName, err)
	}
	return func(key string) (string, bool) {
		if v, ok := proc(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}, nil
}

// applyEnv overlays environment variables. The first variable set in each
// group wins.
func (s *Settings) applyEnv(lookup func(string) (string, bool), creds *credentials) error {
	first := func(keys ...string) (string, bool) {
		for _, k := range keys {
			if v, ok := lookup(k); ok && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v), true
			}
		}
		return "", false
	}

	if v, ok := first("MEDIC_BACKEND_HOST", "OLLAMA_HOST"); ok {
		s.BackendHost = NormalizeHost(v)
	}
	if v, ok := first("MEDIC_MODEL", "OLLAMA_MODEL"); ok {
		s.BackendModel = v
	}
	if v, ok := first("OPENAI_API_KEY", "API_KEY"); ok {
		creds.APICredential = v
	}
	if v, ok := first("GEMINI_API_KEY"); ok {
		creds.GeminiCredential = v
	}
	for key, dst := range map[string]*int{
		"MEDIC_MAX_ATTEMPTS":   &s.MaxAttempts,
		"MEDIC_CONTEXT_WINDOW": &s.ContextWindowSize,
	} {
		v, ok := first(key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not a number", ErrInvalidConfig, key, v)
		}
		*dst = n
	}
	return nil
}

// NormalizeHost adds the http scheme to bare host:port values such as
// OLLAMA_HOST=localhost:11434.
func NormalizeHost(host string) string {
	host = strings.TrimSuffix(strings.TrimSpace(host), "/")
	if host != "" && !strings.Contains(host, "://") {
		host = "http://" + host
	}
	return host
}

// Validate checks the non-secret settings.
func (s *Settings) Validate() error {
	if err := validate.Struct(&s.Config); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, describe(fe))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// describe names the offending setting by its YAML key.
func describe(fe validator.FieldError) string {
	key := fe.Field()
	if f, ok := yamlKeys[fe.StructField()]; ok {
		key = f
	}
	switch fe.Tag() {
	case "required":
		return key + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %v", key, fe.Param(), fe.Value())
	case "url":
		return fmt.Sprintf("%s must be a URL, got %v", key, fe.Value())
	default:
		return fmt.Sprintf("%s must satisfy %s=%s, got %v", key, fe.Tag(), fe.Param(), fe.Value())
	}
}

var yamlKeys = map[string]string{
	"BackendHost":       "backend_host",
	"Backend":           "backend",
	"MaxAttempts":       "max_attempts",
	"ContextWindowSize": "context_window_size",
	"RunTimeout":        "run_timeout",
	"BackendTimeout":    "backend_timeout",
	"Python":            "python",
	"LogDir":            "log_dir",
	"LogLevel":          "log_level",
}

// =============================================================================
// Credentials
// =============================================================================

func seal(secret string) *memguard.Enclave {
	if secret == "" {
		return nil
	}
	return memguard.NewEnclave([]byte(secret))
}

func open(e *memguard.Enclave) (string, error) {
	if e == nil {
		return "", nil
	}
	buf, err := e.Open()
	if err != nil {
		return "", fmt.Errorf("opening credential enclave: %w", err)
	}
	defer buf.Destroy()
	return string(buf.Bytes()), nil
}

// HasOpenAIKey reports whether an OpenAI credential was configured.
func (s *Settings) HasOpenAIKey() bool { return s.openAIKey != nil }

// HasGeminiKey reports whether a Gemini credential was configured.
func (s *Settings) HasGeminiKey() bool { return s.geminiKey != nil }

// OpenAIKey opens the OpenAI credential. Empty when not configured.
func (s *Settings) OpenAIKey() (string, error) { return open(s.openAIKey) }

// GeminiKey opens the Gemini credential. Empty when not configured.
func (s *Settings) GeminiKey() (string, error) { return open(s.geminiKey) }

// =============================================================================
// Defaults file
// =============================================================================

// WriteDefault writes the built-in settings to path. An existing file is
// left alone and reported with os.ErrExist.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s: %w", path, os.ErrExist)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating settings directory: %w", err)
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("encoding default settings: %w", err)
	}
	header := []byte("# medic settings. Credentials may also be set here as\n" +
		"# api_credential and gemini_credential, but the environment is preferred.\n")
	return os.WriteFile(path, append(header, data...), 0644)
}
