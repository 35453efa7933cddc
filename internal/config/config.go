// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads ingestord's configuration from environment
// variables with an optional YAML overlay, and hot-reloads the mutable
// subset when the overlay file changes on disk.
package config

import (
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Config is the full set of options from §6's environment
// configuration table. Fields tagged `yaml` double as the overlay file
// schema; environment variables (listed per-field below) take
// precedence at initial load, and the YAML overlay fills in anything
// the environment didn't set.
type Config struct {
	ListenAddr string `yaml:"listen_addr"` // INGESTOR_LISTEN_ADDR
	DatabaseDSN string `yaml:"database_dsn"` // INGESTOR_DATABASE_DSN
	FilesDir   string `yaml:"files_dir"`    // INGESTOR_FILES_DIR

	LLMEndpoint string `yaml:"llm_endpoint"` // LLM_ENDPOINT
	LLMAPIKey   string `yaml:"llm_api_key"`  // LLM_API_KEY
	LLMModel    string `yaml:"llm_model"`    // LLM_MODEL

	MaxAttempts        int  `yaml:"max_attempts"`         // MAX_ATTEMPTS
	RequestDeadlineMS   int  `yaml:"request_deadline_ms"`  // REQUEST_DEADLINE_MS
	LLMConcurrency      int  `yaml:"llm_concurrency"`      // LLM_CONCURRENCY
	LLMRateLimitPerSec  float64 `yaml:"llm_rate_limit_per_sec"` // LLM_RATE_LIMIT_PER_SEC
	StrictExtraction    bool `yaml:"strict_extraction"`    // STRICT_EXTRACTION
	RequireExpectedTests bool `yaml:"require_expected_tests"` // REQUIRE_EXPECTED_TESTS
	RequirePatient      bool `yaml:"require_patient"`      // REQUIRE_PATIENT
	AllowReportDate     bool `yaml:"allow_report_date"`    // ALLOW_REPORT_DATE
	MinObservations     int  `yaml:"min_observations"`     // MIN_OBSERVATIONS

	MasterAPIKey string `yaml:"master_api_key"` // MASTER_API_KEY

	LogLevel string `yaml:"log_level"` // LOG_LEVEL

	OTLPEndpoint string `yaml:"otlp_endpoint"` // OTLP_ENDPOINT
	MetricsAddr  string `yaml:"metrics_addr"`  // METRICS_ADDR
}

func defaults() Config {
	return Config{
		ListenAddr:         ":8080",
		DatabaseDSN:        "",
		FilesDir:           "uploaded_files",
		LLMModel:           "gpt-4o",
		MaxAttempts:        3,
		RequestDeadlineMS:  120000,
		LLMConcurrency:     8,
		MinObservations:    3,
		LogLevel:           "info",
		MetricsAddr:        ":9090",
	}
}

// Load builds a Config from defaults, then an optional YAML overlay
// file, then the environment (which always wins, matching the pattern
// the rest of this codebase's ancestor uses for per-service env vars).
func Load(yamlPath string) (*Config, error) {
	cfg := defaults()

	if yamlPath != "" {
		raw, err := os.ReadFile(yamlPath)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", yamlPath, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", yamlPath, err)
		}
	}

	applyEnv(&cfg)
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	str(&cfg.ListenAddr, "INGESTOR_LISTEN_ADDR")
	str(&cfg.DatabaseDSN, "INGESTOR_DATABASE_DSN")
	str(&cfg.FilesDir, "INGESTOR_FILES_DIR")
	str(&cfg.LLMEndpoint, "LLM_ENDPOINT")
	str(&cfg.LLMAPIKey, "LLM_API_KEY")
	str(&cfg.LLMModel, "LLM_MODEL")
	intVar(&cfg.MaxAttempts, "MAX_ATTEMPTS")
	intVar(&cfg.RequestDeadlineMS, "REQUEST_DEADLINE_MS")
	intVar(&cfg.LLMConcurrency, "LLM_CONCURRENCY")
	floatVar(&cfg.LLMRateLimitPerSec, "LLM_RATE_LIMIT_PER_SEC")
	boolVar(&cfg.StrictExtraction, "STRICT_EXTRACTION")
	boolVar(&cfg.RequireExpectedTests, "REQUIRE_EXPECTED_TESTS")
	boolVar(&cfg.RequirePatient, "REQUIRE_PATIENT")
	boolVar(&cfg.AllowReportDate, "ALLOW_REPORT_DATE")
	intVar(&cfg.MinObservations, "MIN_OBSERVATIONS")
	str(&cfg.MasterAPIKey, "MASTER_API_KEY")
	str(&cfg.LogLevel, "LOG_LEVEL")
	str(&cfg.OTLPEndpoint, "OTLP_ENDPOINT")
	str(&cfg.MetricsAddr, "METRICS_ADDR")
}

func str(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func intVar(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func floatVar(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func boolVar(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// Watcher holds the live Config and reloads its mutable subset whenever
// the backing YAML file changes, matching the pack's fsnotify usage for
// config hot reload. The immutable subset (listen address, DB DSN,
// files directory, LLM endpoint addressing) is fixed at Load time and
// never touched by a reload.
type Watcher struct {
	mu   sync.RWMutex
	cur  Config
	path string
}

// NewWatcher starts watching path (if non-empty) for changes and
// returns a Watcher seeded with initial. The underlying file watcher
// lives as long as its event loop; Watcher has no Close method.
func NewWatcher(initial Config, path string) (*Watcher, error) {
	w := &Watcher{cur: initial, path: path}
	if path == "" {
		return w, nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("start config watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch config file %s: %w", path, err)
	}
	go w.loop(watcher)
	return w, nil
}

func (w *Watcher) loop(fw *fsnotify.Watcher) {
	defer fw.Close()
	for event := range fw.Events {
		if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			continue
		}
		reloaded, err := Load(w.path)
		if err != nil {
			continue // keep serving the last-known-good config
		}
		w.mu.Lock()
		w.cur.LogLevel = reloaded.LogLevel
		w.cur.StrictExtraction = reloaded.StrictExtraction
		w.cur.RequireExpectedTests = reloaded.RequireExpectedTests
		w.cur.RequirePatient = reloaded.RequirePatient
		w.cur.AllowReportDate = reloaded.AllowReportDate
		w.cur.MinObservations = reloaded.MinObservations
		w.cur.MaxAttempts = reloaded.MaxAttempts
		w.cur.LLMConcurrency = reloaded.LLMConcurrency
		w.mu.Unlock()
	}
}

// Current returns a copy of the live config.
func (w *Watcher) Current() Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cur
}
