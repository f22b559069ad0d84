// Package config loads daemon configuration from environment variables and
// job descriptions from declarative config files.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds the daemon configuration loaded from environment variables.
type Config struct {
	ListenAddr      string
	SinkURL         string
	DBPath          string
	LabelsPath      string
	CppcheckPath    string
	AnalysisTimeout time.Duration
}

// Load reads configuration from environment variables and returns a
// validated Config. All variables are optional: SCRAPERD_LISTEN_ADDR
// (0.0.0.0:8080), SCRAPERD_SINK_URL (http://localhost:8000),
// SCRAPERD_DB_PATH (scraperd.db), SCRAPERD_LABELS_CONFIG
// (labels_config.json), SCRAPERD_CPPCHECK_PATH (cppcheck),
// SCRAPERD_ANALYSIS_TIMEOUT (30s).
func Load() (*Config, error) {
	listenAddr := "0.0.0.0:8080"
	if v, ok := os.LookupEnv("SCRAPERD_LISTEN_ADDR"); ok {
		listenAddr = v
	}

	sinkURL := "http://localhost:8000"
	if v, ok := os.LookupEnv("SCRAPERD_SINK_URL"); ok {
		sinkURL = v
	}

	dbPath := "scraperd.db"
	if v, ok := os.LookupEnv("SCRAPERD_DB_PATH"); ok {
		dbPath = v
	}

	labelsPath := "labels_config.json"
	if v, ok := os.LookupEnv("SCRAPERD_LABELS_CONFIG"); ok {
		labelsPath = v
	}

	cppcheckPath := "cppcheck"
	if v, ok := os.LookupEnv("SCRAPERD_CPPCHECK_PATH"); ok {
		cppcheckPath = v
	}

	analysisTimeout := 30 * time.Second
	if v, ok := os.LookupEnv("SCRAPERD_ANALYSIS_TIMEOUT"); ok {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("SCRAPERD_ANALYSIS_TIMEOUT has invalid duration %q: %w", v, err)
		}
		analysisTimeout = parsed
	}

	return &Config{
		ListenAddr:      listenAddr,
		SinkURL:         sinkURL,
		DBPath:          dbPath,
		LabelsPath:      labelsPath,
		CppcheckPath:    cppcheckPath,
		AnalysisTimeout: analysisTimeout,
	}, nil
}

// DefaultScratchDir is the scratch root used when a job configures none.
func DefaultScratchDir() string {
	return filepath.Join(os.TempDir(), "scraperd")
}
