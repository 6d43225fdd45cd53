package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", "server:\n  port: 9090\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "cv_extraction", cfg.Queue.ExtractionQueue)
	assert.Equal(t, "cv_analysis", cfg.Queue.AnalysisQueue)
	assert.Equal(t, 3, cfg.Queue.ExtractionConcurrency)
	assert.Equal(t, 2, cfg.Queue.AnalysisConcurrency)
	assert.Equal(t, 3, cfg.Queue.Attempts)
	assert.Equal(t, 2*time.Second, cfg.Queue.BackoffDelay())
	assert.Equal(t, 10, cfg.Queue.KeepCompleted)
	assert.Equal(t, 50, cfg.Queue.KeepFailed)
	assert.Equal(t, 24*time.Hour, cfg.Queue.CompletedTTL())
	assert.Equal(t, 7*24*time.Hour, cfg.Queue.FailedTTL())
	assert.Equal(t, 2000, cfg.Scoring.MaxOutputTokens)
	assert.Equal(t, []string{"application/pdf"}, cfg.Upload.AllowedMimeTypes)
}

func TestLoad_PrefersLocalConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", "queue:\n  attempts: 3\n")
	writeConfig(t, dir, "config.local.yaml", "queue:\n  attempts: 5\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Queue.Attempts)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestUploadConfig_IsAllowedMimeType(t *testing.T) {
	u := UploadConfig{AllowedMimeTypes: []string{"application/pdf", "text/plain"}}

	tests := []struct {
		mime string
		want bool
	}{
		{"application/pdf", true},
		{"APPLICATION/PDF", true},
		{" text/plain ", true},
		{"image/png", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.mime, func(t *testing.T) {
			assert.Equal(t, tt.want, u.IsAllowedMimeType(tt.mime))
		})
	}
}
