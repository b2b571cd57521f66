package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestLoadDefaults verifies defaults apply when no config file is given.
func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 12, cfg.Scrape.MaxWorkers)
	require.Equal(t, "out", cfg.Scrape.OutDir)
	require.Equal(t, "https://13f.info", cfg.Source.BaseURL)
	require.Equal(t, 20, cfg.HTTP.TimeoutSeconds)
	require.Len(t, cfg.Scrape.Letters, 27)
	require.Equal(t, "0", cfg.Scrape.Letters[26])
	require.Equal(t, filepath.Join("out", "filings.db"), cfg.DBPath())
}

// TestLoadFromFile confirms YAML values override defaults.
func TestLoadFromFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := []byte("scrape:\n  max_workers: 4\n  letters: [\"a\", \"b\"]\nhttp:\n  timeout_seconds: 5\n")
	require.NoError(t, os.WriteFile(path, yaml, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 4, cfg.Scrape.MaxWorkers)
	require.Equal(t, []string{"a", "b"}, cfg.Scrape.Letters)
	require.Equal(t, 5, cfg.HTTP.TimeoutSeconds)
}

// TestValidateRejectsBadValues exercises the validation rules.
func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)

	bad := cfg
	bad.Scrape.MaxWorkers = 0
	require.Error(t, bad.Validate())

	bad = cfg
	bad.Source.BaseURL = ""
	require.Error(t, bad.Validate())

	bad = cfg
	bad.Server.Enabled = true
	bad.Server.Port = 0
	require.Error(t, bad.Validate())
}

// TestParseLetters covers single letters, ranges and mixes.
func TestParseLetters(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{"a", "b", "c"}, ParseLetters("a,b,c"))
	require.Equal(t, []string{"a", "b", "c", "0"}, ParseLetters("a-c,0"))
	require.Equal(t, []string{"x"}, ParseLetters(" x "))
	require.Len(t, ParseLetters("a-z"), 26)
	require.Empty(t, ParseLetters(""))
}
