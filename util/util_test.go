package util

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

var configKeys = []string{
	"PORT", "LOG_LEVEL", "LOG_FORMAT", "PROVIDER", "ALPACA_API_KEY", "ALPACA_SECRET_KEY", "DB_PATH",
	"RISK_FREE_RATE", "DIVIDEND_YIELD", "API_KEY_HASH", "WORKERS", "CACHE_SIZE", "FIT_TIMEOUT", "RHO_MODE",
}

// clearEnv unsets the config variables for the test and restores them after.
func clearEnv(t *testing.T) {
	for _, k := range configKeys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	require.Equal(t, "8080", cfg.Port)
	require.Equal(t, "synthetic", cfg.Provider)
	require.Equal(t, 4, cfg.Workers)
	require.Equal(t, 64, cfg.CacheSize)
	require.Equal(t, 2*time.Minute, cfg.FitTimeout)
	require.Equal(t, "global", cfg.RhoMode)
	require.Zero(t, cfg.Rate)
}

func TestLoadConfigFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), ".env")
	content := "PORT=9090\nPROVIDER=alpaca\nALPACA_API_KEY=key\nALPACA_SECRET_KEY=secret\nRISK_FREE_RATE=0.045\nWORKERS=8\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	t.Setenv("WORKERS", "2")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "9090", cfg.Port)
	require.Equal(t, "alpaca", cfg.Provider)
	require.Equal(t, "key", cfg.AlpacaKey)
	require.Equal(t, 0.045, cfg.Rate)
	// the environment wins over the file
	require.Equal(t, 2, cfg.Workers)
}

func TestLoadConfigErrors(t *testing.T) {
	testCases := []struct {
		name string
		env  map[string]string
	}{
		{name: "BadRate", env: map[string]string{"RISK_FREE_RATE": "abc"}},
		{name: "BadWorkers", env: map[string]string{"WORKERS": "1.5"}},
		{name: "BadFitTimeout", env: map[string]string{"FIT_TIMEOUT": "soon"}},
		{name: "UnknownProvider", env: map[string]string{"PROVIDER": "bloomberg"}},
		{name: "AlpacaWithoutKeys", env: map[string]string{"PROVIDER": "alpaca"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig("")
			require.Error(t, err)
		})
	}
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("debug", "json")
	require.NoError(t, err)
	require.Equal(t, logrus.DebugLevel, logger.GetLevel())
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	logger.WithField("symbol", "SPY").Info("fitted")
	require.Contains(t, buf.String(), `"symbol":"SPY"`)

	_, err = NewLogger("loud", "text")
	require.Error(t, err)
	_, err = NewLogger("info", "xml")
	require.Error(t, err)
}

func TestProgressBar(t *testing.T) {
	var buf bytes.Buffer
	bar := ProgressBar(3, "calibrating", &buf)
	for i := 0; i < 3; i++ {
		require.NoError(t, bar.Add(1))
	}
	require.NoError(t, bar.Finish())
}
