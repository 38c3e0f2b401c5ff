package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZerologLoggerMethods(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	l := NewZerologLogger("test")
	require.NotNil(t, l)
	l.Debugf("debug %d", 1)
	l.Debugw("debug", map[string]any{"k": 1})
	l.Infof("info %s", "test")
	l.Warnf("warn")
	l.Errorf("error")
}

func TestConfigureWritesRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evstation.log")
	closer, err := Configure(Options{Level: "warn", Path: path})
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = Configure(Options{Level: "debug"})
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	})

	l := New("routine")
	l.Infof("dropped")
	l.Warnf("kept %d", 7)
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"component":"routine"`)
	assert.Contains(t, string(data), "kept 7")
	assert.NotContains(t, string(data), "dropped")
}

func TestOptionsValidate(t *testing.T) {
	o := Options{Level: "loud"}
	o.SetDefaults()
	assert.Error(t, o.Validate())

	o = Options{}
	o.SetDefaults()
	assert.NoError(t, o.Validate())
	assert.Equal(t, "info", o.Level)
	assert.Equal(t, 50, o.MaxSizeMB)
}
