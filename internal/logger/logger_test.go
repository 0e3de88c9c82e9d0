package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Relay/internal/config"
)

func TestSetup_WritesRotatingFile(t *testing.T) {
	prev := log.Logger
	t.Cleanup(func() {
		log.Logger = prev
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	})

	p := filepath.Join(t.TempDir(), "relay.log")
	closer, err := Setup(config.LogConfig{Level: "debug", Format: "json", File: p, MaxSize: 1})
	require.NoError(t, err)

	log.Debug().Str("module", "test").Msg("hello file")
	require.NoError(t, closer.Close())

	b, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"message":"hello file"`)
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())
}

func TestSetup_BadLevel(t *testing.T) {
	_, err := Setup(config.LogConfig{Level: "loud"})
	require.Error(t, err)
}
