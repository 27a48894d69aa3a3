package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charles-forsyth/director-agent/circuit"
)

func TestCommandContextSharesCircuitRegistry(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "director.toml")
	require.NoError(t, os.WriteFile(configPath, nil, 0o644))
	c := newCommandContext(&configPath)

	first, err := c.circuits()
	require.NoError(t, err)
	second, err := c.circuits()
	require.NoError(t, err)
	require.Same(t, first, second)

	// Breaker state opened during one run is visible to the next.
	first.For("video").Trip()
	require.ErrorIs(t, second.For("video").Allow(), circuit.ErrOpen)
	require.NoError(t, second.For("tts").Allow())
}
