package logging

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestInitWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "navigator.log")
	require.NoError(t, Init(Config{Level: "debug", Format: "json", OutputPath: path}))

	L().Debug("loaded tree", zap.Int("nodes", 3))
	SetLevel("warn")
	L().Info("suppressed")
	require.NoError(t, Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"loaded tree"`)
	assert.Contains(t, string(data), `"nodes":3`)
	assert.NotContains(t, string(data), "suppressed")
}

func TestContextLogger(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	ctx := NewContext(context.Background(), zap.New(core))
	ctx = WithFields(ctx, zap.String("action", "rename"))

	WithContext(ctx).Info("started")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "rename", entries[0].ContextMap()["action"])
}

func TestWithContextFallsBackToGlobal(t *testing.T) {
	assert.NotNil(t, WithContext(context.Background()))
}
