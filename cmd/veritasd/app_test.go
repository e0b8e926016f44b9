package main

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/makr-code/VCC-Veritas-sub002/internal/config"
	"github.com/makr-code/VCC-Veritas-sub002/internal/logging"
	"github.com/makr-code/VCC-Veritas-sub002/internal/rag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMethod = `method_id: quick
name: Quick
phases:
  - phase_id: hypothesis
    phase_number: 1
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	methods := filepath.Join(dir, "methods")
	require.NoError(t, os.MkdirAll(methods, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(methods, "quick.yaml"), []byte(testMethod), 0o644))

	cfg := config.Default()
	cfg.RAG.Provider = "none"
	cfg.Methods.Dir = methods
	cfg.Methods.PromptsDir = filepath.Join(dir, "prompts")
	cfg.Methods.Default = "quick"
	return cfg
}

func TestNewApp(t *testing.T) {
	cfg := testConfig(t)
	cfg.Supervisor.Enabled = true
	cfg.Pipeline.ScrubQueries = true

	app, err := newApp(context.Background(), cfg, logging.NewNop())
	require.NoError(t, err)
	defer app.Close()

	assert.Nil(t, app.nc)
	assert.Equal(t, "quick", app.engine.DefaultMethod())

	o, err := app.engine.Orchestrator("")
	require.NoError(t, err)
	assert.NotNil(t, o)

	srv, err := app.httpServer(cfg)
	require.NoError(t, err)
	assert.NotNil(t, srv)

	ms, err := app.mcpServer(cfg, logging.NewNop())
	require.NoError(t, err)
	assert.NotNil(t, ms)
}

func TestNewApp_MissingDefaultMethodOnlyWarns(t *testing.T) {
	cfg := testConfig(t)
	cfg.Methods.Default = "missing"

	app, err := newApp(context.Background(), cfg, logging.NewNop())
	require.NoError(t, err)
	defer app.Close()

	_, err = app.engine.Orchestrator("")
	assert.Error(t, err)
}

// fakeEmbed returns a unit vector that varies with the text length.
func fakeEmbed(_ context.Context, text string) ([]float32, error) {
	angle := float64(len(text)%90) * math.Pi / 180
	return []float32{float32(math.Cos(angle)), float32(math.Sin(angle))}, nil
}

func TestSeed(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "optics.md"),
		[]byte("Rayleigh scattering favours short wavelengths.\n\nSunsets look red."), 0o644))

	store, err := rag.NewStore(config.ChromemConfig{}, 3, fakeEmbed, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, seed(ctx, store, dir, logging.NewNop()))
	assert.Equal(t, 2, store.Count())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "more.txt"), []byte("Extra passage."), 0o644))
	require.NoError(t, seed(ctx, store, dir, logging.NewNop()))
	assert.Equal(t, 2, store.Count(), "populated store is not reseeded")
}

func TestSeed_MissingDir(t *testing.T) {
	store, err := rag.NewStore(config.ChromemConfig{}, 3, fakeEmbed, nil)
	require.NoError(t, err)

	err = seed(context.Background(), store, filepath.Join(t.TempDir(), "absent"), logging.NewNop())
	assert.Error(t, err)
}
