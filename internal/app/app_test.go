package app_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/fetchcore/internal/app"
	"github.com/JakeFAU/fetchcore/internal/config"
	"github.com/JakeFAU/fetchcore/internal/crawler"
)

func testConfig() config.Config {
	return config.Config{
		Fetcher: config.FetcherConfig{RedirectLimit: 5, MaxRetries: 1},
		Worker:  config.WorkerConfig{Count: 2, HostRPS: 1000, HostBurst: 10},
		Queue:   config.QueueConfig{Depth: 8},
		Output:  config.OutputConfig{Path: "-"},
	}
}

func TestAppRunsJobsThroughSinks(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "hello")
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.Storage.LocalDir = t.TempDir()

	var out bytes.Buffer
	a, err := app.NewApp(context.Background(), cfg, zap.NewNop(), &out)
	require.NoError(t, err)
	defer a.Close()

	ctx := context.Background()
	a.StartDrain(ctx)
	for _, p := range []string{"/one", "/two", "/three"} {
		require.NoError(t, a.Jobs().Enqueue(ctx, crawler.Job{URL: srv.URL + p}))
	}
	for range cfg.Worker.Count {
		a.Dispatcher().Spawn(ctx)
	}
	require.NoError(t, a.Dispatcher().Shutdown(ctx))
	a.Dispatcher().Wait()
	a.Finish()

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Len(t, lines, 3)

	hosts, err := os.ReadDir(cfg.Storage.LocalDir)
	require.NoError(t, err)
	require.Len(t, hosts, 1)
	bodies, err := os.ReadDir(filepath.Join(cfg.Storage.LocalDir, hosts[0].Name()))
	require.NoError(t, err)
	assert.Len(t, bodies, 1)
}

func TestAppOutputFile(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Output.Path = filepath.Join(t.TempDir(), "pages.jsonl")
	a, err := app.NewApp(context.Background(), cfg, nil, io.Discard)
	require.NoError(t, err)
	a.Finish()
	a.Close()

	_, err = os.Stat(cfg.Output.Path)
	assert.NoError(t, err)
}

func TestAppRejectsBadStorage(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	cfg := testConfig()
	cfg.Storage.LocalDir = file
	_, err := app.NewApp(context.Background(), cfg, zap.NewNop(), io.Discard)
	assert.Error(t, err)
}
