package assetwatch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/edgeconnect/internal/report"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}

func testOptions(extra ...Option) []Option {
	return append([]Option{WithDebounce(20 * time.Millisecond), WithMetrics(report.NewMetrics())}, extra...)
}

func TestWatchInitialBuildAndRebuild(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "sw", "service-worker.js")
	dst := filepath.Join(dir, "dist", "service-worker.js")
	require.NoError(t, os.MkdirAll(filepath.Dir(src), 0755))
	writeFile(t, src, "v1")

	h, err := Watch(context.Background(), src, dst, CopyRebuild, testOptions()...)
	require.NoError(t, err)
	defer h.Stop()

	assert.Equal(t, "v1", readFile(t, dst), "initial build must complete before Watch returns")
	assert.Equal(t, 1, h.Rebuilds())
	assert.True(t, h.LastResult().OK())

	writeFile(t, src, "v2")
	require.Eventually(t, func() bool { return readFile(t, dst) == "v2" }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, "dist", filepath.Base(filepath.Dir(h.Dest())))
}

func TestWatchFailedInitialBuildKeepsWatching(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "sw.js")
	dst := filepath.Join(dir, "out.js")
	writeFile(t, src, "v1")

	var mu sync.Mutex
	var failures []*RebuildError
	calls := 0
	rebuild := func(ctx context.Context, source, dest string) ([]string, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			return nil, errors.New("syntax error")
		}
		return CopyRebuild(ctx, source, dest)
	}
	onError := func(e *RebuildError) {
		mu.Lock()
		failures = append(failures, e)
		mu.Unlock()
	}

	h, err := Watch(context.Background(), src, dst, rebuild, testOptions(WithOnError(onError))...)
	require.NoError(t, err)
	defer h.Stop()

	mu.Lock()
	require.Len(t, failures, 1)
	assert.Equal(t, 1, failures[0].Seq)
	assert.Equal(t, "initial", failures[0].Trigger)
	assert.EqualError(t, errors.Unwrap(failures[0]), "syntax error")
	mu.Unlock()
	assert.False(t, h.LastResult().OK())

	writeFile(t, src, "v2")
	require.Eventually(t, func() bool { return h.Rebuilds() == 2 }, 3*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return readFile(t, dst) == "v2" }, 3*time.Second, 10*time.Millisecond)
	assert.True(t, h.LastResult().OK())
}

func TestWatchFailedRebuildKeepsLastArtifact(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "sw.js")
	dst := filepath.Join(dir, "out.js")
	writeFile(t, src, "good")

	rebuild := func(ctx context.Context, source, dest string) ([]string, error) {
		if readFile(t, source) == "bad" {
			return nil, errors.New("compile failed")
		}
		return CopyRebuild(ctx, source, dest)
	}
	failed := make(chan struct{}, 1)
	h, err := Watch(context.Background(), src, dst, rebuild, testOptions(WithOnError(func(*RebuildError) {
		select {
		case failed <- struct{}{}:
		default:
		}
	}))...)
	require.NoError(t, err)
	defer h.Stop()

	writeFile(t, src, "bad")
	select {
	case <-failed:
	case <-time.After(3 * time.Second):
		t.Fatal("rebuild failure never reported")
	}
	assert.Equal(t, "good", readFile(t, dst))
}

func TestWatchPanicIsRebuildFailure(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "sw.js")
	writeFile(t, src, "x")

	var got *RebuildError
	h, err := Watch(context.Background(), src, filepath.Join(dir, "out.js"),
		func(context.Context, string, string) ([]string, error) { panic("boom") },
		testOptions(WithOnError(func(e *RebuildError) { got = e }))...)
	require.NoError(t, err)
	defer h.Stop()

	require.NotNil(t, got)
	assert.Contains(t, got.Error(), "rebuild panicked: boom")
}

func TestWatchFollowsDeclaredInputs(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "sw.js")
	lib := filepath.Join(dir, "lib", "cache.js")
	dst := filepath.Join(dir, "out.js")
	require.NoError(t, os.MkdirAll(filepath.Dir(lib), 0755))
	writeFile(t, src, "import './lib/cache.js'")
	writeFile(t, lib, "v1")

	rebuild := func(ctx context.Context, source, dest string) ([]string, error) {
		combined := readFile(t, source) + "\n" + readFile(t, lib)
		return []string{"lib/cache.js"}, os.WriteFile(dest, []byte(combined), 0644)
	}

	h, err := Watch(context.Background(), src, dst, rebuild, testOptions()...)
	require.NoError(t, err)
	defer h.Stop()

	writeFile(t, lib, "v2")
	require.Eventually(t, func() bool {
		return readFile(t, dst) == "import './lib/cache.js'\nv2"
	}, 3*time.Second, 10*time.Millisecond)
}

func TestWatchStopPreventsRebuilds(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "sw.js")
	writeFile(t, src, "v1")

	h, err := Watch(context.Background(), src, filepath.Join(dir, "out.js"), CopyRebuild, testOptions()...)
	require.NoError(t, err)

	require.NoError(t, h.Stop())
	assert.NoError(t, h.Stop(), "Stop is idempotent")

	writeFile(t, src, "v2")
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, h.Rebuilds())
}

func TestWatchRequiresRebuild(t *testing.T) {
	_, err := Watch(context.Background(), "a", "b", nil)
	assert.Error(t, err)
}

func TestCommandRebuild(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "it's sw.js")
	dst := filepath.Join(dir, "out.js")
	writeFile(t, src, "payload")

	rebuild, err := CommandRebuild(`cat {{quote .Source}} > {{quote .Dest}}`)
	require.NoError(t, err)

	_, err = rebuild(context.Background(), src, dst)
	require.NoError(t, err)
	assert.Equal(t, "payload", readFile(t, dst))
}

func TestCommandRebuildReportsOutput(t *testing.T) {
	rebuild, err := CommandRebuild(`echo "✘ [ERROR] Could not resolve" >&2; exit 1`)
	require.NoError(t, err)

	_, err = rebuild(context.Background(), "/tmp/in.js", "/tmp/out.js")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Could not resolve")
}

func TestCommandRebuildInvalidTemplate(t *testing.T) {
	_, err := CommandRebuild(`esbuild {{.Source`)
	assert.Error(t, err)
}
