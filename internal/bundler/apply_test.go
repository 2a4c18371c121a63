package bundler

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/psantana5/edgeconnect/internal/report"
)

func templates() fstest.MapFS {
	return fstest.MapFS{
		"sw/service-worker.js": {Data: []byte("self.addEventListener('fetch', () => {})\n")},
		"routes.js":            {Data: []byte("module.exports = new Router()\n")},
		"bin/deploy.sh":        {Data: []byte("#!/bin/sh\n"), Mode: 0755},
	}
}

func manifest() *Manifest {
	return &Manifest{
		Files: []FileMapping{
			{Source: "sw/service-worker.js", Dest: "sw/service-worker.js"},
			{Source: "routes.js", Dest: "routes.js"},
		},
		Scripts: map[string]string{
			"edge:dev":    "edgeconnect dev",
			"edge:deploy": "edgeconnect deploy",
		},
		Dependencies: map[string]string{"@edge/core": "^1.0.0"},
	}
}

func apply(t *testing.T, m *Manifest, root string) *Result {
	t.Helper()
	res, err := Apply(m, templates(), root, WithMetrics(report.NewMetrics()))
	require.NoError(t, err)
	return res
}

func snapshot(t *testing.T, root string) map[string]string {
	t.Helper()
	files := map[string]string{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(root, path)
		files[rel] = string(data)
		return nil
	})
	require.NoError(t, err)
	return files
}

func TestApplyCopiesIntoEmptyProject(t *testing.T) {
	root := t.TempDir()
	res := apply(t, manifest(), root)

	assert.ElementsMatch(t, []string{"sw/service-worker.js", "routes.js"}, res.Copied)
	assert.Empty(t, res.Skipped)
	assert.True(t, res.PackageWritten)
	assert.True(t, res.Changed())

	data, err := os.ReadFile(filepath.Join(root, "sw", "service-worker.js"))
	require.NoError(t, err)
	assert.Equal(t, "self.addEventListener('fetch', () => {})\n", string(data))

	pkg, err := os.ReadFile(filepath.Join(root, PackageFile))
	require.NoError(t, err)
	assert.Equal(t, "edgeconnect dev", gjson.GetBytes(pkg, `scripts.edge:dev`).String())
	assert.Equal(t, "^1.0.0", gjson.GetBytes(pkg, `dependencies.\@edge/core`).String())
}

func TestApplyNeverOverwritesExistingFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sw"), 0755))
	custom := []byte("// my own worker\n")
	require.NoError(t, os.WriteFile(filepath.Join(root, "sw", "service-worker.js"), custom, 0644))

	res := apply(t, &Manifest{Files: []FileMapping{{Source: "sw/service-worker.js", Dest: "sw/service-worker.js"}}}, root)

	assert.Equal(t, []string{"sw/service-worker.js"}, res.Skipped)
	data, err := os.ReadFile(filepath.Join(root, "sw", "service-worker.js"))
	require.NoError(t, err)
	assert.Equal(t, custom, data)
	assert.False(t, res.Changed())
}

func TestApplyKeepsUserScripts(t *testing.T) {
	root := t.TempDir()
	original := `{"name":"site","scripts":{"edge:dev":"my custom dev"}}`
	require.NoError(t, os.WriteFile(filepath.Join(root, PackageFile), []byte(original), 0644))

	res := apply(t, manifest(), root)

	assert.Equal(t, []string{"edge:dev"}, res.ScriptsKept)
	assert.Equal(t, []string{"edge:deploy"}, res.ScriptsAdded)
	assert.Equal(t, []string{"@edge/core"}, res.DepsAdded)

	pkg, err := os.ReadFile(filepath.Join(root, PackageFile))
	require.NoError(t, err)
	assert.Equal(t, "my custom dev", gjson.GetBytes(pkg, "scripts.edge:dev").String())
	assert.Equal(t, "edgeconnect deploy", gjson.GetBytes(pkg, "scripts.edge:deploy").String())
	assert.Equal(t, "site", gjson.GetBytes(pkg, "name").String())
}

func TestApplyIsIdempotent(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, PackageFile), []byte(`{"name":"site"}`), 0644))

	apply(t, manifest(), root)
	first := snapshot(t, root)

	res := apply(t, manifest(), root)
	assert.Equal(t, first, snapshot(t, root))
	assert.False(t, res.Changed())
	assert.Len(t, res.Skipped, 2)
	assert.ElementsMatch(t, []string{"edge:dev", "edge:deploy"}, res.ScriptsKept)
}

func TestApplyLeavesPackageAloneWhenNothingToAdd(t *testing.T) {
	root := t.TempDir()
	original := `{"scripts":{"edge:dev":"a","edge:deploy":"b"},"dependencies":{"@edge/core":"2.0.0"}}`
	require.NoError(t, os.WriteFile(filepath.Join(root, PackageFile), []byte(original), 0644))

	m := manifest()
	m.Files = nil
	res := apply(t, m, root)

	data, err := os.ReadFile(filepath.Join(root, PackageFile))
	require.NoError(t, err)
	assert.Equal(t, original, string(data), "file must not be reformatted")
	assert.False(t, res.PackageWritten)
}

func TestApplyPreservesExecutableBit(t *testing.T) {
	root := t.TempDir()
	apply(t, &Manifest{Files: []FileMapping{{Source: "bin/deploy.sh", Dest: "bin/deploy.sh"}}}, root)

	info, err := os.Stat(filepath.Join(root, "bin", "deploy.sh"))
	require.NoError(t, err)
	assert.NotZero(t, info.Mode().Perm()&0100)
}

func TestApplyMissingTemplate(t *testing.T) {
	_, err := Apply(&Manifest{Files: []FileMapping{{Source: "nope.js", Dest: "nope.js"}}}, templates(), t.TempDir(),
		WithMetrics(report.NewMetrics()))

	var werr *WriteError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, "read", werr.Op)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestApplyReadOnlyProject(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission checks do not apply to root")
	}
	root := t.TempDir()
	require.NoError(t, os.Chmod(root, 0555))
	defer os.Chmod(root, 0755)

	_, err := Apply(manifest(), templates(), root, WithMetrics(report.NewMetrics()))
	require.Error(t, err)
	assert.True(t, errors.Is(err, fs.ErrPermission), "got %v", err)

	var werr *WriteError
	assert.ErrorAs(t, err, &werr)
}

func TestApplyRetryCompletesPartialRun(t *testing.T) {
	root := t.TempDir()
	m := manifest()
	m.Files = append(m.Files, FileMapping{Source: "missing.js", Dest: "missing.js"})

	res, err := Apply(m, templates(), root, WithMetrics(report.NewMetrics()))
	require.Error(t, err)
	assert.Len(t, res.Copied, 2)

	m.Files = m.Files[:2]
	res = apply(t, m, root)
	assert.Len(t, res.Skipped, 2)
	assert.True(t, res.PackageWritten)
}

func TestApplyRejectsInvalidJSON(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, PackageFile), []byte(`{"scripts":`), 0644))

	_, err := Apply(manifest(), templates(), root, WithMetrics(report.NewMetrics()))
	assert.Error(t, err)
}
