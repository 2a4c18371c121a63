package connector

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/edgeconnect/internal/readiness"
)

func TestBuiltinPresets(t *testing.T) {
	r, err := Builtin()
	require.NoError(t, err)

	want := []string{"angular", "astro", "docusaurus", "frontity", "gatsby", "gridsome", "next", "nuxt",
		"razzle", "remix", "sapper", "spartacus", "svelte-kit", "vite", "vue-cli"}
	assert.Equal(t, want, r.Names())

	for _, name := range want {
		c, err := r.Get(name)
		require.NoError(t, err, name)
		assert.NotEmpty(t, c.ReadyPatterns, name)
		assert.Equal(t, "default", c.Templates, name)
		require.NotNil(t, c.Resources, name)
	}
}

func TestGetUnknown(t *testing.T) {
	r, err := Builtin()
	require.NoError(t, err)

	_, err = r.Get("jekyll")
	assert.ErrorIs(t, err, ErrUnknown)
	assert.Contains(t, err.Error(), "gatsby")
}

func TestDevServerConfig(t *testing.T) {
	r, err := Builtin()
	require.NoError(t, err)
	c, err := r.Get("gatsby")
	require.NoError(t, err)

	cfg, err := c.DevServerConfig("/srv/site")
	require.NoError(t, err)

	assert.Equal(t, "Gatsby", cfg.Label)
	assert.Equal(t, "npx gatsby develop --port 8123 --host 127.0.0.1", cfg.Command(8123))
	assert.Equal(t, 3*time.Minute, cfg.Timeout)
	assert.Equal(t, 5*time.Second, cfg.GracePeriod)
	assert.Equal(t, []string{"PORT"}, cfg.PortEnv)
	assert.Equal(t, "/srv/site", cfg.Dir)
	assert.True(t, cfg.OutputFilter.ShouldSuppress("info Total nodes: 12"))
	assert.False(t, cfg.OutputFilter.ShouldSuppress("success Building development bundle - 2.1s"))
	assert.True(t, cfg.OutputFilter.ShouldSuppress("   "))
}

func TestBlankLinesSuppressedWithoutPatterns(t *testing.T) {
	c := &Connector{Name: "plain", Label: "Plain", Command: "serve --port {{.Port}}"}
	cfg, err := c.DevServerConfig(".")
	require.NoError(t, err)

	assert.True(t, cfg.OutputFilter.ShouldSuppress(""))
	assert.False(t, cfg.OutputFilter.ShouldSuppress("listening"))
}

func TestGatsbyReadinessScenario(t *testing.T) {
	r, err := Builtin()
	require.NoError(t, err)
	c, err := r.Get("gatsby")
	require.NoError(t, err)
	cfg, err := c.DevServerConfig("")
	require.NoError(t, err)

	m, err := readiness.NewMatcher(cfg.ReadyPatterns)
	require.NoError(t, err)

	matched := -1
	lines := []string{"starting...", "success Building development bundle - 2.1s"}
	for i, line := range lines {
		if m.Feed(line) == readiness.Matched {
			matched = i
		}
	}
	assert.Equal(t, 1, matched)
}

func TestManifestExpandsName(t *testing.T) {
	r, err := Builtin()
	require.NoError(t, err)
	c, err := r.Get("next")
	require.NoError(t, err)

	m, err := c.Manifest()
	require.NoError(t, err)
	assert.Equal(t, "edgeconnect dev next", m.Scripts["edge:dev"])

	// The registry copy stays templated.
	again, _ := r.Get("next")
	assert.Equal(t, "edgeconnect dev {{.Name}}", again.Resources.Scripts["edge:dev"])
}

func TestTemplateFSHasManifestSources(t *testing.T) {
	r, err := Builtin()
	require.NoError(t, err)
	c, err := r.Get("nuxt")
	require.NoError(t, err)

	tfs, err := c.TemplateFS()
	require.NoError(t, err)
	m, err := c.Manifest()
	require.NoError(t, err)
	for _, f := range m.Files {
		_, err := fs.Stat(tfs, f.Source)
		assert.NoError(t, err, f.Source)
	}

	c.Templates = "missing"
	_, err = c.TemplateFS()
	assert.Error(t, err)
}

func TestRebuild(t *testing.T) {
	r, err := Builtin()
	require.NoError(t, err)

	sapper, _ := r.Get("sapper")
	rb, err := sapper.Rebuild()
	require.NoError(t, err)
	assert.NotNil(t, rb)

	angular, _ := r.Get("angular")
	rb, err = angular.Rebuild()
	require.NoError(t, err)
	assert.Nil(t, rb)
}

func TestLoadMergesUserFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "connectors.yaml")
	require.NoError(t, os.WriteFile(path, []byte(ExampleConfig), 0644))

	r, err := Load(path)
	require.NoError(t, err)

	next, err := r.Get("next")
	require.NoError(t, err)
	assert.Equal(t, 3000, next.Port)
	assert.Equal(t, "Next.js", next.Label, "fields not overridden are kept")

	eleventy, err := r.Get("eleventy")
	require.NoError(t, err)
	cfg, err := eleventy.DevServerConfig("")
	require.NoError(t, err)
	assert.Equal(t, "npx @11ty/eleventy --serve --port=8080", cfg.Command(8080))
	assert.True(t, cfg.OutputFilter.ShouldSuppress("[11ty] Writing _site/index.html"))
	assert.NotNil(t, eleventy.Resources, "new connectors get default resources")
}

func TestLoadUserDefaultsReachPresets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "connectors.yaml")
	require.NoError(t, os.WriteFile(path, []byte("defaults:\n  timeout: \"45s\"\n"), 0644))

	r, err := Load(path)
	require.NoError(t, err)
	c, err := r.Get("vite")
	require.NoError(t, err)
	assert.Equal(t, "45s", c.Timeout)

	spartacus, err := r.Get("spartacus")
	require.NoError(t, err)
	assert.Equal(t, "6m", spartacus.Timeout)
}

func TestLoadWithoutPath(t *testing.T) {
	r, err := Load("")
	require.NoError(t, err)
	assert.Len(t, r.Connectors, 15)
}

func TestParseRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"no command":   "connectors:\n  - name: x\n",
		"bad pattern":  "connectors:\n  - name: x\n    command: run\n    ready_patterns: [\"(\"]\n",
		"bad timeout":  "connectors:\n  - name: x\n    command: run\n    timeout: soon\n",
		"bad template": "connectors:\n  - name: x\n    command: \"run {{.Port\"\n",
		"duplicate":    "connectors:\n  - name: x\n    command: a\n  - name: x\n    command: b\n",
		"escape":       "connectors:\n  - name: x\n    command: a\n    resources:\n      files:\n        - {source: a, dest: ../a}\n",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(data))
			assert.Error(t, err)
		})
	}
}

func TestUnknownTemplateFieldFailsEarly(t *testing.T) {
	r, err := Parse([]byte("connectors:\n  - name: x\n    command: \"run {{.Prt}}\"\n"))
	require.NoError(t, err)
	c, _ := r.Get("x")
	_, err = c.DevServerConfig("")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "Prt"))
}
