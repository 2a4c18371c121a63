package bundler

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
	"github.com/tidwall/sjson"

	"github.com/psantana5/edgeconnect/internal/report"
	"github.com/psantana5/edgeconnect/pkg/logging"
)

// PackageFile is the script table merged by Apply.
const PackageFile = "package.json"

// Result lists what Apply did.
type Result struct {
	Copied       []string `json:"copied"`
	Skipped      []string `json:"skipped"`
	ScriptsAdded []string `json:"scripts_added"`
	ScriptsKept  []string `json:"scripts_kept"`
	DepsAdded    []string `json:"dependencies_added"`
	DepsKept     []string `json:"dependencies_kept"`
	// PackageWritten is true when package.json was created or rewritten.
	PackageWritten bool `json:"package_written"`
}

// Changed reports whether the project was modified.
func (r *Result) Changed() bool {
	return len(r.Copied) > 0 || r.PackageWritten
}

type options struct {
	logger  *logging.Logger
	metrics *report.Metrics
}

// Option configures Apply.
type Option func(*options)

func WithLogger(l *logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithMetrics(m *report.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// Apply copies every manifest file from templates into projectRoot unless the
// destination already exists, then adds missing scripts and dependencies to
// package.json. Existing files and keys are never changed, so Apply can be
// re-run after a partial failure.
func Apply(m *Manifest, templates fs.FS, projectRoot string, opts ...Option) (*Result, error) {
	o := options{logger: logging.Discard(), metrics: report.Global()}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger.WithComponent("bundler").WithField("project", projectRoot)

	if err := m.Validate(); err != nil {
		return nil, err
	}

	res := &Result{}
	defer func() {
		o.metrics.RecordBundle("copied", len(res.Copied))
		o.metrics.RecordBundle("skipped", len(res.Skipped))
		o.metrics.RecordBundle("script_added", len(res.ScriptsAdded)+len(res.DepsAdded))
		o.metrics.RecordBundle("script_kept", len(res.ScriptsKept)+len(res.DepsKept))
	}()

	for _, f := range m.Files {
		dest := filepath.Join(projectRoot, filepath.FromSlash(f.Dest))
		copied, err := copyIfAbsent(templates, path.Clean(filepath.ToSlash(f.Source)), dest)
		if err != nil {
			return res, err
		}
		if copied {
			logger.Info("Staged resource", map[string]interface{}{"dest": f.Dest})
			res.Copied = append(res.Copied, f.Dest)
		} else {
			logger.Debug("Resource exists, keeping it", map[string]interface{}{"dest": f.Dest})
			res.Skipped = append(res.Skipped, f.Dest)
		}
	}

	if len(m.Scripts) == 0 && len(m.Dependencies) == 0 {
		return res, nil
	}
	if err := mergePackage(filepath.Join(projectRoot, PackageFile), m, res); err != nil {
		return res, err
	}
	if res.PackageWritten {
		logger.Info("Updated package.json", map[string]interface{}{
			"scripts":      strings.Join(res.ScriptsAdded, ","),
			"dependencies": strings.Join(res.DepsAdded, ","),
		})
	}
	return res, nil
}

// copyIfAbsent creates dest with O_EXCL so an existing file, even one created
// concurrently, is never truncated.
func copyIfAbsent(templates fs.FS, source, dest string) (bool, error) {
	src, err := templates.Open(source)
	if err != nil {
		return false, &WriteError{Op: "read", Path: source, Err: err}
	}
	defer src.Close()

	mode := fs.FileMode(0644)
	if info, err := src.Stat(); err == nil && info.Mode().Perm()&0111 != 0 {
		mode = 0755
	}

	if _, err := os.Lstat(dest); err == nil {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return false, &WriteError{Op: "mkdir", Path: filepath.Dir(dest), Err: err}
	}

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, mode)
	if errors.Is(err, fs.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, &WriteError{Op: "create", Path: dest, Err: err}
	}

	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		os.Remove(dest)
		return false, &WriteError{Op: "write", Path: dest, Err: err}
	}
	if err := out.Close(); err != nil {
		os.Remove(dest)
		return false, &WriteError{Op: "write", Path: dest, Err: err}
	}
	return true, nil
}

func mergePackage(file string, m *Manifest, res *Result) error {
	data, err := os.ReadFile(file)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		data = []byte("{}")
	case err != nil:
		return &WriteError{Op: "read", Path: file, Err: err}
	case !gjson.ValidBytes(data):
		return fmt.Errorf("%s is not valid JSON", file)
	}

	changed := false
	merge := func(section string, entries map[string]string, added, kept *[]string) error {
		for _, name := range sortedKeys(entries) {
			key := section + "." + escapeKey(name)
			if gjson.GetBytes(data, key).Exists() {
				*kept = append(*kept, name)
				continue
			}
			updated, err := sjson.SetBytes(data, key, entries[name])
			if err != nil {
				return fmt.Errorf("failed to set %s.%s: %w", section, name, err)
			}
			data = updated
			changed = true
			*added = append(*added, name)
		}
		return nil
	}
	if err := merge("scripts", m.Scripts, &res.ScriptsAdded, &res.ScriptsKept); err != nil {
		return err
	}
	if err := merge("dependencies", m.Dependencies, &res.DepsAdded, &res.DepsKept); err != nil {
		return err
	}
	if !changed {
		return nil
	}

	data = pretty.PrettyOptions(data, &pretty.Options{Width: 80, Indent: "  "})
	if err := writeAtomic(file, data); err != nil {
		return err
	}
	res.PackageWritten = true
	return nil
}

func writeAtomic(file string, data []byte) error {
	mode := fs.FileMode(0644)
	if info, err := os.Stat(file); err == nil {
		mode = info.Mode().Perm()
	}
	tmp, err := os.CreateTemp(filepath.Dir(file), ".package.json.*")
	if err != nil {
		return &WriteError{Op: "create", Path: file, Err: err}
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return &WriteError{Op: "write", Path: file, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &WriteError{Op: "write", Path: file, Err: err}
	}
	if err := os.Chmod(tmp.Name(), mode); err != nil {
		return &WriteError{Op: "chmod", Path: file, Err: err}
	}
	if err := os.Rename(tmp.Name(), file); err != nil {
		return &WriteError{Op: "rename", Path: file, Err: err}
	}
	return nil
}

// escapeKey escapes gjson/sjson path syntax in a single key such as
// "@edge/core" or "edge:deploy".
func escapeKey(key string) string {
	var b strings.Builder
	for _, r := range key {
		if strings.ContainsRune(`\.*?|#@!=<>%:`, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
