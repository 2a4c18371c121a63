package assetwatch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"
)

// RebuildFunc produces dest from source. It returns any extra files it read so
// the watcher can follow them too.
type RebuildFunc func(ctx context.Context, source, dest string) (inputs []string, err error)

// CopyRebuild copies source to dest verbatim. The copy goes through a temp
// file so dest always holds a complete artifact.
func CopyRebuild(ctx context.Context, source, dest string) ([]string, error) {
	in, err := os.Open(source)
	if err != nil {
		return nil, err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", filepath.Dir(dest), err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*")
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("failed to copy %s: %w", source, err)
	}
	if err := tmp.Close(); err != nil {
		return nil, err
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return nil, err
	}
	return nil, os.Rename(tmp.Name(), dest)
}

var commandFuncs = template.FuncMap{
	"quote": shellQuote,
}

// CommandRebuild runs an external bundler through sh -c. The template sees
// {{.Source}} and {{.Dest}}; {{quote .Source}} shell-quotes a value.
//
//	esbuild {{quote .Source}} --bundle --outfile={{quote .Dest}}
func CommandRebuild(command string) (RebuildFunc, error) {
	tmpl, err := template.New("rebuild").Funcs(commandFuncs).Option("missingkey=error").Parse(command)
	if err != nil {
		return nil, fmt.Errorf("invalid rebuild command %q: %w", command, err)
	}

	return func(ctx context.Context, source, dest string) ([]string, error) {
		var cmdline strings.Builder
		if err := tmpl.Execute(&cmdline, map[string]string{"Source": source, "Dest": dest}); err != nil {
			return nil, err
		}

		cmd := exec.CommandContext(ctx, "/bin/sh", "-c", cmdline.String())
		cmd.Dir = filepath.Dir(source)
		var out bytes.Buffer
		cmd.Stdout = &out
		cmd.Stderr = &out
		if err := cmd.Run(); err != nil {
			msg := strings.TrimSpace(out.String())
			if msg == "" {
				return nil, fmt.Errorf("%s: %w", cmdline.String(), err)
			}
			return nil, fmt.Errorf("%s: %w\n%s", cmdline.String(), err, msg)
		}
		return nil, nil
	}, nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
