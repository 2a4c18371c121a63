package cmd

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/psantana5/edgeconnect/internal/bundler"
	"github.com/psantana5/edgeconnect/internal/connector"
	"github.com/psantana5/edgeconnect/pkg/logging"
)

var (
	bundleDir       string
	bundleManifest  string
	bundleTemplates string
	bundleOutput    string
)

var bundleCmd = &cobra.Command{
	Use:   "bundle <connector>",
	Short: "Stage a connector's edge resources into the project",
	Long: `Copy the connector's default resources (routes, service worker, edge
config) into the project and add its scripts to package.json.

Files that already exist are left untouched and existing scripts are kept, so
running bundle again is always safe.

Example:
  edgeconnect bundle next
  edgeconnect bundle gatsby --dir ./site
  edgeconnect bundle vite --manifest edge.yaml --templates ./edge-templates`,
	Args: cobra.ExactArgs(1),
	RunE: runBundle,
}

func init() {
	rootCmd.AddCommand(bundleCmd)

	bundleCmd.Flags().StringVar(&bundleDir, "dir", ".", "project root")
	bundleCmd.Flags().StringVar(&bundleManifest, "manifest", "", "YAML manifest replacing the connector's resources")
	bundleCmd.Flags().StringVar(&bundleTemplates, "templates", "", "directory the manifest sources are read from (required with --manifest)")
	bundleCmd.Flags().StringVarP(&bundleOutput, "output", "o", "table", "output format: table, json, yaml")
}

func runBundle(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	defer logger.Close()
	reg, err := loadRegistry()
	if err != nil {
		return err
	}
	c, err := reg.Get(args[0])
	if err != nil {
		return err
	}

	res, err := applyResources(c, bundleDir, bundleManifest, bundleTemplates, logger)
	if res == nil {
		return err
	}
	if done, werr := writeStructured(cmd.OutOrStdout(), bundleOutput, res); done {
		return errors.Join(err, werr)
	}

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.Header("Action", "Item")
	for _, p := range res.Copied {
		table.Append("created", p)
	}
	for _, p := range res.Skipped {
		table.Append("kept", p)
	}
	for _, s := range res.ScriptsAdded {
		table.Append("script added", s)
	}
	for _, s := range res.ScriptsKept {
		table.Append("script kept", s)
	}
	for _, d := range res.DepsAdded {
		table.Append("dependency added", d)
	}
	for _, d := range res.DepsKept {
		table.Append("dependency kept", d)
	}
	table.Render()
	return err
}

// applyResources stages the connector's manifest, or an explicit one read
// with its templates from disk.
func applyResources(c *connector.Connector, dir, manifestPath, templatesDir string, logger *logging.Logger) (*bundler.Result, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}

	var (
		m         *bundler.Manifest
		templates fs.FS
	)
	if manifestPath != "" {
		if templatesDir == "" {
			return nil, errors.New("--templates is required with --manifest")
		}
		if m, err = bundler.LoadManifest(manifestPath); err != nil {
			return nil, err
		}
		templates = os.DirFS(templatesDir)
	} else {
		if m, err = c.Manifest(); err != nil {
			return nil, err
		}
		if templates, err = c.TemplateFS(); err != nil {
			return nil, err
		}
	}

	return bundler.Apply(m, templates, root, bundler.WithLogger(logger))
}
