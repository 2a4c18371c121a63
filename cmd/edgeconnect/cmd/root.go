package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/psantana5/edgeconnect/internal/connector"
	"github.com/psantana5/edgeconnect/pkg/logging"
)

var cfgFile string

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "edgeconnect",
	Short: "Run framework dev servers behind the edge entry point",
	Long: `edgeconnect runs a web framework's own dev server, waits until it reports
that it is ready, and serves it through a local entry point. It also stages the
edge resources (routes, service worker, config) a framework project needs.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.edgeconnect/config.yaml)")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.Bool("log-json", false, "emit logs as JSON lines")
	flags.String("log-dir", "", "also append logs to <dir>/edgeconnect.log")
	flags.String("connectors", "", "YAML file overriding the built-in connector presets")

	_ = viper.BindPFlag("log_level", flags.Lookup("log-level"))
	_ = viper.BindPFlag("log_json", flags.Lookup("log-json"))
	_ = viper.BindPFlag("log_dir", flags.Lookup("log-dir"))
	_ = viper.BindPFlag("connectors_file", flags.Lookup("connectors"))

	viper.SetDefault("listen", "127.0.0.1:3000")
	viper.SetDefault("timeout", "")
	viper.SetDefault("grace_period", "")
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(filepath.Join(home, ".edgeconnect"))
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("EDGECONNECT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && cfgFile != "" {
			fmt.Fprintf(os.Stderr, "Warning: cannot read config %s: %v\n", cfgFile, err)
		}
	}
}

// newLogger builds the CLI logger. With log_dir set, entries also go to
// <log_dir>/edgeconnect.log; callers should Close it.
func newLogger() *logging.Logger {
	level := logging.ParseLevel(viper.GetString("log_level"))
	jsonFormat := viper.GetBool("log_json")

	if dir := viper.GetString("log_dir"); dir != "" {
		logger, err := logging.NewFileLogger(dir, "edgeconnect", level, jsonFormat)
		if err == nil {
			return logger
		}
		fmt.Fprintf(os.Stderr, "Warning: %v, logging to stderr only\n", err)
	}
	return logging.NewLogger(level, jsonFormat)
}

func loadRegistry() (*connector.Registry, error) {
	return connector.Load(viper.GetString("connectors_file"))
}
