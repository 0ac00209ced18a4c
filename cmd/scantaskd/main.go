package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"

	"github.com/scantaskd/scantaskd/internal/log"
	"github.com/scantaskd/scantaskd/internal/model"
	"gopkg.in/yaml.v3"

	"github.com/spf13/cobra"
)

var (
	configPath string // actual config file used (if loaded)
	config     model.Config

	flagConfigFilePath string // value of --config flag
	flagVerbose        bool   // value of --verbose flag
)

func main() {
	// root flags
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "Config file to load - default is scantaskd.yaml in current directory")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")

	// never print messages
	rootCmd.SilenceErrors = true

	// load the config, setup logging
	rootCmd.PersistentPreRunE = initScantaskd

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(initConfigCmd)
	rootCmd.AddCommand(versionCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("scantaskd failed", "err", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "scantaskd",
	Short:        "Network scan task engine with a JSON API",
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "run the daemon: task engine, retention cleanup and JSON API",
	RunE:  doRun,
}

var scanCmd = &cobra.Command{
	Use:   "scan [target]",
	Short: "execute a single scan and print the finished task as JSON",
	Args:  cobra.MaximumNArgs(1),
	RunE:  doScan,
}

var initConfigCmd = &cobra.Command{
	Use:   "init-config [path]",
	Short: "write a commented default configuration with a fresh API token",
	Args:  cobra.MaximumNArgs(1),
	RunE:  doInitConfig,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provides the version of scantaskd",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("scantaskd: version info not available")
			return
		}

		if configPath != "" {
			fmt.Printf("config:    %s\n", configPath)
		}
		fmt.Printf("scantaskd: %s\n", info.Main.Version)
		fmt.Printf("go:        %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit:    %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:      %s\n", s.Value)
			case "vcs.modified":
				fmt.Printf("dirty:     %s\n", s.Value)
			}
		}
	},
}

func doInitConfig(cmd *cobra.Command, args []string) error {
	path := "scantaskd.yaml"
	if len(args) == 1 {
		path = args[0]
	}
	if exists(path) {
		return fmt.Errorf("refusing to overwrite %s", path)
	}

	cfg := model.DefaultConfig()
	cfg.Auth.Token = model.GenerateToken()

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating file %s: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()
	enc := yaml.NewEncoder(f)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("storing configuration: %w", err)
	}
	fmt.Printf("wrote %s\n", path)
	return nil
}

func initScantaskd(cmd *cobra.Command, _ []string) error {
	if envConfig, ok := os.LookupEnv("SCANTASKD_CONFIG"); ok {
		configPath = envConfig
	} else if flagConfigFilePath != "" {
		configPath = flagConfigFilePath
	} else if exists("scantaskd.yaml") {
		configPath = "scantaskd.yaml"
	}

	// empty path means compiled-in defaults
	var err error
	config, err = model.LoadConfig(configPath)
	if err != nil {
		return err
	}

	// --verbose has a precedence over config file
	if flagVerbose {
		config.Verbose = true
	}

	slog.SetDefault(log.New(config.Verbose))
	slog.Debug("scantaskd start", "configPath", configPath)
	return nil
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
