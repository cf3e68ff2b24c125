package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/fmjobs/fmjobs/internal/log"
	"github.com/fmjobs/fmjobs/internal/model"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var (
	userConfigPath string // /default/config/path/fmjobs on given OS
	configPath     string // actual config file used (if loaded)
	config         model.Config

	flagConfigFilePath string        // value of --config flag
	flagVerbose        bool          // value of --verbose flag
	flagInterval       time.Duration // value of --interval flag
	flagForceBar       bool          // value of --progress flag

	overrides = viper.New()
)

func init() {
	d, err := os.UserConfigDir()
	if err != nil {
		panic(err)
	}
	userConfigPath = filepath.Join(d, "fmjobs")
}

func main() {
	// root flags
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagConfigFilePath, "config", "", "Config file to load - default is fmjobs.yaml in current directory or in "+userConfigPath)
	flags.BoolVar(&flagVerbose, "verbose", false, "verbose logging")
	flags.String("shell", "", "shell used to run commands")
	flags.Bool("fast-run", false, "retry commands failing with 127 with a completed command name")
	flags.Int("max-workers", 0, "maximum of concurrently running workers, 0 means no limit")
	flags.DurationVar(&flagInterval, "interval", 50*time.Millisecond, "how often background jobs are polled")
	flags.BoolVar(&flagForceBar, "progress", false, "draw progress even when stderr is not a terminal")

	overrides.SetEnvPrefix("FMJOBS")
	overrides.AutomaticEnv()
	for key, flag := range map[string]string{
		"verbose":     "verbose",
		"shell":       "shell",
		"fast_run":    "fast-run",
		"max_workers": "max-workers",
	} {
		if err := overrides.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(err)
		}
	}

	// never print messages
	rootCmd.SilenceErrors = true

	// parse or create a config, setup logging
	rootCmd.PersistentPreRunE = initFmjobs

	rootCmd.AddCommand(runCmd, waitCmd, errorsCmd, captureCmd)
	rootCmd.AddCommand(duCmd, cpCmd, mvCmd, rmCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		var exit exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		slog.Error("fmjobs failed", "error", err)
		os.Exit(1)
	}
}

// exitError ends fmjobs with the exit code of a foreground command.
type exitError struct {
	code int
}

func (e exitError) Error() string {
	return fmt.Sprintf("exit code %d", e.code)
}

var rootCmd = &cobra.Command{
	Use:          "fmjobs",
	Short:        "Runs file manager background jobs from the command line",
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provide version of fmjobs",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("fmjobs: version info not available")
			return
		}

		if configPath != "" {
			fmt.Printf("config: %s\n", configPath)
		}
		fmt.Printf("fmjobs: %s\n", info.Main.Version)
		fmt.Printf("go:     %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit: %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:   %s\n", s.Value)
			case "vcs.modified":
				fmt.Printf("dirty:  %s\n", s.Value)
			}
		}
		fmt.Println()
	},
}

func initFmjobs(cmd *cobra.Command, _ []string) error {
	if envConfig, ok := os.LookupEnv("FMJOBSCONFIG"); ok {
		configPath = envConfig
	} else if flagConfigFilePath != "" {
		configPath = flagConfigFilePath
	} else {
		for _, d := range []string{userConfigPath, "."} {
			path := filepath.Join(d, "fmjobs.yaml")
			if exists(path) {
				configPath = path
				break
			}
		}
	}

	// store default configuration
	if configPath == "" {
		config = model.DefaultConfig(context.Background())
		configPath = filepath.Join(userConfigPath, "fmjobs.yaml")
		if err := storeConfig(configPath, config); err != nil {
			return err
		}
	} else {
		f, err := os.Open(configPath)
		if err != nil {
			return fmt.Errorf("opening config file: %w", err)
		}
		defer func() {
			_ = f.Close()
		}()
		config, err = model.LoadConfig(f)
		if err != nil {
			for _, d := range model.CueErrDetails(err) {
				slog.Error(d.String(), d.Attr("detail"))
			}
			return fmt.Errorf("parsing config: %w", err)
		}
	}

	// flags and FMJOBS_* variables have a precedence over config file
	config.Override(overrides)

	slog.SetDefault(log.New(os.Stderr, config.Log.Format, config.Log.Verbose))

	slog.Debug("fmjobs run", "configPath", configPath)
	slog.Debug("fmjobs run", config.Jobs.LogAttr())
	return nil
}

func storeConfig(path string, cfg model.Config) error {
	err := os.MkdirAll(filepath.Dir(path), 0755)
	if err != nil {
		return fmt.Errorf("creating directory %s: %w", filepath.Dir(path), err)
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
	return enc.Close()
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
