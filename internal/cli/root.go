// Package cli provides the command-line interface for csf-downloader.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ZazaJr24/CSF-Downloader/internal/cancel"
	"github.com/ZazaJr24/CSF-Downloader/internal/config"
	"github.com/ZazaJr24/CSF-Downloader/internal/logging"
	"github.com/ZazaJr24/CSF-Downloader/internal/version"
)

var (
	// Global flags
	cfgFile string
	verbose bool
	debug   bool

	// Global logger
	logger *logging.Logger

	// Shared stop signal, driven by SIGINT/SIGTERM
	controller *cancel.Controller
)

// ExitError carries a non-zero exit status without an error message of
// its own; the command has already reported the failure.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// ExitCode maps the result of Execute to a process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return 1
}

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "csf-downloader",
		Short: "Download depot content described by CSF containers and manifests",
		Long: `CSF Downloader ` + version.Version + ` - Built: ` + version.BuildTime + `
Reconstructs depot files from a content descriptor ({app}.lua or {app}.st)
and depot manifests. Existing files are verified chunk by chunk and only
damaged or missing chunks are fetched.

Sources:
  cdn    public content servers (default)
  s3     S3 bucket mirroring depot objects
  azure  Azure Blob container mirroring depot objects`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger = logging.NewDefaultCLILogger()
			if verbose || debug {
				logging.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Configuration file path (default: "+config.DefaultConfigPath()+")")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output (shows debug messages)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug output (same as --verbose)")

	rootCmd.Version = version.Version + " (" + version.BuildTime + ")"
	return rootCmd
}

// Execute runs the CLI. The first SIGINT/SIGTERM stops scheduling new
// files; a second one exits immediately.
func Execute() error {
	controller = cancel.New()

	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		// The graceful stage stays silent; "Download canceled by user."
		// is printed once the engine has returned.
		for range sigChan {
			controller.RequestStop()
		}
	}()

	rootCmd := NewRootCmd()
	AddCommands(rootCmd)
	err := rootCmd.Execute()

	signal.Stop(sigChan)
	close(sigChan)

	var ee *ExitError
	if err != nil && !errors.As(err, &ee) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return err
}

// AddCommands adds all subcommands to the root command.
func AddCommands(rootCmd *cobra.Command) {
	rootCmd.SilenceErrors = true
	rootCmd.AddCommand(newDownloadCmd())
	rootCmd.AddCommand(newInspectCmd())
	rootCmd.AddCommand(newManifestCmd())
	rootCmd.AddCommand(newCacheCmd())
	rootCmd.AddCommand(newConfigCmd())
}

// GetLogger returns the global CLI logger.
func GetLogger() *logging.Logger {
	if logger == nil {
		logger = logging.NewDefaultCLILogger()
	}
	return logger
}

// GetController returns the shared stop controller, creating one when
// Execute was not used (tests).
func GetController() *cancel.Controller {
	if controller == nil {
		controller = cancel.New()
	}
	return controller
}

// configPath returns the --config value or the default location.
func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultConfigPath()
}

// loadConfig reads the configuration file, falling back to defaults when
// it does not exist.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath())
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// commandContext returns the command's context or a background one.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
