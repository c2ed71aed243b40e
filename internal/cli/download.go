package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ZazaJr24/CSF-Downloader/internal/config"
	"github.com/ZazaJr24/CSF-Downloader/internal/constants"
	"github.com/ZazaJr24/CSF-Downloader/internal/core"
	"github.com/ZazaJr24/CSF-Downloader/internal/progress"
)

type downloadFlags struct {
	containerPath string
	manifestFiles []string
	searchDirs    []string
	outputDir     string
	flatten       bool
	noProgress    bool
	progressStyle string
	skipVerify    bool
	keysPath      string
	concurrency   int
	source        string
	cellID        int
}

// newDownloadCmd creates the 'download' command.
func newDownloadCmd() *cobra.Command {
	f := &downloadFlags{}

	cmd := &cobra.Command{
		Use:   "download [app-id...]",
		Short: "Download the depots of an app",
		Long: `Download every depot manifest assigned by the app's container.

The container {app-id}.lua or {app-id}.st is searched in the --dir
directories, which are also searched for local manifest files named
{depot}_{manifest}.manifest. Only the first app ID is used.

Files already on disk are verified chunk by chunk; --skip-verify rewrites
them from scratch.

Examples:
  csf-downloader download 480 -o ./game
  csf-downloader download --container 480.st --manifest 481_123.manifest
  csf-downloader download 480 --keys ./depot_keys.json -j 12`,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, cfg, err := f.request(args)
			if err != nil {
				return err
			}

			ctrl := GetController()
			engine := core.NewEngine(cfg, ctrl, core.WithLogger(GetLogger()))
			status := engine.Download(commandContext(cmd), req)

			if ctrl.IsStopRequested() {
				fmt.Fprintln(cmd.ErrOrStderr(), "Download canceled by user.")
			}
			if status != core.ExitSuccess {
				return &ExitError{Code: int(status)}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&f.containerPath, "container", "f", "", "Container file (.lua or .st) instead of searching by app ID")
	cmd.Flags().StringSliceVarP(&f.manifestFiles, "manifest", "m", nil, "Manifest file to download (repeatable)")
	cmd.Flags().StringSliceVarP(&f.searchDirs, "dir", "d", []string{"."}, "Directories searched for containers and manifest files")
	cmd.Flags().StringVarP(&f.outputDir, "output", "o", ".", "Output directory")
	cmd.Flags().BoolVar(&f.flatten, "flatten", false, "Write every file directly into the output directory")
	cmd.Flags().BoolVar(&f.noProgress, "no-progress", false, "Disable progress bars")
	cmd.Flags().StringVar(&f.progressStyle, "progress", string(progress.StyleBars), "Progress style: bars, compact or none")
	cmd.Flags().BoolVar(&f.skipVerify, "skip-verify", false, "Do not verify existing files; rewrite them")
	cmd.Flags().StringVar(&f.keysPath, "keys", "", "Depot key file to use instead of the default store (never written)")
	cmd.Flags().IntVarP(&f.concurrency, "concurrency", "j", 0,
		fmt.Sprintf("Files downloaded at once (0 = config, default %d, range %d-%d)",
			constants.DefaultConcurrency, constants.MinConcurrency, constants.MaxConcurrency))
	cmd.Flags().StringVar(&f.source, "source", "", "Content source override: cdn, s3 or azure")
	cmd.Flags().IntVar(&f.cellID, "cell-id", -1, "Content server cell ID override")

	return cmd
}

// request validates the flags and builds the engine request.
func (f *downloadFlags) request(args []string) (core.Request, *config.Config, error) {
	appIDs, err := parseAppIDs(args)
	if err != nil {
		return core.Request{}, nil, err
	}
	if len(appIDs) == 0 && f.containerPath == "" && len(f.manifestFiles) == 0 {
		return core.Request{}, nil, fmt.Errorf("give an app ID, --container or --manifest")
	}
	if f.concurrency != 0 && (f.concurrency < constants.MinConcurrency || f.concurrency > constants.MaxConcurrency) {
		return core.Request{}, nil, config.ErrInvalidConcurrency
	}
	style, err := progress.ParseStyle(f.progressStyle)
	if err != nil {
		return core.Request{}, nil, err
	}
	if f.keysPath != "" {
		if _, err := os.Stat(f.keysPath); err != nil {
			GetLogger().Warn().Err(err).Msg("Depot key file not readable, using the default store")
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		return core.Request{}, nil, err
	}
	if f.source != "" {
		cfg.Source = strings.ToLower(f.source)
	}
	if f.cellID >= 0 {
		cfg.CellID = uint32(f.cellID)
	}
	if err := cfg.Validate(); err != nil {
		return core.Request{}, nil, err
	}

	return core.Request{
		AppIDs:        appIDs,
		ContainerPath: f.containerPath,
		SearchDirs:    f.searchDirs,
		ManifestFiles: f.manifestFiles,
		OutputDir:     f.outputDir,
		Options: core.Options{
			FlattenPaths:        f.flatten,
			ShowProgress:        !f.noProgress,
			SkipVerify:          f.skipVerify,
			CustomDepotKeysPath: f.keysPath,
			Concurrency:         f.concurrency,
			ProgressStyle:       style,
		},
	}, cfg, nil
}

func parseAppIDs(args []string) ([]uint32, error) {
	ids := make([]uint32, 0, len(args))
	for _, a := range args {
		id, err := strconv.ParseUint(a, 10, 32)
		if err != nil || id == 0 {
			return nil, fmt.Errorf("invalid app ID %q", a)
		}
		ids = append(ids, uint32(id))
	}
	return ids, nil
}
