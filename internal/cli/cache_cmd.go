package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ZazaJr24/CSF-Downloader/internal/cdn"
	"github.com/ZazaJr24/CSF-Downloader/internal/constants"
	"github.com/ZazaJr24/CSF-Downloader/internal/manifest"
	"github.com/ZazaJr24/CSF-Downloader/internal/storage"
)

// newCacheCmd creates the 'cache' command group.
func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage cached server lists and manifests",
	}
	cmd.AddCommand(newCacheClearCmd())
	return cmd
}

func newCacheClearCmd() *cobra.Command {
	var serversOnly bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove the content-server list and cached manifests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log := GetLogger()
			dir := storage.NewDir(cfg.CacheDir)

			if err := cdn.NewServerCache(dir, nil, cfg.CellID, nil, log).Invalidate(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared content-server list\n")

			if serversOnly {
				return nil
			}
			cache := manifest.NewCache(dir.Sub(constants.ManifestCacheDir), nil, nil, nil, log)
			if err := cache.Clear(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared manifest cache in %s\n", dir.Path(constants.ManifestCacheDir))
			return nil
		},
	}

	cmd.Flags().BoolVar(&serversOnly, "servers", false, "Only clear the content-server list")
	return cmd
}
