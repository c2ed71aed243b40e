package cli

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ZazaJr24/CSF-Downloader/internal/container"
)

// newInspectCmd creates the 'inspect' command.
func newInspectCmd() *cobra.Command {
	var (
		searchDirs []string
		showKeys   bool
		repackPath string
		xorKey     uint32
	)

	cmd := &cobra.Command{
		Use:   "inspect <container|app-id>",
		Short: "Show the depots, keys and manifests of a container",
		Long: `Decode a container and list its depots, depot keys (masked unless
--show-keys) and manifest assignments.

The argument is a .lua/.st file, or an app ID searched in --dir.

--repack writes the container in the binary (.st) format.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := resolveContainer(args[0], searchDirs)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read container: %w", err)
			}
			format := container.FormatForPath(path, data)
			desc, err := container.Decode(data, format)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}

			printDescriptor(cmd.OutOrStdout(), path, format, desc, showKeys)

			if repackPath != "" {
				text := data
				if format == container.FormatBinary {
					if text, err = container.UnwrapBinary(data); err != nil {
						return err
					}
				}
				out, err := container.EncodeBinary(text, xorKey)
				if err != nil {
					return err
				}
				if err := os.WriteFile(repackPath, out, 0644); err != nil {
					return fmt.Errorf("failed to write %s: %w", repackPath, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "\nWrote %s (%d bytes)\n", repackPath, len(out))
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&searchDirs, "dir", "d", []string{"."}, "Directories searched when the argument is an app ID")
	cmd.Flags().BoolVar(&showKeys, "show-keys", false, "Print depot keys in full")
	cmd.Flags().StringVar(&repackPath, "repack", "", "Write the container in binary format to this path")
	cmd.Flags().Uint32Var(&xorKey, "xor-key", 0, "Raw XOR key stored in the repacked header")

	return cmd
}

// resolveContainer treats arg as a path when it exists, otherwise as an
// app ID to locate.
func resolveContainer(arg string, dirs []string) (string, error) {
	if info, err := os.Stat(arg); err == nil && info.Mode().IsRegular() {
		return arg, nil
	}
	id, err := strconv.ParseUint(arg, 10, 32)
	if err != nil {
		return "", fmt.Errorf("%s: not a container file or app ID", arg)
	}
	path, _, err := container.Locate(uint32(id), dirs...)
	return path, err
}

func printDescriptor(w io.Writer, path string, format container.Format, desc *container.Descriptor, showKeys bool) {
	fmt.Fprintf(w, "Container: %s (%s)\n", path, format)
	fmt.Fprintf(w, "Depots:    %d (%d with keys)\n", len(desc.Depots), len(desc.Keys))
	fmt.Fprintf(w, "Manifests: %d\n\n", len(desc.Manifests))

	fmt.Fprintf(w, "%-12s %-22s %s\n", "DEPOT", "MANIFEST", "KEY")
	for _, depot := range desc.Depots {
		key := "-"
		if k, ok := desc.Key(depot); ok {
			key = maskKey(hex.EncodeToString(k), showKeys)
		}
		gids := desc.ManifestsFor(depot)
		if len(gids) == 0 {
			fmt.Fprintf(w, "%-12d %-22s %s\n", depot, "-", key)
			continue
		}
		for _, gid := range gids {
			fmt.Fprintf(w, "%-12d %-22s %s\n", depot, strconv.FormatUint(gid, 10), key)
		}
	}

	// Assignments for depots never declared with addappid.
	for _, a := range desc.Manifests {
		if !declared(desc, a.DepotID) {
			fmt.Fprintf(w, "%-12d %-22d %s\n", a.DepotID, a.ManifestID, "-")
		}
	}
}

func declared(desc *container.Descriptor, depot uint32) bool {
	for _, id := range desc.Depots {
		if id == depot {
			return true
		}
	}
	return false
}

func maskKey(key string, show bool) string {
	if show || len(key) <= 8 {
		return key
	}
	return key[:8] + "********"
}
