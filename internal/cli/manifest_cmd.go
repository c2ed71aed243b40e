package cli

import (
	"fmt"
	"io"
	"iter"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ZazaJr24/CSF-Downloader/internal/depotkeys"
	"github.com/ZazaJr24/CSF-Downloader/internal/manifest"
	"github.com/ZazaJr24/CSF-Downloader/internal/storage"
)

// newManifestCmd creates the 'manifest' command group.
func newManifestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "manifest",
		Short: "Work with depot manifest files",
	}
	cmd.AddCommand(newManifestShowCmd())
	return cmd
}

// newManifestShowCmd creates the 'manifest show' command.
func newManifestShowCmd() *cobra.Command {
	var (
		keysPath string
		pattern  string
		chunks   bool
	)

	cmd := &cobra.Command{
		Use:   "show <file>",
		Short: "List the files of a manifest",
		Long: `Parse a manifest file and list its files. Encrypted filenames are
decrypted with the depot key from the key store (or --keys).

--match filters paths with a shell glob, e.g. 'bin/*.dll'.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read manifest: %w", err)
			}
			m, err := manifest.Parse(data)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}

			if m.FilenamesEncrypted {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				keys := depotkeys.Open(storage.NewDir(cfg.DataDir), keysPath, GetLogger())
				if key, ok := keys.Resolve(m.DepotID); ok {
					if err := m.DecryptFilenames(key); err != nil {
						return err
					}
				}
			}

			return printManifest(cmd.OutOrStdout(), m, pattern, chunks)
		},
	}

	cmd.Flags().StringVar(&keysPath, "keys", "", "Depot key file to use instead of the default store")
	cmd.Flags().StringVar(&pattern, "match", "", "Only list paths matching this glob")
	cmd.Flags().BoolVar(&chunks, "chunks", false, "List the chunks of each file")

	return cmd
}

func printManifest(w io.Writer, m *manifest.Manifest, pattern string, showChunks bool) error {
	files, size := m.ContentStats()
	fmt.Fprintf(w, "Depot:     %d\n", m.DepotID)
	fmt.Fprintf(w, "Manifest:  %d\n", m.GID)
	if m.CreationTime != 0 {
		fmt.Fprintf(w, "Created:   %s\n", time.Unix(int64(m.CreationTime), 0).UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(w, "Files:     %d (%.2f MB)\n", files, float64(size)/(1024*1024))
	if m.FilenamesEncrypted {
		fmt.Fprintf(w, "Filenames: encrypted (%v)\n\n", manifest.RequireDecrypted(m))
		return nil
	}
	fmt.Fprintln(w)

	ix := manifest.NewIndex([]*manifest.Manifest{m})
	matches, err := lookup(ix, pattern)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "%-14s %-7s %-6s %s\n", "SIZE", "CHUNKS", "FLAGS", "PATH")
	for loc := range matches {
		f := loc.File
		fmt.Fprintf(w, "%-14d %-7d %-6s %s\n", f.Size, len(f.Chunks), flagString(f.Flags), f.Path())
		if showChunks {
			for _, c := range f.Chunks {
				fmt.Fprintf(w, "    %s  offset=%d size=%d\n", c.ID(), c.Offset, c.OriginalSize)
			}
		}
	}
	return nil
}

// lookup resolves a literal path directly and enumerates anything else
// as a glob.
func lookup(ix *manifest.Index, pattern string) (iter.Seq[*manifest.Location], error) {
	if pattern == "" || strings.ContainsAny(pattern, "*?[") {
		return ix.Enumerate(pattern)
	}
	if !ix.Exists(pattern) {
		return nil, fmt.Errorf("%s: no such file in manifest", pattern)
	}
	loc, _ := ix.Locate(pattern)
	return func(yield func(*manifest.Location) bool) {
		yield(loc)
	}, nil
}

// flagString abbreviates the interesting file flags.
func flagString(fl manifest.Flags) string {
	var b strings.Builder
	for _, f := range []struct {
		flag manifest.Flags
		c    byte
	}{
		{manifest.FlagDirectory, 'd'},
		{manifest.FlagExecutable, 'x'},
		{manifest.FlagReadOnly, 'r'},
		{manifest.FlagHidden, 'h'},
		{manifest.FlagSymlink, 'l'},
	} {
		if fl&f.flag != 0 {
			b.WriteByte(f.c)
		}
	}
	if b.Len() == 0 {
		return "-"
	}
	return b.String()
}
