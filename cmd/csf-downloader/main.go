// CSF Downloader - reconstructs depot content from CSF containers and
// depot manifests.
package main

import (
	"os"

	"github.com/ZazaJr24/CSF-Downloader/internal/cli"
)

func main() {
	os.Exit(cli.ExitCode(cli.Execute()))
}
