package main

import (
	"fmt"
	"os"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "scraperd",
	Short: "Bug-fix commit harvesting engine",
	Long: `scraperd mines GitHub repositories for bug-fixing commits in C/C++ code,
runs static analysis on the before/after snapshots, labels the fixed defects,
and ships the resulting records to a storage sink.

Runs are driven either by the TCP control server (serve) or one-shot from the
command line (scrape).`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
