// Command planetd is the external application shell around
// internal/body: it owns flag parsing, config file loading, and logging
// setup (none of which the core package tree owns), and drives one
// synthetic frame loop against a Body the way an embedder's render loop
// would call Cull/Update/PurgeTiles once per frame.
package main

import (
	"fmt"
	"os"

	"github.com/MeKo-Tech/planetcore/internal/config"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "planetd",
	Short: "Adaptive planetary tile engine demo harness",
	Long: `planetd drives internal/body through a synthetic frame loop and
exposes a debug export surface (an MBTiles dump). It owns no long-running
service port of its own.`,
}

func main() {
	config.RegisterFlags(rootCmd)
	cobra.OnInitialize(config.Init)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
