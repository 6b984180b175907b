// Snapmark scans a camera feed for marked objects and captures a single
// high-resolution still per sighting.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quicklens/snapmark/internal/config"
	"github.com/quicklens/snapmark/internal/log"
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "snapmark",
	Short:   "Marker-triggered capture scanner",
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		config.LoadDotenv()
		log.InitFromEnv()
	},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
