// Talking portrait server: analyses a photo, then lets the subject hold a
// live voice conversation while the portrait's jaw follows the speech.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "talking-portrait",
	Short: "Live voice conversations with an animated portrait",
	Long: `Live voice conversations with an animated portrait.

Upload a photo, and the server derives a persona, a voice and the mouth
position from it. A realtime Gemini session then speaks as the subject while
the portrait's jaw moves with the loudness of the reply.

Configuration is read from the environment and a local .env file.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging(logLevel)
	},
	RunE: serveCmd.RunE,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "debug", "log level: debug, info, warn, error")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(analyzeCmd)
}

func setupLogging(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		lvl = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
