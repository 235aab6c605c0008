package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/talking-portrait/internal/config"
	apperr "github.com/GriffinCanCode/talking-portrait/internal/errors"
)

var analyzeReference bool

var analyzeCmd = &cobra.Command{
	Use:   "analyze <photo>",
	Short: "Analyse a photo and print the persona, voice and mouth region",
	Long: `Analyse a photo without starting a conversation.

Prints the derived persona, the selected voice and the detected mouth region
as JSON. A missing mouth region means the portrait would not be animated.

Examples:
  talking-portrait analyze portrait.jpg
  talking-portrait analyze portrait.png --reference`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		if cfg.GeminiAPIKey == "" {
			return apperr.New(apperr.CodeConfigMissing, "GEMINI_API_KEY is not set")
		}
		data, err := os.ReadFile(args[0])
		if err != nil {
			return apperr.Wrap(err, apperr.CodeNotFound, "cannot read photo").WithMetadata("path", args[0])
		}

		analyzer, err := newAnalyzer(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		p, err := analyzer.Analyze(cmd.Context(), data, analyzeReference)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(p)
	},
}

func init() {
	analyzeCmd.Flags().BoolVar(&analyzeReference, "reference", false, "reference media is supplied; skip gender inference and use the default voice")
}
