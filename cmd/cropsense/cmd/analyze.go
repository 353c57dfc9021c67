package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/verdanthq/cropsense/internal/core"
	"github.com/verdanthq/cropsense/internal/pipeline"
	"github.com/verdanthq/cropsense/internal/report"
	"github.com/verdanthq/cropsense/internal/trace"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [image]...",
	Short: "Diagnose crop images from the command line",
	Long: `Run the diagnostic pipeline once over one or more image files and print
the graded result.

Examples:
  # Basic diagnosis
  cropsense analyze leaf1.jpg leaf2.jpg

  # With crop context and field location
  cropsense analyze --crop potato --stage flowering --lat 52.1 --lon 5.2 leaf.jpg

  # Machine-readable output, exported to a file
  cropsense analyze --json --export report.json leaf.jpg`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAnalyze,
}

var (
	analyzeCrop          string
	analyzeStage         string
	analyzeLat           float64
	analyzeLon           float64
	analyzeNotes         string
	analyzeSource        string
	analyzeSkipSecondary bool
	analyzeJSON          bool
	analyzeExport        string
)

func init() {
	rootCmd.AddCommand(analyzeCmd)

	analyzeCmd.Flags().StringVar(&analyzeCrop, "crop", "", "crop type (e.g. potato, grape)")
	analyzeCmd.Flags().StringVar(&analyzeStage, "stage", "", "growth stage (e.g. seedling, flowering)")
	analyzeCmd.Flags().Float64Var(&analyzeLat, "lat", 0, "field latitude for weather lookup")
	analyzeCmd.Flags().Float64Var(&analyzeLon, "lon", 0, "field longitude for weather lookup")
	analyzeCmd.Flags().StringVar(&analyzeNotes, "notes", "", "free-form field notes")
	analyzeCmd.Flags().StringVar(&analyzeSource, "source", "phone", "image source (phone, drone)")
	analyzeCmd.Flags().BoolVar(&analyzeSkipSecondary, "skip-secondary", false,
		"skip the language-model review passes")
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "print the raw JSON response")
	analyzeCmd.Flags().StringVar(&analyzeExport, "export", "", "write the JSON report to a file")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := buildLogger(cfg, os.Stderr)

	store, err := buildTables(cfg)
	if err != nil {
		return err
	}
	pipe, err := buildPipeline(cfg, store, logger)
	if err != nil {
		return err
	}

	req, err := buildAnalysisRequest(cmd, args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	resp := pipe.Analyze(ctx, req, pipeline.NopObserver{})

	if analyzeExport != "" {
		if err := trace.ExportReport(resp, analyzeExport); err != nil {
			return fmt.Errorf("exporting report: %w", err)
		}
		logger.Info("report exported", "path", analyzeExport)
	}

	if analyzeJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	fmt.Fprint(cmd.OutOrStdout(), report.NewRenderer(noColor).Render(resp))
	return nil
}

// buildAnalysisRequest reads the image files and maps flags onto request
// options. Location is only attached when both coordinates were given.
func buildAnalysisRequest(cmd *cobra.Command, paths []string) (*core.AnalysisRequest, error) {
	images := make([]core.ImageRef, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("reading image %s: %w", p, err)
		}
		images = append(images, core.ImageRef{
			Name:   filepath.Base(p),
			Source: analyzeSource,
			Data:   data,
		})
	}

	opts := []core.RequestOption{
		core.WithSkipSecondary(analyzeSkipSecondary),
	}
	if analyzeCrop != "" || analyzeStage != "" {
		opts = append(opts, core.WithCropContext(analyzeCrop, analyzeStage))
	}
	if cmd.Flags().Changed("lat") || cmd.Flags().Changed("lon") {
		if !cmd.Flags().Changed("lat") || !cmd.Flags().Changed("lon") {
			return nil, fmt.Errorf("both --lat and --lon are required for a weather lookup")
		}
		opts = append(opts, core.WithLocation(analyzeLat, analyzeLon))
	}
	if analyzeNotes != "" {
		opts = append(opts, core.WithFieldNotes(analyzeNotes))
	}

	return core.NewAnalysisRequest(images, opts...)
}
