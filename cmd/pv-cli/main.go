// Package main provides pv-cli, a local front end to the verification
// pipeline: run an analysis on local files, check photo quality, and
// inspect the case index.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/scholarship-verification/internal/bootstrap"
	"github.com/fpang/scholarship-verification/internal/config"
	"github.com/fpang/scholarship-verification/internal/logging"
	"github.com/fpang/scholarship-verification/internal/media"
	"github.com/fpang/scholarship-verification/internal/pipeline"
	"github.com/fpang/scholarship-verification/internal/records"
)

// CLI flags
var (
	modelFlag      string
	ragBackendFlag string

	commentFlag  string
	tanglishFlag bool
	audioFlag    string
	imagesFlag   []string
	districtFlag string
	studentFlag  string
	recordFlag   bool
)

var rootCmd = &cobra.Command{
	Use:   "pv-cli",
	Short: "Run physical-verification analysis locally",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init()
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Analyze a comment, voice note and house photos",
	Long: `Runs the full pipeline on local files and prints the result as JSON.

Examples:
  pv-cli run --comment "Veedu romba chinna" --tanglish --audio note.wav --images front.jpg,roof.jpg
  pv-cli run --comment "Father is a daily wage labourer" --district Madurai --record --student S42`,
	RunE: runAnalysis,
}

var qualityCmd = &cobra.Command{
	Use:   "quality <image>...",
	Short: "Check whether photos are usable evidence",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runQuality,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show case index statistics",
	RunE:  runStats,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&modelFlag, "model", "m", "", "Gemini model override")
	rootCmd.PersistentFlags().StringVar(&ragBackendFlag, "rag-backend", "", "Case index backend: memory, sqlite, pgvector, dataapi")

	runCmd.Flags().StringVarP(&commentFlag, "comment", "c", "", "Volunteer comment")
	runCmd.Flags().BoolVar(&tanglishFlag, "tanglish", false, "Comment is Tamil written in Latin script")
	runCmd.Flags().StringVarP(&audioFlag, "audio", "a", "", "Voice note file")
	runCmd.Flags().StringSliceVarP(&imagesFlag, "images", "i", nil, "House photos (comma separated)")
	runCmd.Flags().StringVar(&districtFlag, "district", "", "Student district")
	runCmd.Flags().StringVar(&studentFlag, "student", "", "Student ID, required with --record")
	runCmd.Flags().BoolVar(&recordFlag, "record", false, "Append the result to the case index")

	rootCmd.AddCommand(runCmd, qualityCmd, statsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func buildApp(ctx context.Context) (*bootstrap.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if modelFlag != "" {
		cfg.GeminiModel = modelFlag
	}
	if ragBackendFlag != "" {
		cfg.RAG.Backend = ragBackendFlag
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return bootstrap.Build(ctx, cfg)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runAnalysis(cmd *cobra.Command, args []string) error {
	if recordFlag && studentFlag == "" {
		return fmt.Errorf("--record requires --student")
	}
	ctx := cmd.Context()
	app, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	run := app.Orchestrator.Run(ctx, pipeline.Input{
		TextComment: commentFlag,
		AudioPath:   audioFlag,
		ImagePaths:  imagesFlag,
		IsTanglish:  tanglishFlag,
		District:    districtFlag,
	})

	if recordFlag {
		district := districtFlag
		if district == "" {
			district = records.DefaultDistrict
		}
		if err := app.Index.Add(ctx, run.Case(studentFlag, district, time.Now())); err != nil {
			log.Warn().Err(err).Msg("Case not recorded")
		}
	}
	return printJSON(run.Output())
}

type qualityLine struct {
	File   string `json:"file"`
	Status string `json:"status"`
	Reason string `json:"reason"`
}

func runQuality(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	app, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	out := make([]qualityLine, 0, len(args))
	for _, path := range args {
		mimeType, err := media.MIMETypeForPath(path)
		if err != nil || !media.IsImage(filepath.Ext(path)) {
			out = append(out, qualityLine{File: path, Status: "BAD", Reason: "Unsupported file type"})
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		v := app.Quality.Check(ctx, data, mimeType)
		out = append(out, qualityLine{File: path, Status: v.Status, Reason: v.Reason})
	}
	return printJSON(out)
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	app, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()
	return printJSON(app.Index.Stats(ctx))
}
