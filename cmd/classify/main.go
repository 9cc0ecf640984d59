// Command classify identifies the weed species in a single image file using
// the same configuration and pipeline as the web service.
//
//	classify [-json] [-scores] leaf.jpg
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/example/weed-id/internal/app"
	"github.com/example/weed-id/internal/config"
	"github.com/example/weed-id/internal/logging"
	"github.com/example/weed-id/internal/usecase"
)

func main() {
	asJSON := flag.Bool("json", false, "print the result as JSON")
	showScores := flag.Bool("scores", false, "print the score of every class")
	timeout := flag.Duration("timeout", time.Minute, "overall deadline for loading the model and classifying")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] IMAGE\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(flag.Arg(0), *timeout, *asJSON, *showScores, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "classify:", err)
		os.Exit(1)
	}
}

func run(path string, timeout time.Duration, asJSON, showScores bool, out io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Keep stdout clean for the result; logs go to stderr and default to warn.
	level := cfg.LogLevel
	if _, set := os.LookupEnv("LOG_LEVEL"); !set {
		level = "warn"
	}
	logger, err := logging.NewLogger(level)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer application.Close()

	outcome, err := application.UseCase.Classify(ctx, data)
	if err != nil {
		logger.Debug("classification failed", zap.String("stage", usecase.StageOf(err)), zap.Error(err))
		return err
	}
	return printOutcome(out, outcome, asJSON, showScores)
}

func printOutcome(out io.Writer, outcome *usecase.Outcome, asJSON, showScores bool) error {
	result := outcome.Result
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	if _, err := fmt.Fprintf(out, "Prediction: %s\nConfidence: %s\n", result.Label, result.ConfidenceText()); err != nil {
		return err
	}
	if showScores {
		for _, s := range result.Scores {
			if _, err := fmt.Fprintf(out, "  %-20s %.4f\n", s.Label, s.Score); err != nil {
				return err
			}
		}
	}
	return nil
}
