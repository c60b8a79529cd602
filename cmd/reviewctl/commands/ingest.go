package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/reco-agent/backend/internal/ingestion"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file.json>",
	Short: "Normalize, embed and store reviews from a JSON file",
	Long: `Reads a JSON array of reviews (or an object with a "reviews" array), cleans each
record, skips duplicates and stores the rest with their embeddings.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

var normalizeCmd = &cobra.Command{
	Use:   "normalize",
	Short: "Clean stored reviews and delete duplicates",
	Args:  cobra.NoArgs,
	RunE:  runNormalize,
}

func init() {
	rootCmd.AddCommand(ingestCmd, normalizeCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	raw, err := readReviews(args[0])
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Minute)
	defer cancel()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.Processor.BulkUpsert(ctx, raw)
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	return printJSON(cmd.OutOrStdout(), res)
}

func runNormalize(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Minute)
	defer cancel()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.Processor.NormalizeAndDedupe(ctx)
	if err != nil {
		return fmt.Errorf("normalize: %w", err)
	}
	return printJSON(cmd.OutOrStdout(), report)
}

func readReviews(path string) ([]ingestion.RawReview, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return decodeReviews(data)
}

func decodeReviews(data []byte) ([]ingestion.RawReview, error) {
	var raw []ingestion.RawReview
	if err := json.Unmarshal(data, &raw); err == nil {
		return raw, nil
	}

	var wrapped struct {
		Reviews []ingestion.RawReview `json:"reviews"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("decode reviews: %w", err)
	}
	if wrapped.Reviews == nil {
		return nil, fmt.Errorf("decode reviews: no reviews array found")
	}
	return wrapped.Reviews, nil
}
