package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"propval/internal/geometry"
	"propval/internal/models"
	"propval/internal/processor"
	"propval/internal/queue"
)

var (
	ingestFile string
	areasOut   string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Load a JSON array of listings into the feed",
	RunE:  runIngest,
}

var areasCmd = &cobra.Command{
	Use:   "areas",
	Short: "Write the convex footprint of every city as GeoJSON",
	RunE:  runAreas,
}

func init() {
	rootCmd.AddCommand(ingestCmd, areasCmd)

	ingestCmd.Flags().StringVarP(&ingestFile, "file", "f", "", "JSON file with listings")
	ingestCmd.MarkFlagRequired("file")
	areasCmd.Flags().StringVarP(&areasOut, "out", "o", "", "Output file (default: stdout)")
}

func runIngest(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(ingestFile)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", ingestFile, err)
	}
	var properties []*models.Property
	if err := json.Unmarshal(data, &properties); err != nil {
		return fmt.Errorf("failed to parse %s: %w", ingestFile, err)
	}
	if len(properties) == 0 {
		return fmt.Errorf("%s has no listings", ingestFile)
	}

	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	size := e.cfg.BatchProcessing.MaxBatchSize
	if size < 1 {
		size = len(properties)
	}
	batches := (len(properties) + size - 1) / size

	// The queue holds the whole file so pushes never block on the workers
	q := queue.NewPropertyQueue(batches+1, e.logger)
	p := processor.NewBatchProcessor(e.db.GetDB(), q, e.cfg.BatchProcessing, e.logger)
	p.Start()
	q.Start()

	start := time.Now()
	for i := 0; i < len(properties); i += size {
		end := i + size
		if end > len(properties) {
			end = len(properties)
		}
		if _, err := q.Push(properties[i:end]); err != nil {
			return fmt.Errorf("failed to queue batch: %w", err)
		}
	}
	if err := q.Close(); err != nil {
		return err
	}

	// Close returns once every batch is dispatched; wait for the last upserts
	for {
		s := p.Stats()
		if s.Stored+s.Rejected+s.Failed >= int64(len(properties)) {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	p.Stop()

	return render(os.Stdout, map[string]interface{}{
		"stats":    p.Stats(),
		"batches":  batches,
		"duration": time.Since(start).String(),
	})
}

func runAreas(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	properties, err := e.db.GetProperties(context.Background(), nil)
	if err != nil {
		return err
	}
	areas := geometry.NewAreaManager(e.logger)
	fc := areas.FeatureCollection(areas.BuildAreas(properties))
	if areasOut == "" {
		return render(os.Stdout, fc)
	}
	if err := areas.SaveFeatureCollection(areasOut, fc); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Wrote %d areas to %s\n", len(fc.Features), areasOut)
	return nil
}
