// Prepare turns a payment message corpus into a standardized training
// dataset and the normalizer artifact the scoring service loads.
//
// Usage:
//
//	go run ./cmd/prepare -in transactions.json -out preprocessed_transactions.csv -params normalizer.json
//
// -in may be a JSON array of structured messages or a directory of pain.001
// XML files. With -store the fitted parameters are also saved to a SQLite
// database so servers without the artifact file can load them.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/normalize"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/repository"
)

func main() {
	in := flag.String("in", "transactions.json", "Corpus: JSON array file or directory of XML messages")
	out := flag.String("out", "preprocessed_transactions.csv", "Output CSV dataset")
	paramsPath := flag.String("params", "normalizer.json", "Output normalizer artifact")
	store := flag.String("store", "", "Optional SQLite database to store the fitted normalizer in")
	policy := flag.String("zero-std", string(domain.ZeroStdUnit), "Zero standard deviation policy: unit or reject")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *in, *out, *paramsPath, *store, domain.ZeroStdPolicy(*policy)); err != nil {
		slog.Error("preparation failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, in, out, paramsPath, store string, policy domain.ZeroStdPolicy) error {
	start := time.Now()

	cfg := domain.DefaultConfig()
	if err := domain.ApplyEnv(cfg); err != nil {
		return err
	}

	extractor, err := features.NewExtractor(cfg.Features)
	if err != nil {
		return err
	}

	records, err := pipeline.ReadCorpus(in)
	if err != nil {
		return err
	}
	slog.Info("corpus loaded", "path", in, "records", len(records))

	ds, err := pipeline.Prepare(ctx, records, extractor, policy)
	if err != nil {
		return err
	}

	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("failed to create dataset: %w", err)
	}
	if err := pipeline.WriteCSV(f, ds); err != nil {
		f.Close()
		return fmt.Errorf("failed to write dataset: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}

	if err := normalize.SaveFile(paramsPath, ds.Params); err != nil {
		return err
	}

	if store != "" {
		repo, err := repository.New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: store})
		if err != nil {
			return err
		}
		defer repo.Close()
		if err := repo.SaveNormalizer(ctx, ds.Params); err != nil {
			return fmt.Errorf("failed to store normalizer: %w", err)
		}
		slog.Info("normalizer stored", "store", store, "version", ds.Params.Version)
	}

	frauds := 0
	for _, label := range ds.Labels {
		frauds += label
	}
	slog.Info("dataset prepared",
		"rows", len(ds.Rows),
		"fraud", frauds,
		"dataset", out,
		"params", paramsPath,
		"version", ds.Params.Version,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}
