package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/techaven/marketplace/internal/domain/product"
	"github.com/techaven/marketplace/internal/storage/postgres"
)

const (
	bloomCapacity = 10_000_000
	bloomFPR      = 0.001
	progressEvery = 100_000
)

// feedLine is one product record in a shop's gzipped JSON-lines feed.
// Feeds are append-only, so the first occurrence of a product ID wins
// and later duplicates are stale.
type feedLine struct {
	ID        string          `json:"id"`
	ShopID    string          `json:"shop_id"`
	Title     string          `json:"title"`
	Brand     string          `json:"brand"`
	Condition string          `json:"condition"`
	Price     decimal.Decimal `json:"price"`
	Stock     int             `json:"stock"`
}

func main() {
	var (
		dataDir     string
		databaseURL string
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing *.jsonl.gz product feeds")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, dataDir, databaseURL); err != nil {
		slog.Error("catalog ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("catalog ingest completed successfully")
}

func run(ctx context.Context, dataDir, databaseURL string) error {
	files, err := filepath.Glob(filepath.Join(dataDir, "*.jsonl.gz"))
	if err != nil {
		return errors.Wrap(err, "list feed files")
	}
	if len(files) == 0 {
		return errors.Errorf("no *.jsonl.gz feeds found in %s", dataDir)
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	slog.Info("ingesting feeds", slog.Int("files", len(files)))

	g, ctx := errgroup.WithContext(ctx)
	for _, f := range files {
		g.Go(ingestFeed(ctx, pool, f))
	}

	return g.Wait()
}

// ingestFeed streams one gzipped feed and upserts each product, skipping
// duplicate IDs after their first occurrence. A per-file bloom filter keeps
// the dedup set bounded regardless of feed size.
func ingestFeed(ctx context.Context, pool *pgxpool.Pool, path string) func() error {
	return func() error {
		name := filepath.Base(path)
		seen := bloom.NewWithEstimates(bloomCapacity, bloomFPR)

		var total, upserted, skipped uint64
		if err := streamGzFile(ctx, path, func(line []byte) error {
			total++
			if total%progressEvery == 0 {
				slog.Info("ingest progress", slog.String("feed", name), slog.Uint64("lines", total))
			}

			var rec feedLine
			if err := json.Unmarshal(line, &rec); err != nil {
				slog.Warn("skipping malformed line",
					slog.String("feed", name),
					slog.Uint64("line", total),
					slog.String("error", err.Error()),
				)
				return nil
			}
			if rec.ID == "" || rec.ShopID == "" {
				slog.Warn("skipping line without id or shop_id",
					slog.String("feed", name),
					slog.Uint64("line", total),
				)
				return nil
			}
			if seen.TestOrAddString(rec.ID) {
				skipped++
				return nil
			}

			if err := postgres.UpsertProduct(ctx, pool, product.Product{
				ID:        rec.ID,
				ShopID:    rec.ShopID,
				Title:     rec.Title,
				Brand:     rec.Brand,
				Condition: product.Condition(rec.Condition),
				Price:     rec.Price,
				Stock:     rec.Stock,
			}); err != nil {
				return err
			}
			upserted++
			return nil
		}); err != nil {
			return errors.Wrapf(err, "ingest feed %s", name)
		}

		slog.Info("feed complete",
			slog.String("feed", name),
			slog.Uint64("lines", total),
			slog.Uint64("upserted", upserted),
			slog.Uint64("duplicates_skipped", skipped),
		)

		return nil
	}
}

// streamGzFile opens a gzip-compressed file and calls fn for each line.
func streamGzFile(ctx context.Context, path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(scanner.Bytes()); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}

	return nil
}
