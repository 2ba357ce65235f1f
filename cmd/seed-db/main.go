package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/techaven/marketplace/internal/domain/product"
	"github.com/techaven/marketplace/internal/storage/postgres"
)

type catalogJSON struct {
	Shops    []shopJSON    `json:"shops"`
	Products []productJSON `json:"products"`
}

type shopJSON struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`
}

type productJSON struct {
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
		databaseURL string
		catalogFile string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&catalogFile, "catalog-file", "db/seed/catalog.json", "path to catalog JSON file")
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

	if err := run(ctx, databaseURL, catalogFile); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, catalogFile string) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	return seedCatalog(ctx, pool, catalogFile)
}

func seedCatalog(ctx context.Context, pool *pgxpool.Pool, catalogFile string) error {
	slog.Info("reading catalog file", slog.String("path", catalogFile))

	data, err := os.ReadFile(catalogFile)
	if err != nil {
		return errors.Wrap(err, "read catalog file")
	}

	var catalog catalogJSON
	if err := json.Unmarshal(data, &catalog); err != nil {
		return errors.Wrap(err, "parse catalog JSON")
	}

	slog.Info("upserting shops", slog.Int("count", len(catalog.Shops)))

	for _, s := range catalog.Shops {
		if err := postgres.UpsertShop(ctx, pool, s.ID, s.Name, s.Address); err != nil {
			return err
		}

		slog.Info("upserted shop", slog.String("id", s.ID), slog.String("name", s.Name))
	}

	slog.Info("upserting products", slog.Int("count", len(catalog.Products)))

	for _, p := range catalog.Products {
		if err := postgres.UpsertProduct(ctx, pool, product.Product{
			ID:        p.ID,
			ShopID:    p.ShopID,
			Title:     p.Title,
			Brand:     p.Brand,
			Condition: product.Condition(p.Condition),
			Price:     p.Price,
			Stock:     p.Stock,
		}); err != nil {
			return err
		}

		slog.Info("upserted product", slog.String("id", p.ID), slog.String("title", p.Title))
	}

	return nil
}
