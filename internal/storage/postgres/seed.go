package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/techaven/marketplace/internal/domain/product"
)

const (
	upsertShopSQL = `INSERT INTO shops (id, name, address)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, address = EXCLUDED.address`

	upsertProductSQL = `INSERT INTO products (id, shop_id, title, brand, condition, price, stock)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			shop_id = EXCLUDED.shop_id,
			title = EXCLUDED.title,
			brand = EXCLUDED.brand,
			condition = EXCLUDED.condition,
			price = EXCLUDED.price,
			stock = EXCLUDED.stock`
)

// UpsertShop inserts or updates a shop row. Used by seeding and feed
// ingestion, never by the request path.
func UpsertShop(ctx context.Context, pool *pgxpool.Pool, id, name, address string) error {
	if _, err := pool.Exec(ctx, upsertShopSQL, id, name, address); err != nil {
		return fmt.Errorf("upserting shop %q: %w", id, err)
	}
	return nil
}

// UpsertProduct inserts or updates a product row, stock included. Used by
// seeding and feed ingestion, never by the request path.
func UpsertProduct(ctx context.Context, pool *pgxpool.Pool, p product.Product) error {
	_, err := pool.Exec(ctx, upsertProductSQL,
		p.ID, p.ShopID, p.Title, p.Brand, string(p.Condition), p.Price, p.Stock,
	)
	if err != nil {
		return fmt.Errorf("upserting product %q: %w", p.ID, err)
	}
	return nil
}
