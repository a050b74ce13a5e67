package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/safar/go-order-recon/internal/database"
	"github.com/safar/go-order-recon/internal/models"
	"github.com/shopspring/decimal"
)

func CreateVariant(ctx context.Context, db *sql.DB, sku, productName, productSlug, imageURL, attributes string, price decimal.Decimal, stock int) (*models.Variant, error) {
	variant := &models.Variant{}

	query := `
		INSERT INTO variants (sku, product_name, product_slug, image_url, attributes, price, stock, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		RETURNING id, sku, product_name, product_slug, image_url, attributes, price, stock, created_at, updated_at`

	err := db.QueryRowContext(ctx, query, sku, productName, productSlug, imageURL, attributes, price, stock).Scan(
		&variant.ID,
		&variant.SKU,
		&variant.ProductName,
		&variant.ProductSlug,
		&variant.ImageURL,
		&variant.Attributes,
		&variant.Price,
		&variant.Stock,
		&variant.CreatedAt,
		&variant.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err, "variants_sku_key") {
			return nil, fmt.Errorf("sku %q: %w", sku, database.ErrDuplicateSKU)
		}
		return nil, fmt.Errorf("create variant: %w", err)
	}

	return variant, nil
}

func GetVariant(ctx context.Context, db *sql.DB, id int64) (*models.Variant, error) {
	variant := &models.Variant{}

	query := `
		SELECT id, sku, product_name, product_slug, image_url, attributes, price, stock, created_at, updated_at
		FROM variants
		WHERE id = $1`

	err := db.QueryRowContext(ctx, query, id).Scan(
		&variant.ID,
		&variant.SKU,
		&variant.ProductName,
		&variant.ProductSlug,
		&variant.ImageURL,
		&variant.Attributes,
		&variant.Price,
		&variant.Stock,
		&variant.CreatedAt,
		&variant.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrVariantNotFound
		}
		return nil, fmt.Errorf("get variant: %w", err)
	}

	return variant, nil
}

// lockVariant reads the variant inside the caller's transaction with a row
// lock, so the snapshot taken for an order line cannot race a price update.
func lockVariant(ctx context.Context, tx *sql.Tx, id int64) (*models.Variant, error) {
	variant := &models.Variant{}

	query := `
		SELECT id, sku, product_name, product_slug, image_url, attributes, price, stock, created_at, updated_at
		FROM variants
		WHERE id = $1
		FOR UPDATE`

	err := tx.QueryRowContext(ctx, query, id).Scan(
		&variant.ID,
		&variant.SKU,
		&variant.ProductName,
		&variant.ProductSlug,
		&variant.ImageURL,
		&variant.Attributes,
		&variant.Price,
		&variant.Stock,
		&variant.CreatedAt,
		&variant.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrVariantNotFound
		}
		return nil, fmt.Errorf("lock variant %d: %w", id, err)
	}

	return variant, nil
}

// ReserveStock atomically decrements the variant's stock counter, failing
// with ErrInsufficientStock instead of ever driving it below zero. Must run
// inside the same transaction that creates the order rows so a later line's
// failure rolls this decrement back.
func ReserveStock(ctx context.Context, tx *sql.Tx, variantID int64, quantity int) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE variants
		 SET stock = stock - $1,
		     updated_at = NOW()
		 WHERE id = $2
		   AND stock >= $1`,
		quantity, variantID)
	if err != nil {
		return fmt.Errorf("reserve stock: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrInsufficientStock
	}

	return nil
}

// ReleaseStock returns previously reserved units to the counter. Callers are
// responsible for the one-shot guard (orders.stock_released); this function
// increments unconditionally.
func ReleaseStock(ctx context.Context, tx *sql.Tx, variantID int64, quantity int) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE variants
		 SET stock = stock + $1,
		     updated_at = NOW()
		 WHERE id = $2`,
		quantity, variantID)
	if err != nil {
		return fmt.Errorf("release stock: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrVariantNotFound
	}

	return nil
}
