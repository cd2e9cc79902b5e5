package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tytya04/zakupki/internal/catalog/domain"
)

// Repository loads the catalog and synonym tables for index builds. The index
// is the read path; this repository is only hit at startup and on rebuild.
type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

func (r *Repository) LoadProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, canonical_name, unit, category, COALESCE(technical_note, '')
		FROM catalog_products
		ORDER BY canonical_name, unit`)
	if err != nil {
		return nil, fmt.Errorf("load products: %w", err)
	}
	defer rows.Close()

	var products []domain.Product
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.CanonicalName, &p.Unit, &p.Category, &p.TechnicalNote); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (r *Repository) LoadSynonyms(ctx context.Context) ([]domain.Synonym, error) {
	rows, err := r.pool.Query(ctx, `SELECT synonym_text, canonical_name FROM catalog_synonyms`)
	if err != nil {
		return nil, fmt.Errorf("load synonyms: %w", err)
	}
	defer rows.Close()

	var synonyms []domain.Synonym
	for rows.Next() {
		var s domain.Synonym
		if err := rows.Scan(&s.Text, &s.CanonicalName); err != nil {
			return nil, fmt.Errorf("scan synonym: %w", err)
		}
		synonyms = append(synonyms, s)
	}
	return synonyms, rows.Err()
}
