package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/maltedev/catalog-sync/internal/models"
)

// Repository persists scraped products and their upload outcomes. Products
// upsert by reference so reruns refresh instead of duplicating.
type Repository struct {
	db *DB
}

func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// Migrate creates the schema if it does not exist yet.
func (r *Repository) Migrate(ctx context.Context) error {
	_, err := r.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS products (
			reference    TEXT PRIMARY KEY,
			name         TEXT NOT NULL,
			description  TEXT NOT NULL DEFAULT '',
			price        NUMERIC(12,2),
			source_site  TEXT NOT NULL DEFAULT '',
			product_url  TEXT NOT NULL DEFAULT '',
			payload      JSONB NOT NULL,
			scraped_at   TIMESTAMPTZ NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS upload_outcomes (
			id                BIGSERIAL PRIMARY KEY,
			reference         TEXT NOT NULL,
			status            TEXT NOT NULL,
			reason            TEXT NOT NULL DEFAULT '',
			remote_id         BIGINT,
			attempts          INT NOT NULL DEFAULT 0,
			initial_images    INT NOT NULL DEFAULT 0,
			remaining_images  INT NOT NULL DEFAULT 0,
			error             TEXT NOT NULL DEFAULT '',
			retries_exhausted BOOLEAN NOT NULL DEFAULT FALSE,
			started_at        TIMESTAMPTZ,
			finished_at       TIMESTAMPTZ,
			created_at        TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		CREATE INDEX IF NOT EXISTS idx_upload_outcomes_reference ON upload_outcomes (reference);
		CREATE INDEX IF NOT EXISTS idx_upload_outcomes_status ON upload_outcomes (status);
	`)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// SaveProducts upserts the scraped batch in one transaction.
func (r *Repository) SaveProducts(ctx context.Context, records []*models.ProductRecord) error {
	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		for _, rec := range records {
			payload, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("failed to marshal product %s: %w", rec.Reference, err)
			}

			_, err = tx.Exec(ctx, `
				INSERT INTO products (reference, name, description, price, source_site, product_url, payload, scraped_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
				ON CONFLICT (reference) DO UPDATE SET
					name = EXCLUDED.name,
					description = EXCLUDED.description,
					price = EXCLUDED.price,
					source_site = EXCLUDED.source_site,
					product_url = EXCLUDED.product_url,
					payload = EXCLUDED.payload,
					scraped_at = EXCLUDED.scraped_at,
					updated_at = CURRENT_TIMESTAMP`,
				rec.Reference, rec.Name, rec.Description, rec.Price,
				rec.SourceSite, rec.ProductURL, payload, rec.ScrapedAt,
			)
			if err != nil {
				return fmt.Errorf("failed to upsert product %s: %w", rec.Reference, err)
			}
		}
		return nil
	})
}

// GetProduct loads one stored product by reference.
func (r *Repository) GetProduct(ctx context.Context, reference string) (*models.ProductRecord, error) {
	var payload []byte
	err := r.db.QueryRow(ctx,
		`SELECT payload FROM products WHERE reference = $1`, reference,
	).Scan(&payload)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load product %s: %w", reference, err)
	}

	var rec models.ProductRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, fmt.Errorf("corrupt product payload for %s: %w", reference, err)
	}
	return &rec, nil
}

// RecordOutcome appends one upload outcome. Outcomes are append-only so a
// reference's history across runs stays queryable.
func (r *Repository) RecordOutcome(ctx context.Context, rec *models.ProductRecord, outcome *models.UploadOutcome) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO upload_outcomes
			(reference, status, reason, remote_id, attempts, initial_images, remaining_images, error, retries_exhausted, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		outcome.Reference, string(outcome.Status), string(outcome.Reason),
		outcome.RemoteID, outcome.Attempts, outcome.InitialImages,
		outcome.RemainingImages, outcome.Err, outcome.RetriesExhausted,
		outcome.StartedAt, outcome.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record outcome for %s: %w", outcome.Reference, err)
	}
	return nil
}

// CountOutcomesByStatus aggregates the latest run's results for reporting.
func (r *Repository) CountOutcomesByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.Query(ctx,
		`SELECT status, COUNT(*) FROM upload_outcomes GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count outcomes: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan outcome count: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}
