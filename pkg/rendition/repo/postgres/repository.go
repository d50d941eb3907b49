package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/simple-rendition/pkg/rendition"
)

// Schema creates the asset table. Formats are stored as a JSONB object so
// merges can happen in a single UPDATE.
const Schema = `
CREATE TABLE IF NOT EXISTS asset (
	id                UUID PRIMARY KEY,
	name              TEXT NOT NULL DEFAULT '',
	hash              TEXT NOT NULL DEFAULT '',
	ext               TEXT NOT NULL DEFAULT '',
	mime              TEXT NOT NULL DEFAULT '',
	width             INTEGER NOT NULL DEFAULT 0,
	height            INTEGER NOT NULL DEFAULT 0,
	size_in_bytes     BIGINT NOT NULL DEFAULT 0,
	url               TEXT NOT NULL DEFAULT '',
	provider          TEXT NOT NULL DEFAULT '',
	provider_metadata JSONB,
	formats           JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const assetColumns = `id, name, hash, ext, mime, width, height, size_in_bytes, url,
	provider, provider_metadata, formats, created_at, updated_at`

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Repository implements rendition.AssetStore using PostgreSQL
type Repository struct {
	db DBTX
}

// New creates a new PostgreSQL repository
func New(db DBTX) *Repository {
	return &Repository{db: db}
}

// NewWithPool creates a new PostgreSQL repository with connection pool
func NewWithPool(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

// Migrate creates the asset table when missing
func (r *Repository) Migrate(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, Schema); err != nil {
		return r.handlePostgresError("migrate", err)
	}
	return nil
}

// Error handling helper
func (r *Repository) handlePostgresError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("asset already exists")
		case "23502": // not_null_violation
			return fmt.Errorf("required field %s is missing", pgErr.ColumnName)
		case "42P01": // undefined_table
			return fmt.Errorf("table does not exist - database migration required")
		default:
			return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
		}
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return rendition.ErrAssetNotFound
	}

	return fmt.Errorf("database error in %s: %w", operation, err)
}

func (r *Repository) CreateAsset(ctx context.Context, asset *rendition.Asset) error {
	providerMetadata, err := marshalNullable(asset.ProviderMetadata)
	if err != nil {
		return fmt.Errorf("encode provider metadata: %w", err)
	}
	formats, err := marshalFormats(asset.Formats)
	if err != nil {
		return fmt.Errorf("encode formats: %w", err)
	}

	query := `
		INSERT INTO asset (
			id, name, hash, ext, mime, width, height, size_in_bytes, url,
			provider, provider_metadata, formats, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::jsonb, $12::jsonb, $13, $14)`

	_, err = r.db.Exec(ctx, query,
		asset.ID, asset.Name, asset.Hash, asset.Ext, asset.Mime,
		asset.Width, asset.Height, asset.SizeBytes, asset.URL,
		asset.Provider, providerMetadata, formats, asset.CreatedAt, asset.UpdatedAt)
	if err != nil {
		return r.handlePostgresError("create asset", err)
	}
	return nil
}

func (r *Repository) GetAsset(ctx context.Context, id uuid.UUID) (*rendition.Asset, error) {
	query := `SELECT ` + assetColumns + ` FROM asset WHERE id = $1`

	asset, err := scanAsset(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, r.handlePostgresError("get asset", err)
	}
	return asset, nil
}

func (r *Repository) ListAssets(ctx context.Context) ([]*rendition.Asset, error) {
	query := `SELECT ` + assetColumns + ` FROM asset ORDER BY created_at, id`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, r.handlePostgresError("list assets", err)
	}
	defer rows.Close()

	var assets []*rendition.Asset
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, r.handlePostgresError("list assets", err)
		}
		assets = append(assets, asset)
	}
	if err := rows.Err(); err != nil {
		return nil, r.handlePostgresError("list assets", err)
	}
	return assets, nil
}

func (r *Repository) DeleteAsset(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM asset WHERE id = $1`, id)
	if err != nil {
		return r.handlePostgresError("delete asset", err)
	}
	if tag.RowsAffected() == 0 {
		return rendition.ErrAssetNotFound
	}
	return nil
}

// MergeFormats applies the delta with the JSONB concatenation operator, so
// the read-modify-write happens inside one statement.
func (r *Repository) MergeFormats(ctx context.Context, id uuid.UUID, delta map[string]rendition.Rendition) (*rendition.Asset, error) {
	formats, err := marshalFormats(delta)
	if err != nil {
		return nil, fmt.Errorf("encode formats: %w", err)
	}

	query := `
		UPDATE asset
		SET formats = COALESCE(formats, '{}'::jsonb) || $2::jsonb, updated_at = $3
		WHERE id = $1
		RETURNING ` + assetColumns

	asset, err := scanAsset(r.db.QueryRow(ctx, query, id, formats, time.Now().UTC()))
	if err != nil {
		return nil, r.handlePostgresError("merge formats", err)
	}
	return asset, nil
}

func scanAsset(row pgx.Row) (*rendition.Asset, error) {
	var (
		asset            rendition.Asset
		providerMetadata []byte
		formats          []byte
	)
	err := row.Scan(
		&asset.ID, &asset.Name, &asset.Hash, &asset.Ext, &asset.Mime,
		&asset.Width, &asset.Height, &asset.SizeBytes, &asset.URL,
		&asset.Provider, &providerMetadata, &formats, &asset.CreatedAt, &asset.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if len(providerMetadata) > 0 {
		if err := json.Unmarshal(providerMetadata, &asset.ProviderMetadata); err != nil {
			return nil, fmt.Errorf("decode provider metadata: %w", err)
		}
	}
	asset.Formats = map[string]rendition.Rendition{}
	if len(formats) > 0 {
		if err := json.Unmarshal(formats, &asset.Formats); err != nil {
			return nil, fmt.Errorf("decode formats: %w", err)
		}
	}
	return &asset, nil
}

func marshalFormats(formats map[string]rendition.Rendition) (string, error) {
	if formats == nil {
		formats = map[string]rendition.Rendition{}
	}
	b, err := json.Marshal(formats)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func marshalNullable(v map[string]any) (*string, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}
