package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/digkill/photogen/internal/models"
)

type AssetRepository struct {
	db *sql.DB
}

func NewAssetRepository(db *sql.DB) *AssetRepository {
	return &AssetRepository{db: db}
}

const assetColumns = `id, owner_scope, raw_ref, type, content_type, size_bytes, etag, created_at`

func scanAsset(row interface{ Scan(...any) error }) (*models.Asset, error) {
	var a models.Asset
	var created int64
	if err := row.Scan(&a.ID, &a.OwnerScope, &a.RawRef, &a.Type, &a.ContentType, &a.SizeBytes, &a.ETag, &created); err != nil {
		return nil, err
	}
	a.CreatedAt = fromMillis(created)
	return &a, nil
}

func (r *AssetRepository) FindByRef(ctx context.Context, ownerScope, rawRef string) (*models.Asset, error) {
	query := `SELECT ` + assetColumns + ` FROM assets WHERE owner_scope = ? AND raw_ref = ?`
	a, err := scanAsset(r.db.QueryRowContext(ctx, query, ownerScope, rawRef))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find asset: %w", err)
	}
	return a, nil
}

func (r *AssetRepository) GetByID(ctx context.Context, id string) (*models.Asset, error) {
	query := `SELECT ` + assetColumns + ` FROM assets WHERE id = ?`
	a, err := scanAsset(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get asset: %w", err)
	}
	return a, nil
}

// FindOrCreate returns the asset for (OwnerScope, RawRef), inserting it when
// absent. A concurrent insert that wins the unique constraint is re-read.
func (r *AssetRepository) FindOrCreate(ctx context.Context, asset *models.Asset) (*models.Asset, bool, error) {
	existing, err := r.FindByRef(ctx, asset.OwnerScope, asset.RawRef)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	const query = `
INSERT INTO assets (id, owner_scope, raw_ref, type, content_type, size_bytes, etag, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	if asset.ID == "" {
		asset.ID = uuid.NewString()
	}
	ms := nowMillis()
	if _, insertErr := r.db.ExecContext(ctx, query, asset.ID, asset.OwnerScope, asset.RawRef, asset.Type, asset.ContentType, asset.SizeBytes, asset.ETag, ms); insertErr != nil {
		existing, err := r.FindByRef(ctx, asset.OwnerScope, asset.RawRef)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("insert asset: %w", insertErr)
	}
	asset.CreatedAt = fromMillis(ms)
	return asset, true, nil
}
