package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/digkill/photogen/internal/models"
)

type PackageRepository struct {
	db *sql.DB
}

func NewPackageRepository(db *sql.DB) *PackageRepository {
	return &PackageRepository{db: db}
}

func (r *PackageRepository) GetByID(ctx context.Context, id string) (*models.Package, error) {
	const query = `SELECT id, name, visible_categories, defaults, created_at FROM packages WHERE id = ?`
	var p models.Package
	var visible, defaults string
	var created int64
	if err := r.db.QueryRowContext(ctx, query, id).Scan(&p.ID, &p.Name, &visible, &defaults, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get package: %w", err)
	}
	if err := json.Unmarshal([]byte(visible), &p.VisibleCategories); err != nil {
		return nil, fmt.Errorf("decode package %s categories: %w", id, err)
	}
	p.Defaults = []byte(defaults)
	p.CreatedAt = fromMillis(created)
	return &p, nil
}

func (r *PackageRepository) Create(ctx context.Context, pkg *models.Package) (*models.Package, error) {
	const query = `INSERT INTO packages (id, name, visible_categories, defaults, created_at) VALUES (?, ?, ?, ?, ?)`
	visible, err := json.Marshal(pkg.VisibleCategories)
	if err != nil {
		return nil, fmt.Errorf("encode package categories: %w", err)
	}
	defaults := pkg.Defaults
	if len(defaults) == 0 {
		defaults = []byte("{}")
	}
	ms := nowMillis()
	if _, err := r.db.ExecContext(ctx, query, pkg.ID, pkg.Name, string(visible), string(defaults), ms); err != nil {
		return nil, fmt.Errorf("insert package: %w", err)
	}
	pkg.CreatedAt = fromMillis(ms)
	return pkg, nil
}

// Owns reports whether userID has purchased packageID.
func (r *PackageRepository) Owns(ctx context.Context, userID, packageID string) (bool, error) {
	const query = `SELECT COUNT(*) FROM package_ownerships WHERE user_id = ? AND package_id = ?`
	var count int
	if err := r.db.QueryRowContext(ctx, query, userID, packageID).Scan(&count); err != nil {
		return false, fmt.Errorf("check package ownership: %w", err)
	}
	return count > 0, nil
}

func (r *PackageRepository) GrantOwnership(ctx context.Context, userID, packageID string) error {
	owned, err := r.Owns(ctx, userID, packageID)
	if err != nil {
		return err
	}
	if owned {
		return nil
	}
	const query = `INSERT INTO package_ownerships (user_id, package_id, created_at) VALUES (?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, userID, packageID, nowMillis()); err != nil {
		return fmt.Errorf("grant package ownership: %w", err)
	}
	return nil
}
