package db

import (
	"context"

	"github.com/hjunqq/hydrosim-platform/internal/errors"
	"github.com/hjunqq/hydrosim-platform/internal/types"
)

const registryColumns = `id, name, url, username, password, is_active, created_at`

// RegistryRepository handles registry credential rows.
type RegistryRepository struct {
	db DBTX
}

func NewRegistryRepository(db DBTX) *RegistryRepository {
	return &RegistryRepository{db: db}
}

func scanRegistry(row interface{ Scan(...any) error }) (*types.Registry, error) {
	reg := &types.Registry{}
	err := row.Scan(&reg.ID, &reg.Name, &reg.URL, &reg.Username, &reg.Password, &reg.IsActive, &reg.CreatedAt)
	if err != nil {
		return nil, err
	}
	return reg, nil
}

func (r *RegistryRepository) GetByID(ctx context.Context, id int64) (*types.Registry, error) {
	query := `SELECT ` + registryColumns + ` FROM registries WHERE id = $1`
	reg, err := scanRegistry(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, errors.WrapDBError(err, errors.ErrRegistryNotFound)
	}
	return reg, nil
}

func (r *RegistryRepository) List(ctx context.Context) ([]*types.Registry, error) {
	query := `SELECT ` + registryColumns + ` FROM registries ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.WrapDBError(err, nil)
	}
	defer rows.Close()

	var registries []*types.Registry
	for rows.Next() {
		reg, err := scanRegistry(rows)
		if err != nil {
			return nil, errors.WrapDBError(err, nil)
		}
		registries = append(registries, reg)
	}
	return registries, rows.Err()
}
