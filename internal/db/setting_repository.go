package db

import (
	"context"

	"github.com/hjunqq/hydrosim-platform/internal/errors"
	"github.com/hjunqq/hydrosim-platform/internal/types"
)

// SettingRepository handles the system settings singleton row.
type SettingRepository struct {
	db DBTX
}

func NewSettingRepository(db DBTX) *SettingRepository {
	return &SettingRepository{db: db}
}

func (r *SettingRepository) Get(ctx context.Context) (*types.SystemSetting, error) {
	query := `
		SELECT id, student_domain_prefix, student_domain_base, build_namespace,
		       default_registry_id, default_image_repo_template
		FROM system_settings
		ORDER BY id
		LIMIT 1
	`
	s := &types.SystemSetting{}
	err := r.db.QueryRowContext(ctx, query).Scan(
		&s.ID, &s.StudentDomainPrefix, &s.StudentDomainBase, &s.BuildNamespace,
		&s.DefaultRegistryID, &s.DefaultImageRepoTemplate,
	)
	if err != nil {
		return nil, errors.WrapDBError(err, errors.ErrNotFound)
	}
	return s, nil
}

func (r *SettingRepository) Create(ctx context.Context, s *types.SystemSetting) error {
	query := `
		INSERT INTO system_settings (student_domain_prefix, student_domain_base, build_namespace, default_registry_id, default_image_repo_template)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	err := r.db.QueryRowContext(ctx, query,
		s.StudentDomainPrefix, s.StudentDomainBase, s.BuildNamespace,
		s.DefaultRegistryID, s.DefaultImageRepoTemplate,
	).Scan(&s.ID)
	if err != nil {
		return errors.WrapDBError(err, nil)
	}
	return nil
}

func (r *SettingRepository) Update(ctx context.Context, s *types.SystemSetting) error {
	query := `
		UPDATE system_settings
		SET student_domain_prefix = $1, student_domain_base = $2, build_namespace = $3,
		    default_registry_id = $4, default_image_repo_template = $5
		WHERE id = $6
	`
	_, err := r.db.ExecContext(ctx, query,
		s.StudentDomainPrefix, s.StudentDomainBase, s.BuildNamespace,
		s.DefaultRegistryID, s.DefaultImageRepoTemplate, s.ID,
	)
	if err != nil {
		return errors.WrapDBError(err, nil)
	}
	return nil
}
