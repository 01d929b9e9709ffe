package db

import (
	"context"
	"time"

	"github.com/hjunqq/hydrosim-platform/internal/errors"
	"github.com/hjunqq/hydrosim-platform/internal/types"
)

const buildConfigColumns = `student_id, repo_url, branch, dockerfile_path, context_path, registry_id, image_repo, tag_strategy, auto_build, auto_deploy, deploy_key_public, deploy_key_private, deploy_key_fingerprint, deploy_key_created_at, created_at, updated_at`

// BuildConfigRepository handles per-student build configuration rows.
type BuildConfigRepository struct {
	db DBTX
}

func NewBuildConfigRepository(db DBTX) *BuildConfigRepository {
	return &BuildConfigRepository{db: db}
}

func scanBuildConfig(row interface{ Scan(...any) error }) (*types.BuildConfig, error) {
	c := &types.BuildConfig{}
	err := row.Scan(
		&c.StudentID, &c.RepoURL, &c.Branch, &c.DockerfilePath, &c.ContextPath,
		&c.RegistryID, &c.ImageRepo, &c.TagStrategy, &c.AutoBuild, &c.AutoDeploy,
		&c.DeployKeyPublic, &c.DeployKeyPrivate, &c.DeployKeyFingerprint,
		&c.DeployKeyCreatedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (r *BuildConfigRepository) GetByStudentID(ctx context.Context, studentID int64) (*types.BuildConfig, error) {
	query := `SELECT ` + buildConfigColumns + ` FROM build_configs WHERE student_id = $1`
	c, err := scanBuildConfig(r.db.QueryRowContext(ctx, query, studentID))
	if err != nil {
		return nil, errors.WrapDBError(err, errors.ErrBuildConfigNotFound)
	}
	return c, nil
}

func (r *BuildConfigRepository) List(ctx context.Context) ([]*types.BuildConfig, error) {
	query := `SELECT ` + buildConfigColumns + ` FROM build_configs`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.WrapDBError(err, nil)
	}
	defer rows.Close()

	var configs []*types.BuildConfig
	for rows.Next() {
		c, err := scanBuildConfig(rows)
		if err != nil {
			return nil, errors.WrapDBError(err, nil)
		}
		configs = append(configs, c)
	}
	return configs, rows.Err()
}

// Upsert creates the config lazily on first write, replacing the editable
// fields on subsequent writes. Deploy-key columns are managed separately.
func (r *BuildConfigRepository) Upsert(ctx context.Context, c *types.BuildConfig) error {
	query := `
		INSERT INTO build_configs (student_id, repo_url, branch, dockerfile_path, context_path, registry_id, image_repo, tag_strategy, auto_build, auto_deploy)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (student_id) DO UPDATE SET
			repo_url = EXCLUDED.repo_url,
			branch = EXCLUDED.branch,
			dockerfile_path = EXCLUDED.dockerfile_path,
			context_path = EXCLUDED.context_path,
			registry_id = EXCLUDED.registry_id,
			image_repo = EXCLUDED.image_repo,
			tag_strategy = EXCLUDED.tag_strategy,
			auto_build = EXCLUDED.auto_build,
			auto_deploy = EXCLUDED.auto_deploy,
			updated_at = now()
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query,
		c.StudentID, c.RepoURL, c.Branch, c.DockerfilePath, c.ContextPath,
		c.RegistryID, c.ImageRepo, c.TagStrategy, c.AutoBuild, c.AutoDeploy,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return errors.WrapDBError(err, nil)
	}
	return nil
}

// SetDeployKey stores a freshly generated key pair. At most one pair exists
// per config; callers enforce rotation privileges.
func (r *BuildConfigRepository) SetDeployKey(ctx context.Context, studentID int64, publicKey, privateKey, fingerprint string) error {
	query := `
		UPDATE build_configs
		SET deploy_key_public = $1, deploy_key_private = $2, deploy_key_fingerprint = $3,
		    deploy_key_created_at = $4, updated_at = now()
		WHERE student_id = $5
	`
	result, err := r.db.ExecContext(ctx, query, publicKey, privateKey, fingerprint, time.Now().UTC(), studentID)
	if err != nil {
		return errors.WrapDBError(err, nil)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return errors.ErrBuildConfigNotFound
	}
	return nil
}
