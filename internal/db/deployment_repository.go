package db

import (
	"context"

	"github.com/hjunqq/hydrosim-platform/internal/errors"
	"github.com/hjunqq/hydrosim-platform/internal/types"
)

const deploymentColumns = `id, student_id, build_id, image_tag, status, message, last_deploy_time, created_at`

// DeploymentRepository handles deployment record persistence.
type DeploymentRepository struct {
	db DBTX
}

func NewDeploymentRepository(db DBTX) *DeploymentRepository {
	return &DeploymentRepository{db: db}
}

func scanDeployment(row interface{ Scan(...any) error }) (*types.Deployment, error) {
	d := &types.Deployment{}
	err := row.Scan(
		&d.ID, &d.StudentID, &d.BuildID, &d.ImageTag, &d.Status,
		&d.Message, &d.LastDeployTime, &d.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (r *DeploymentRepository) Create(ctx context.Context, d *types.Deployment) error {
	query := `
		INSERT INTO deployments (student_id, build_id, image_tag, status, message, last_deploy_time)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`
	err := r.db.QueryRowContext(ctx, query,
		d.StudentID, d.BuildID, d.ImageTag, d.Status, d.Message, d.LastDeployTime,
	).Scan(&d.ID, &d.CreatedAt)
	if err != nil {
		return errors.WrapDBError(err, nil)
	}
	return nil
}

func (r *DeploymentRepository) Update(ctx context.Context, d *types.Deployment) error {
	query := `
		UPDATE deployments
		SET status = $1, message = $2, last_deploy_time = $3
		WHERE id = $4
	`
	if _, err := r.db.ExecContext(ctx, query, d.Status, d.Message, d.LastDeployTime, d.ID); err != nil {
		return errors.WrapDBError(err, nil)
	}
	return nil
}

func (r *DeploymentRepository) GetByID(ctx context.Context, id int64) (*types.Deployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployments WHERE id = $1`
	d, err := scanDeployment(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, errors.WrapDBError(err, errors.ErrDeploymentNotFound)
	}
	return d, nil
}

// GetByBuildID returns the first deployment record referencing a build;
// the auto-deploy path uses this as its idempotence guard.
func (r *DeploymentRepository) GetByBuildID(ctx context.Context, buildID int64) (*types.Deployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployments WHERE build_id = $1 ORDER BY created_at ASC LIMIT 1`
	d, err := scanDeployment(r.db.QueryRowContext(ctx, query, buildID))
	if err != nil {
		return nil, errors.WrapDBError(err, errors.ErrDeploymentNotFound)
	}
	return d, nil
}

func (r *DeploymentRepository) ListByStudent(ctx context.Context, studentID int64, limit int) ([]*types.Deployment, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + deploymentColumns + ` FROM deployments WHERE student_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, studentID, limit)
	if err != nil {
		return nil, errors.WrapDBError(err, nil)
	}
	defer rows.Close()

	var deployments []*types.Deployment
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, errors.WrapDBError(err, nil)
		}
		deployments = append(deployments, d)
	}
	return deployments, rows.Err()
}
