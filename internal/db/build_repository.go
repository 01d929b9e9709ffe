package db

import (
	"context"

	"github.com/hjunqq/hydrosim-platform/internal/errors"
	"github.com/hjunqq/hydrosim-platform/internal/types"
)

const buildColumns = `id, student_id, commit_sha, branch, image_tag, status, message, job_name, log_object_key, started_at, finished_at, duration, created_at`

// BuildRepository handles build row persistence.
type BuildRepository struct {
	db DBTX
}

func NewBuildRepository(db DBTX) *BuildRepository {
	return &BuildRepository{db: db}
}

func scanBuild(row interface{ Scan(...any) error }) (*types.Build, error) {
	b := &types.Build{}
	err := row.Scan(
		&b.ID, &b.StudentID, &b.CommitSHA, &b.Branch, &b.ImageTag, &b.Status,
		&b.Message, &b.JobName, &b.LogObjectKey, &b.StartedAt, &b.FinishedAt,
		&b.Duration, &b.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (r *BuildRepository) Create(ctx context.Context, b *types.Build) error {
	query := `
		INSERT INTO builds (student_id, commit_sha, branch, image_tag, status, message)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`
	err := r.db.QueryRowContext(ctx, query,
		b.StudentID, b.CommitSHA, b.Branch, b.ImageTag, b.Status, b.Message,
	).Scan(&b.ID, &b.CreatedAt)
	if err != nil {
		return errors.WrapDBError(err, nil)
	}
	return nil
}

func (r *BuildRepository) Update(ctx context.Context, b *types.Build) error {
	query := `
		UPDATE builds
		SET status = $1, message = $2, job_name = $3, log_object_key = $4,
		    started_at = $5, finished_at = $6, duration = $7
		WHERE id = $8
	`
	_, err := r.db.ExecContext(ctx, query,
		b.Status, b.Message, b.JobName, b.LogObjectKey,
		b.StartedAt, b.FinishedAt, b.Duration, b.ID,
	)
	if err != nil {
		return errors.WrapDBError(err, nil)
	}
	return nil
}

func (r *BuildRepository) GetByID(ctx context.Context, id int64) (*types.Build, error) {
	query := `SELECT ` + buildColumns + ` FROM builds WHERE id = $1`
	b, err := scanBuild(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, errors.WrapDBError(err, errors.ErrBuildNotFound)
	}
	return b, nil
}

func (r *BuildRepository) ListByStudent(ctx context.Context, studentID int64, limit int) ([]*types.Build, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + buildColumns + ` FROM builds WHERE student_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, studentID, limit)
	if err != nil {
		return nil, errors.WrapDBError(err, nil)
	}
	defer rows.Close()

	var builds []*types.Build
	for rows.Next() {
		b, err := scanBuild(rows)
		if err != nil {
			return nil, errors.WrapDBError(err, nil)
		}
		builds = append(builds, b)
	}
	return builds, rows.Err()
}
