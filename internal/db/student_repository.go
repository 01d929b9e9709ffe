package db

import (
	"context"

	"github.com/hjunqq/hydrosim-platform/internal/errors"
	"github.com/hjunqq/hydrosim-platform/internal/types"
)

const studentColumns = `id, student_code, name, project_class, teacher_id, git_repo_url, expected_image, domain, created_at`

// StudentRepository handles student reads and domain write-back. Full CRUD
// lives with the admin surface; the core only needs lookups.
type StudentRepository struct {
	db DBTX
}

func NewStudentRepository(db DBTX) *StudentRepository {
	return &StudentRepository{db: db}
}

func scanStudent(row interface{ Scan(...any) error }) (*types.Student, error) {
	s := &types.Student{}
	err := row.Scan(
		&s.ID, &s.StudentCode, &s.Name, &s.ProjectClass, &s.TeacherID,
		&s.GitRepoURL, &s.ExpectedImage, &s.Domain, &s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *StudentRepository) GetByID(ctx context.Context, id int64) (*types.Student, error) {
	query := `SELECT ` + studentColumns + ` FROM students WHERE id = $1`
	s, err := scanStudent(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, errors.WrapDBError(err, errors.ErrStudentNotFound)
	}
	return s, nil
}

func (r *StudentRepository) GetByCode(ctx context.Context, code string) (*types.Student, error) {
	query := `SELECT ` + studentColumns + ` FROM students WHERE student_code = $1`
	s, err := scanStudent(r.db.QueryRowContext(ctx, query, code))
	if err != nil {
		return nil, errors.WrapDBError(err, errors.ErrStudentNotFound)
	}
	return s, nil
}

func (r *StudentRepository) List(ctx context.Context) ([]*types.Student, error) {
	query := `SELECT ` + studentColumns + ` FROM students ORDER BY student_code`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.WrapDBError(err, nil)
	}
	defer rows.Close()

	var students []*types.Student
	for rows.Next() {
		s, err := scanStudent(rows)
		if err != nil {
			return nil, errors.WrapDBError(err, nil)
		}
		students = append(students, s)
	}
	return students, rows.Err()
}

// UpdateDomain persists the student's public domain after a deploy detects
// drift.
func (r *StudentRepository) UpdateDomain(ctx context.Context, studentID int64, domain string) error {
	query := `UPDATE students SET domain = $1 WHERE id = $2`
	if _, err := r.db.ExecContext(ctx, query, domain, studentID); err != nil {
		return errors.WrapDBError(err, nil)
	}
	return nil
}
