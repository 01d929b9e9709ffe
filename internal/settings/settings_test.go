package settings

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hjunqq/hydrosim-platform/internal/errors"
	"github.com/hjunqq/hydrosim-platform/internal/types"
)

type fakeStore struct {
	row     *types.SystemSetting
	creates int
	updates int
}

func (f *fakeStore) Get(ctx context.Context) (*types.SystemSetting, error) {
	if f.row == nil {
		return nil, errors.ErrNotFound
	}
	return f.row, nil
}

func (f *fakeStore) Create(ctx context.Context, s *types.SystemSetting) error {
	f.creates++
	s.ID = 1
	f.row = s
	return nil
}

func (f *fakeStore) Update(ctx context.Context, s *types.SystemSetting) error {
	f.updates++
	f.row = s
	return nil
}

func TestGetOrCreate(t *testing.T) {
	t.Run("creates row with defaults", func(t *testing.T) {
		store := &fakeStore{}
		r := NewResolver(store)

		s, err := r.GetOrCreate(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, store.creates)
		assert.Equal(t, DefaultStudentDomainPrefix, s.StudentDomainPrefix)
		assert.Equal(t, DefaultStudentDomainBase, s.StudentDomainBase)
		assert.Equal(t, DefaultBuildNamespace, s.BuildNamespace)
		assert.Equal(t, DefaultImageRepoTemplate, s.DefaultImageRepoTemplate)
	})

	t.Run("backfills missing defaults", func(t *testing.T) {
		store := &fakeStore{row: &types.SystemSetting{ID: 1, StudentDomainBase: "example.org"}}
		r := NewResolver(store)

		s, err := r.GetOrCreate(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, store.updates)
		assert.Equal(t, "example.org", s.StudentDomainBase)
		assert.Equal(t, DefaultStudentDomainPrefix, s.StudentDomainPrefix)
	})

	t.Run("complete row left alone", func(t *testing.T) {
		store := &fakeStore{row: &types.SystemSetting{
			ID:                       1,
			StudentDomainPrefix:      "app-",
			StudentDomainBase:        "example.org",
			BuildNamespace:           "builds",
			DefaultImageRepoTemplate: "reg.local/{{student_code}}",
		}}
		r := NewResolver(store)

		_, err := r.GetOrCreate(context.Background())
		require.NoError(t, err)
		assert.Zero(t, store.updates)
	})
}

func TestDomainParts(t *testing.T) {
	s := &types.SystemSetting{
		StudentDomainPrefix: "stu-",
		StudentDomainBase:   "hydrosim.cn",
	}

	prefix, suffix, full := DomainParts(s, "A1", types.ProjectClassGD)
	assert.Equal(t, "stu-", prefix)
	assert.Equal(t, "gd.hydrosim.cn", suffix)
	assert.Equal(t, "stu-a1.gd.hydrosim.cn", full)
}

func TestDomainPartsNormalization(t *testing.T) {
	s := &types.SystemSetting{
		StudentDomainPrefix: "STU-",
		StudentDomainBase:   " .hydrosim.cn ",
	}

	_, suffix, full := DomainParts(s, "U_2023 001", types.ProjectClassCD)
	assert.Equal(t, "cd.hydrosim.cn", suffix)
	assert.Equal(t, "stu-u-2023-001.cd.hydrosim.cn", full)
}

func TestNormalizeRegistryHost(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://reg.example.com", "reg.example.com"},
		{"http://reg.example.com/", "reg.example.com"},
		{"reg.example.com/", "reg.example.com"},
		{"reg.example.com:5000", "reg.example.com:5000"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeRegistryHost(tt.in), "input %q", tt.in)
	}
}

func TestRenderImageRepo(t *testing.T) {
	registry := &types.Registry{URL: "https://reg.example.com/"}

	t.Run("full substitution", func(t *testing.T) {
		got := RenderImageRepo("{{registry}}/hydrosim/{{student_code}}", registry, "a1")
		assert.Equal(t, "reg.example.com/hydrosim/a1", got)
	})

	t.Run("scheme and bare host render identically", func(t *testing.T) {
		bare := &types.Registry{URL: "reg.example.com"}
		withScheme := RenderImageRepo("{{registry}}/x/{{student_code}}", registry, "a1")
		withoutScheme := RenderImageRepo("{{registry}}/x/{{student_code}}", bare, "a1")
		assert.Equal(t, withScheme, withoutScheme)
	})

	t.Run("registry demanded but missing", func(t *testing.T) {
		assert.Empty(t, RenderImageRepo("{{registry}}/x/{{student_code}}", nil, "a1"))
	})

	t.Run("template without registry placeholder", func(t *testing.T) {
		got := RenderImageRepo("local/{{student_code}}", nil, "a1")
		assert.Equal(t, "local/a1", got)
	})

	t.Run("empty template", func(t *testing.T) {
		assert.Empty(t, RenderImageRepo("", registry, "a1"))
	})
}
