package settings

import (
	"context"
	"net/url"
	"strings"

	"github.com/hjunqq/hydrosim-platform/internal/errors"
	"github.com/hjunqq/hydrosim-platform/internal/naming"
	"github.com/hjunqq/hydrosim-platform/internal/types"
)

const (
	DefaultStudentDomainPrefix = "stu-"
	DefaultStudentDomainBase   = "hydrosim.cn"
	DefaultBuildNamespace      = "hydrosim"
	DefaultImageRepoTemplate   = "{{registry}}/hydrosim/{{student_code}}"
)

// Store is the persistence surface the resolver needs.
type Store interface {
	Get(ctx context.Context) (*types.SystemSetting, error)
	Create(ctx context.Context, s *types.SystemSetting) error
	Update(ctx context.Context, s *types.SystemSetting) error
}

// Resolver reads the singleton SystemSetting row and derives per-student
// hosts and image repositories from it.
type Resolver struct {
	store Store
}

func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// GetOrCreate loads the settings row, creating it on first use and
// backfilling any defaults that are missing.
func (r *Resolver) GetOrCreate(ctx context.Context) (*types.SystemSetting, error) {
	s, err := r.store.Get(ctx)
	if err != nil {
		if !errors.IsNotFound(err) {
			return nil, err
		}
		s = &types.SystemSetting{}
		applyDefaults(s)
		if err := r.store.Create(ctx, s); err != nil {
			return nil, err
		}
		return s, nil
	}

	if applyDefaults(s) {
		if err := r.store.Update(ctx, s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func applyDefaults(s *types.SystemSetting) bool {
	updated := false
	if s.StudentDomainPrefix == "" {
		s.StudentDomainPrefix = DefaultStudentDomainPrefix
		updated = true
	}
	if s.StudentDomainBase == "" {
		s.StudentDomainBase = DefaultStudentDomainBase
		updated = true
	}
	if s.BuildNamespace == "" {
		s.BuildNamespace = DefaultBuildNamespace
		updated = true
	}
	if s.DefaultImageRepoTemplate == "" {
		s.DefaultImageRepoTemplate = DefaultImageRepoTemplate
		updated = true
	}
	return updated
}

// DomainParts renders the components of a student's public host:
// {prefix}{label}.{class}.{base}.
func DomainParts(s *types.SystemSetting, studentCode string, class types.ProjectClass) (hostPrefix, domainSuffix, fullDomain string) {
	prefix := s.StudentDomainPrefix
	if prefix == "" {
		prefix = DefaultStudentDomainPrefix
	}
	prefix = strings.ToLower(prefix)

	base := s.StudentDomainBase
	if base == "" {
		base = DefaultStudentDomainBase
	}
	base = strings.TrimLeft(strings.TrimSpace(base), ".")

	classKey := strings.ToLower(class.String())
	host := prefix + naming.DNSLabel(studentCode)
	domainSuffix = classKey + "." + base
	return prefix, domainSuffix, host + "." + domainSuffix
}

// NormalizeRegistryHost strips any scheme and trailing slash from a registry
// URL, leaving the bare host usable inside image references and
// dockerconfigjson auth keys.
func NormalizeRegistryHost(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return ""
	}
	if strings.Contains(rawURL, "://") {
		parsed, err := url.Parse(rawURL)
		if err == nil {
			host := parsed.Host
			if host == "" {
				host = parsed.Path
			}
			return strings.TrimRight(host, "/")
		}
	}
	return strings.TrimRight(rawURL, "/")
}

// RenderImageRepo substitutes {{registry}} and {{student_code}} into an
// image-repo template. It returns "" when the template demands a registry
// and none is configured.
func RenderImageRepo(template string, registry *types.Registry, studentCode string) string {
	if template == "" {
		return ""
	}
	result := template
	if strings.Contains(result, "{{registry}}") {
		if registry == nil || registry.URL == "" {
			return ""
		}
		result = strings.ReplaceAll(result, "{{registry}}", NormalizeRegistryHost(registry.URL))
	}
	return strings.ReplaceAll(result, "{{student_code}}", studentCode)
}
