package types

import "time"

// ProjectClass identifies the cohort a student belongs to. Each class maps to
// a fixed Kubernetes namespace.
type ProjectClass string

const (
	ProjectClassGD ProjectClass = "gd"
	ProjectClassCD ProjectClass = "cd"
)

// Valid reports whether the class key is one of the deployable cohorts.
func (c ProjectClass) Valid() bool {
	return c == ProjectClassGD || c == ProjectClassCD
}

func (c ProjectClass) String() string {
	return string(c)
}

// BuildStatus is the lifecycle lattice of a build row.
type BuildStatus string

const (
	BuildStatusPending   BuildStatus = "pending"
	BuildStatusRunning   BuildStatus = "running"
	BuildStatusSuccess   BuildStatus = "success"
	BuildStatusFailed    BuildStatus = "failed"
	BuildStatusError     BuildStatus = "error"
	BuildStatusCancelled BuildStatus = "cancelled"
)

// Terminal reports whether the status is sticky: once a build reaches a
// terminal status, sync must never move it again.
func (s BuildStatus) Terminal() bool {
	switch s {
	case BuildStatusSuccess, BuildStatusFailed, BuildStatusError, BuildStatusCancelled:
		return true
	}
	return false
}

// DeploymentStatus is the lifecycle lattice of a deployment record.
type DeploymentStatus string

const (
	DeploymentStatusPending   DeploymentStatus = "pending"
	DeploymentStatusDeploying DeploymentStatus = "deploying"
	DeploymentStatusRunning   DeploymentStatus = "running"
	DeploymentStatusFailed    DeploymentStatus = "failed"
)

// TagStrategy selects how a build's image tag is derived.
type TagStrategy string

const (
	TagStrategyShortSHA     TagStrategy = "short_sha"
	TagStrategyBranchLatest TagStrategy = "branch_latest"
)

// Student is a registered student and the unit of deployment isolation.
type Student struct {
	ID            int64
	StudentCode   string
	Name          string
	ProjectClass  ProjectClass
	TeacherID     *int64
	GitRepoURL    *string
	ExpectedImage *string
	Domain        *string
	CreatedAt     time.Time
}

// BuildConfig holds the per-student build pipeline configuration (1:1 with
// Student, created lazily on first write).
type BuildConfig struct {
	StudentID            int64
	RepoURL              string
	Branch               string
	DockerfilePath       string
	ContextPath          string
	RegistryID           *int64
	ImageRepo            *string
	TagStrategy          TagStrategy
	AutoBuild            bool
	AutoDeploy           bool
	DeployKeyPublic      *string
	DeployKeyPrivate     *string
	DeployKeyFingerprint *string
	DeployKeyCreatedAt   *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Build is one attempt to produce a container image from a student's
// repository.
type Build struct {
	ID           int64
	StudentID    int64
	CommitSHA    string
	Branch       string
	ImageTag     string
	Status       BuildStatus
	Message      string
	JobName      *string
	LogObjectKey *string
	StartedAt    *time.Time
	FinishedAt   *time.Time
	Duration     *int64
	CreatedAt    time.Time
}

// Deployment is the platform's record of one deploy attempt, distinct from
// the cluster Deployment object. A row is written before any cluster
// mutation so that failures are always attributable.
type Deployment struct {
	ID             int64
	StudentID      int64
	BuildID        *int64
	ImageTag       string
	Status         DeploymentStatus
	Message        string
	LastDeployTime *time.Time
	CreatedAt      time.Time
}

// Registry is a set of OCI registry credentials usable as a build
// destination.
type Registry struct {
	ID        int64
	Name      string
	URL       string
	Username  string
	Password  string
	IsActive  bool
	CreatedAt time.Time
}

// SystemSetting is the singleton row carrying platform-wide defaults.
type SystemSetting struct {
	ID                       int64
	StudentDomainPrefix      string
	StudentDomainBase        string
	BuildNamespace           string
	DefaultRegistryID        *int64
	DefaultImageRepoTemplate string
}
