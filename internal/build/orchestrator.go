package build

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/hjunqq/hydrosim-platform/internal/deploy"
	"github.com/hjunqq/hydrosim-platform/internal/errors"
	"github.com/hjunqq/hydrosim-platform/internal/k8s"
	"github.com/hjunqq/hydrosim-platform/internal/monitoring"
	"github.com/hjunqq/hydrosim-platform/internal/settings"
	"github.com/hjunqq/hydrosim-platform/internal/types"
)

// BuildStore persists build rows.
type BuildStore interface {
	Create(ctx context.Context, b *types.Build) error
	Update(ctx context.Context, b *types.Build) error
}

// BuildConfigStore reads per-student build configuration.
type BuildConfigStore interface {
	GetByStudentID(ctx context.Context, studentID int64) (*types.BuildConfig, error)
}

// StudentStore reads students.
type StudentStore interface {
	GetByID(ctx context.Context, id int64) (*types.Student, error)
}

// RegistryStore reads registries.
type RegistryStore interface {
	GetByID(ctx context.Context, id int64) (*types.Registry, error)
}

// DeploymentStore checks whether a build already produced a deployment
// record (auto-deploy guard).
type DeploymentStore interface {
	GetByBuildID(ctx context.Context, buildID int64) (*types.Deployment, error)
}

// SettingsResolver loads the platform settings singleton.
type SettingsResolver interface {
	GetOrCreate(ctx context.Context) (*types.SystemSetting, error)
}

// Deployer hands a successfully built image to the deploy controller.
type Deployer interface {
	Deploy(ctx context.Context, student *types.Student, image string, class types.ProjectClass, buildID *int64) (*deploy.Result, error)
}

// LogStore archives build logs to object storage. A nil store disables
// archiving.
type LogStore interface {
	UploadLog(ctx context.Context, key, content string) error
}

// GitHostRewrite maps the public git host students push to onto the
// cluster-internal SSH endpoint build jobs clone from.
type GitHostRewrite struct {
	ExternalHost string
	InternalHost string
	InternalPort int
}

// Orchestrator owns the lifecycle of a build: it materializes secrets,
// submits the Kaniko job, lazily reconciles the recorded view with the live
// Job on read, archives logs on terminal transitions and hands successful
// images to the deploy controller when auto-deploy is enabled.
type Orchestrator struct {
	client      kubernetes.Interface
	builds      BuildStore
	configs     BuildConfigStore
	students    StudentStore
	registries  RegistryStore
	deployments DeploymentStore
	settings    SettingsResolver
	deployer    Deployer
	logs        LogStore
	rewrite     GitHostRewrite
	logger      *logrus.Logger
}

func NewOrchestrator(
	client kubernetes.Interface,
	builds BuildStore,
	configs BuildConfigStore,
	students StudentStore,
	registries RegistryStore,
	deployments DeploymentStore,
	settingsResolver SettingsResolver,
	deployer Deployer,
	logs LogStore,
	rewrite GitHostRewrite,
	logger *logrus.Logger,
) *Orchestrator {
	return &Orchestrator{
		client:      client,
		builds:      builds,
		configs:     configs,
		students:    students,
		registries:  registries,
		deployments: deployments,
		settings:    settingsResolver,
		deployer:    deployer,
		logs:        logs,
		rewrite:     rewrite,
		logger:      logger,
	}
}

// RewriteFromGiteaURL derives the external host part of a GitHostRewrite
// from the configured public git URL.
func RewriteFromGiteaURL(giteaURL, internalHost string, internalPort int) GitHostRewrite {
	rewrite := GitHostRewrite{InternalHost: internalHost, InternalPort: internalPort}
	if giteaURL != "" {
		if parsed, err := url.Parse(giteaURL); err == nil {
			rewrite.ExternalHost = parsed.Hostname()
		}
	}
	return rewrite
}

// Trigger accepts a build request for a student. The build row is committed
// before the Kaniko job is submitted so a row exists iff a cluster attempt
// was made; any failure after the insert flips the row to failed with the
// operator-facing message.
func (o *Orchestrator) Trigger(ctx context.Context, studentID int64, commitSHA, branch string) (*types.Build, error) {
	config, err := o.configs.GetByStudentID(ctx, studentID)
	if err != nil {
		return nil, err
	}
	if config.RepoURL == "" {
		return nil, errors.ErrMissingRepoURL
	}

	student, err := o.students.GetByID(ctx, studentID)
	if err != nil {
		return nil, err
	}

	if commitSHA == "" {
		commitSHA = "latest"
	}
	if branch == "" {
		branch = config.Branch
	}

	sys, err := o.settings.GetOrCreate(ctx)
	if err != nil {
		return nil, err
	}
	registry, err := o.resolveRegistry(ctx, config, sys)
	if err != nil {
		return nil, err
	}

	imageRepo := o.resolveImageRepo(config, sys, registry, student)
	if imageRepo == "" {
		return nil, errors.ErrImageRepoUnresolved
	}

	imageTag := resolveImageTag(config, commitSHA, branch)
	finalImage := imageRepo + ":" + imageTag

	build := &types.Build{
		StudentID: studentID,
		CommitSHA: commitSHA,
		Branch:    branch,
		ImageTag:  imageTag,
		Status:    types.BuildStatusPending,
		Message:   "Initializing...",
	}
	if err := o.builds.Create(ctx, build); err != nil {
		return nil, err
	}

	jobName, err := o.submitJob(ctx, build, config, finalImage, sys, registry)
	if err != nil {
		o.logger.WithError(err).WithField("build_id", build.ID).Error("Failed to create build job")
		build.Status = types.BuildStatusFailed
		build.Message = failureMessage(err)
		if updateErr := o.builds.Update(ctx, build); updateErr != nil {
			o.logger.WithError(updateErr).Error("Failed to persist build failure")
		}
		return build, nil
	}

	now := time.Now().UTC()
	build.Status = types.BuildStatusRunning
	build.JobName = &jobName
	build.StartedAt = &now
	build.Message = "Job submitted"
	if err := o.builds.Update(ctx, build); err != nil {
		return nil, err
	}

	monitoring.BuildsTriggered.Inc()

	o.logger.WithFields(logrus.Fields{
		"build_id": build.ID,
		"student":  student.StudentCode,
		"job":      jobName,
		"image":    finalImage,
	}).Info("Build job submitted")

	return build, nil
}

func (o *Orchestrator) resolveRegistry(ctx context.Context, config *types.BuildConfig, sys *types.SystemSetting) (*types.Registry, error) {
	registryID := config.RegistryID
	if registryID == nil {
		registryID = sys.DefaultRegistryID
	}
	if registryID == nil {
		return nil, nil
	}
	registry, err := o.registries.GetByID(ctx, *registryID)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return registry, nil
}

func (o *Orchestrator) resolveImageRepo(config *types.BuildConfig, sys *types.SystemSetting, registry *types.Registry, student *types.Student) string {
	if config.ImageRepo != nil && *config.ImageRepo != "" {
		return *config.ImageRepo
	}
	return settings.RenderImageRepo(sys.DefaultImageRepoTemplate, registry, student.StudentCode)
}

// resolveImageTag derives the deterministic image tag for a build request.
func resolveImageTag(config *types.BuildConfig, commitSHA, branch string) string {
	strategy := config.TagStrategy
	if strategy == "" {
		strategy = types.TagStrategyShortSHA
	}
	if strategy == types.TagStrategyBranchLatest && branch != "" {
		return branch + "-latest"
	}
	if commitSHA != "" && commitSHA != "latest" {
		if len(commitSHA) > 7 {
			return commitSHA[:7]
		}
		return commitSHA
	}
	return "manual-" + randomHex(6)
}

func randomHex(n int) string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:n]
}

func (o *Orchestrator) submitJob(ctx context.Context, build *types.Build, config *types.BuildConfig, finalImage string, sys *types.SystemSetting, registry *types.Registry) (string, error) {
	if o.client == nil {
		return "", errors.ErrClusterUnavailable
	}

	jobName := fmt.Sprintf("build-%d-%s", build.ID, randomHex(6))
	namespace := sys.BuildNamespace
	if namespace == "" {
		namespace = settings.DefaultBuildNamespace
	}

	repoURL := config.RepoURL
	useSSH := k8s.IsSSHURL(repoURL)
	cloneURL := repoURL
	if useSSH {
		cloneURL = rewriteGitHost(repoURL, o.rewrite)
	}
	gitHost, gitPort := k8s.GitHostPort(cloneURL)

	gitSecretName := ""
	if useSSH {
		if config.DeployKeyPrivate == nil || *config.DeployKeyPrivate == "" {
			return "", errors.ErrInvalidInput.WithMessage("Deploy key is required for SSH clones")
		}
		gitSecretName = fmt.Sprintf("student-deploy-key-%d", build.StudentID)
		if err := o.ensureGitSecret(ctx, namespace, gitSecretName, *config.DeployKeyPrivate); err != nil {
			return "", err
		}
	}

	registrySecretName := ""
	if registry != nil {
		registrySecretName = fmt.Sprintf("kaniko-registry-auth-%d", registry.ID)
		if err := o.ensureRegistrySecret(ctx, namespace, registrySecretName, registry); err != nil {
			return "", err
		}
	}

	cloneSpec := k8s.CloneScriptSpec{
		GitURL:    cloneURL,
		CommitSHA: build.CommitSHA,
		Branch:    build.Branch,
	}
	if useSSH {
		cloneSpec.GitHost = gitHost
		cloneSpec.GitPort = gitPort
	}

	job := k8s.BuildKanikoJob(k8s.KanikoJobSpec{
		JobName:            jobName,
		Namespace:          namespace,
		Destinations:       []string{finalImage},
		ContextPath:        config.ContextPath,
		DockerfilePath:     config.DockerfilePath,
		GitSecretName:      gitSecretName,
		RegistrySecretName: registrySecretName,
		CloneScript:        k8s.BuildCloneScript(cloneSpec),
		Labels: map[string]string{
			"build-id":   fmt.Sprintf("%d", build.ID),
			"student-id": fmt.Sprintf("%d", build.StudentID),
		},
	})

	err := k8s.RetryOnServerError(ctx, func() error {
		_, createErr := o.client.BatchV1().Jobs(namespace).Create(ctx, job, metav1.CreateOptions{})
		return createErr
	})
	if err != nil {
		return "", errors.ErrCluster.WithError(err)
	}
	return jobName, nil
}

// rewriteGitHost rewrites an SSH clone URL whose host is the public git
// host onto the cluster-internal endpoint.
func rewriteGitHost(gitURL string, rewrite GitHostRewrite) string {
	if gitURL == "" || rewrite.InternalHost == "" || rewrite.ExternalHost == "" {
		return gitURL
	}

	if strings.HasPrefix(gitURL, "git@") {
		rest := gitURL[strings.Index(gitURL, "@")+1:]
		host, path := rest, ""
		if idx := strings.Index(rest, ":"); idx >= 0 {
			host, path = rest[:idx], rest[idx+1:]
		}
		if host == rewrite.ExternalHost && path != "" {
			port := rewrite.InternalPort
			if port == 0 {
				port = 22
			}
			return fmt.Sprintf("ssh://git@%s:%d/%s", rewrite.InternalHost, port, path)
		}
		return gitURL
	}

	if strings.HasPrefix(gitURL, "ssh://") {
		parsed, err := url.Parse(gitURL)
		if err != nil || parsed.Hostname() != rewrite.ExternalHost {
			return gitURL
		}
		user := "git"
		if parsed.User != nil && parsed.User.Username() != "" {
			user = parsed.User.Username()
		}
		port := rewrite.InternalPort
		if port == 0 {
			if p := parsed.Port(); p != "" {
				fmt.Sscanf(p, "%d", &port)
			}
			if port == 0 {
				port = 22
			}
		}
		path := strings.TrimLeft(parsed.Path, "/")
		return fmt.Sprintf("ssh://%s@%s:%d/%s", user, rewrite.InternalHost, port, path)
	}

	return gitURL
}

// ensureGitSecret upserts the student's deploy key into the build
// namespace. Create first, replace on conflict: both writers compute
// equivalent bodies so losing the race is benign.
func (o *Orchestrator) ensureGitSecret(ctx context.Context, namespace, name, privateKey string) error {
	secret := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace},
		Type:       corev1.SecretTypeOpaque,
		StringData: map[string]string{"id_rsa": privateKey},
	}
	return o.upsertSecret(ctx, namespace, secret)
}

// ensureRegistrySecret upserts the dockerconfigjson credentials for the
// build's destination registry.
func (o *Orchestrator) ensureRegistrySecret(ctx context.Context, namespace, name string, registry *types.Registry) error {
	if registry.Username == "" || registry.Password == "" {
		return errors.ErrInvalidInput.WithMessage("Registry credentials are incomplete")
	}

	host := settings.NormalizeRegistryHost(registry.URL)
	auth := base64.StdEncoding.EncodeToString([]byte(registry.Username + ":" + registry.Password))
	dockerConfig := map[string]any{
		"auths": map[string]any{
			host: map[string]string{
				"username": registry.Username,
				"password": registry.Password,
				"auth":     auth,
			},
		},
	}
	payload, err := json.Marshal(dockerConfig)
	if err != nil {
		return err
	}

	secret := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace},
		Type:       corev1.SecretTypeDockerConfigJson,
		StringData: map[string]string{corev1.DockerConfigJsonKey: string(payload)},
	}
	return o.upsertSecret(ctx, namespace, secret)
}

func (o *Orchestrator) upsertSecret(ctx context.Context, namespace string, secret *corev1.Secret) error {
	_, err := o.client.CoreV1().Secrets(namespace).Create(ctx, secret, metav1.CreateOptions{})
	if err == nil {
		return nil
	}
	if !apierrors.IsAlreadyExists(err) {
		return errors.ErrCluster.WithError(err)
	}
	_, err = o.client.CoreV1().Secrets(namespace).Update(ctx, secret, metav1.UpdateOptions{})
	if err != nil {
		return errors.ErrCluster.WithError(err)
	}
	return nil
}

// Sync reconciles a recorded build with the live Job status. It is called
// lazily whenever a non-terminal build is read; terminal builds are never
// touched again except to backfill the log key exactly once.
func (o *Orchestrator) Sync(ctx context.Context, build *types.Build) (*types.Build, error) {
	if build.Status.Terminal() {
		return build, nil
	}
	if build.JobName == nil || *build.JobName == "" {
		return build, nil
	}
	if o.client == nil {
		return build, nil
	}

	sys, err := o.settings.GetOrCreate(ctx)
	if err != nil {
		return nil, err
	}
	namespace := sys.BuildNamespace
	if namespace == "" {
		namespace = settings.DefaultBuildNamespace
	}

	job, err := o.client.BatchV1().Jobs(namespace).Get(ctx, *build.JobName, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			build.Status = types.BuildStatusError
			build.Message = "Build job not found"
			if updateErr := o.builds.Update(ctx, build); updateErr != nil {
				return nil, updateErr
			}
			monitoring.BuildsCompleted.WithLabelValues(string(build.Status)).Inc()
			return build, nil
		}
		return nil, errors.ErrCluster.WithError(err)
	}

	finished := false
	updated := false

	switch {
	case job.Status.Succeeded > 0:
		build.Status = types.BuildStatusSuccess
		build.Message = "Build succeeded"
		finished = true
		updated = true
	case job.Status.Failed > 0:
		build.Status = types.BuildStatusFailed
		build.Message = "Build failed"
		finished = true
		updated = true
	case job.Status.Active > 0:
		if build.Status != types.BuildStatusRunning {
			build.Status = types.BuildStatusRunning
			build.Message = "Build running"
			updated = true
		}
	}

	if finished {
		now := time.Now().UTC()
		build.FinishedAt = &now
		if build.StartedAt != nil {
			duration := int64(now.Sub(build.StartedAt.UTC()).Seconds())
			build.Duration = &duration
		}
	}

	if updated {
		if err := o.builds.Update(ctx, build); err != nil {
			return nil, err
		}
	}

	if finished {
		monitoring.BuildsCompleted.WithLabelValues(string(build.Status)).Inc()
		// Log archive is best-effort; failures must not revert the
		// terminal status already persisted above.
		o.archiveJobLogs(ctx, build, namespace)
		o.autoDeployIfNeeded(ctx, build)
	}

	return build, nil
}

// archiveJobLogs uploads the job's git-clone and kaniko logs exactly once.
func (o *Orchestrator) archiveJobLogs(ctx context.Context, build *types.Build, namespace string) {
	if build.LogObjectKey != nil && *build.LogObjectKey != "" {
		return
	}
	if o.logs == nil || build.JobName == nil {
		return
	}

	content := o.collectJobLogs(ctx, namespace, *build.JobName)
	if content == "" {
		return
	}

	key := fmt.Sprintf("builds/%d/%s.log", build.ID, *build.JobName)
	if err := o.logs.UploadLog(ctx, key, content); err != nil {
		o.logger.WithError(err).WithField("build_id", build.ID).Error("Failed to archive build logs")
		return
	}

	build.LogObjectKey = &key
	if err := o.builds.Update(ctx, build); err != nil {
		o.logger.WithError(err).WithField("build_id", build.ID).Error("Failed to record log object key")
	}
}

func (o *Orchestrator) collectJobLogs(ctx context.Context, namespace, jobName string) string {
	pods, err := o.client.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{
		LabelSelector: "job-name=" + jobName,
	})
	if err != nil {
		o.logger.WithError(err).WithField("job", jobName).Warn("Failed to list pods for job")
		return ""
	}
	if len(pods.Items) == 0 {
		return ""
	}

	pod := pods.Items[0]
	var sections []string
	for _, container := range []string{"git-clone", "kaniko"} {
		req := o.client.CoreV1().Pods(namespace).GetLogs(pod.Name, &corev1.PodLogOptions{
			Container:  container,
			Timestamps: true,
		})
		stream, err := req.Stream(ctx)
		if err != nil {
			continue
		}
		var sb strings.Builder
		scanner := bufio.NewScanner(stream)
		for scanner.Scan() {
			sb.WriteString(scanner.Text())
			sb.WriteString("\n")
		}
		stream.Close()
		if text := sb.String(); text != "" {
			sections = append(sections, fmt.Sprintf("--- %s ---", container), text)
		}
	}

	return strings.TrimSpace(strings.Join(sections, "\n"))
}

// autoDeployIfNeeded hands a successful build to the deploy controller when
// the student's config enables auto-deploy and no deployment record
// references the build yet. Failure is logged and swallowed: the build
// stays successful.
func (o *Orchestrator) autoDeployIfNeeded(ctx context.Context, build *types.Build) {
	if build.Status != types.BuildStatusSuccess || o.deployer == nil {
		return
	}

	config, err := o.configs.GetByStudentID(ctx, build.StudentID)
	if err != nil || !config.AutoDeploy {
		return
	}

	if existing, err := o.deployments.GetByBuildID(ctx, build.ID); err == nil && existing != nil {
		return
	}

	student, err := o.students.GetByID(ctx, build.StudentID)
	if err != nil {
		return
	}

	sys, err := o.settings.GetOrCreate(ctx)
	if err != nil {
		return
	}

	imageRepo := ""
	if config.ImageRepo != nil && *config.ImageRepo != "" {
		imageRepo = *config.ImageRepo
	} else {
		registry, regErr := o.resolveRegistry(ctx, config, sys)
		if regErr != nil {
			return
		}
		imageRepo = settings.RenderImageRepo(sys.DefaultImageRepoTemplate, registry, student.StudentCode)
	}
	if imageRepo == "" {
		return
	}

	image := imageRepo + ":" + build.ImageTag
	if _, err := o.deployer.Deploy(ctx, student, image, student.ProjectClass, &build.ID); err != nil {
		o.logger.WithError(err).WithFields(logrus.Fields{
			"build_id": build.ID,
			"student":  student.StudentCode,
		}).Warn("Auto deploy failed")
	}
}

func failureMessage(err error) string {
	if appErr, ok := err.(*errors.AppError); ok {
		return appErr.Message
	}
	return err.Error()
}
