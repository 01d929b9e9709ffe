package k8s

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

const (
	// KanikoImage is the container image for the Kaniko executor.
	KanikoImage = "gcr.io/kaniko-project/executor:latest"

	// GitCloneImage is the init container image used to clone sources.
	GitCloneImage = "alpine/git:latest"

	// DefaultRepoDir is where the init container clones the repository.
	DefaultRepoDir = "/workspace/repo"
)

// KanikoJobSpec is the input for one build Job: what to clone, how to build
// it and where to push the result.
type KanikoJobSpec struct {
	JobName            string
	Namespace          string
	Destinations       []string
	ContextPath        string
	DockerfilePath     string
	GitSecretName      string
	RegistrySecretName string
	CloneScript        string
	RepoDir            string
	Labels             map[string]string
}

// BuildKanikoJob emits the batch Job running a git-clone init container
// followed by the Kaniko executor. Builds never retry (backoffLimit 0) and
// finished jobs are garbage collected after an hour.
func BuildKanikoJob(spec KanikoJobSpec) *batchv1.Job {
	repoDir := spec.RepoDir
	if repoDir == "" {
		repoDir = DefaultRepoDir
	}

	args := []string{
		"--dockerfile=" + dockerfilePath(repoDir, spec.DockerfilePath),
		"--context=dir://" + contextDir(repoDir, spec.ContextPath),
	}
	for _, dest := range spec.Destinations {
		args = append(args, "--destination="+dest)
	}
	args = append(args,
		"--cache=true",
		"--cache-run-layers=true",
		"--cache-copy-layers=true",
		"--compressed-caching=false",
	)

	volumes := []corev1.Volume{
		{
			Name: "workspace",
			VolumeSource: corev1.VolumeSource{
				EmptyDir: &corev1.EmptyDirVolumeSource{},
			},
		},
	}

	var initContainers []corev1.Container
	if spec.CloneScript != "" {
		initMounts := []corev1.VolumeMount{
			{Name: "workspace", MountPath: "/workspace"},
		}
		if spec.GitSecretName != "" {
			initMounts = append(initMounts, corev1.VolumeMount{
				Name:      "git-secret",
				MountPath: "/etc/ssh-key",
				ReadOnly:  true,
			})
			volumes = append(volumes, corev1.Volume{
				Name: "git-secret",
				VolumeSource: corev1.VolumeSource{
					Secret: &corev1.SecretVolumeSource{
						SecretName: spec.GitSecretName,
						Optional:   boolPtr(false),
					},
				},
			})
		}
		initContainers = append(initContainers, corev1.Container{
			Name:         "git-clone",
			Image:        GitCloneImage,
			Command:      []string{"/bin/sh", "-c"},
			Args:         []string{spec.CloneScript},
			VolumeMounts: initMounts,
		})
	}

	kanikoMounts := []corev1.VolumeMount{
		{Name: "workspace", MountPath: "/workspace"},
	}
	if spec.RegistrySecretName != "" {
		kanikoMounts = append(kanikoMounts, corev1.VolumeMount{
			Name:      "registry-config",
			MountPath: "/kaniko/.docker/",
		})
		volumes = append(volumes, corev1.Volume{
			Name: "registry-config",
			VolumeSource: corev1.VolumeSource{
				Secret: &corev1.SecretVolumeSource{
					SecretName: spec.RegistrySecretName,
				},
			},
		})
	}

	labels := map[string]string{
		"app":      "kaniko-build",
		"job-name": spec.JobName,
	}
	for k, v := range spec.Labels {
		labels[k] = v
	}

	return &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      spec.JobName,
			Namespace: spec.Namespace,
			Labels:    labels,
		},
		Spec: batchv1.JobSpec{
			BackoffLimit:            int32Ptr(0),
			TTLSecondsAfterFinished: int32Ptr(3600),
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels: labels,
				},
				Spec: corev1.PodSpec{
					RestartPolicy:  corev1.RestartPolicyNever,
					InitContainers: initContainers,
					Containers: []corev1.Container{
						{
							Name:         "kaniko",
							Image:        KanikoImage,
							Args:         args,
							VolumeMounts: kanikoMounts,
						},
					},
					Volumes: volumes,
				},
			},
		},
	}
}

func normalizeRelativePath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" || path == "." {
		return "."
	}
	return strings.TrimLeft(path, "/")
}

func contextDir(repoDir, contextPath string) string {
	rel := normalizeRelativePath(contextPath)
	if rel == "." {
		return repoDir
	}
	return repoDir + "/" + rel
}

func dockerfilePath(repoDir, path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return repoDir + "/Dockerfile"
	}
	if strings.HasPrefix(path, "/") {
		return path
	}
	rel := normalizeRelativePath(path)
	if rel == "." {
		return repoDir + "/Dockerfile"
	}
	return repoDir + "/" + rel
}

// IsSSHURL reports whether a git URL requires an SSH deploy key.
func IsSSHURL(gitURL string) bool {
	return strings.HasPrefix(gitURL, "git@") || strings.HasPrefix(gitURL, "ssh://")
}

// GitHostPort extracts the host (and, for ssh:// URLs, the port) from a git
// URL. The port is 0 when the URL does not carry one.
func GitHostPort(gitURL string) (string, int) {
	if strings.HasPrefix(gitURL, "ssh://") {
		parsed, err := url.Parse(gitURL)
		if err != nil {
			return "", 0
		}
		port := 0
		if p := parsed.Port(); p != "" {
			port, _ = strconv.Atoi(p)
		}
		return parsed.Hostname(), port
	}
	if strings.HasPrefix(gitURL, "git@") {
		rest := gitURL[strings.Index(gitURL, "@")+1:]
		if idx := strings.Index(rest, ":"); idx >= 0 {
			return rest[:idx], 0
		}
		return rest, 0
	}
	if strings.Contains(gitURL, "://") {
		parsed, err := url.Parse(gitURL)
		if err != nil {
			return "", 0
		}
		return parsed.Hostname(), 0
	}
	return "", 0
}

// CloneScriptSpec configures the shell script the git-clone init container
// runs.
type CloneScriptSpec struct {
	GitURL    string
	CommitSHA string
	Branch    string
	RepoDir   string
	GitHost   string
	GitPort   int
}

// BuildCloneScript derives the clone script: SSH URLs stage the mounted
// deploy key and disable host-key checking; a concrete commit sha is checked
// out directly, otherwise the configured branch is tried locally, then on
// origin, falling back to the clone default with a warning.
func BuildCloneScript(spec CloneScriptSpec) string {
	repoDir := spec.RepoDir
	if repoDir == "" {
		repoDir = DefaultRepoDir
	}

	useSSH := IsSSHURL(spec.GitURL)
	host, port := spec.GitHost, spec.GitPort
	if useSSH && host == "" {
		host, port = GitHostPort(spec.GitURL)
	}

	lines := []string{"set -e"}
	if useSSH && host != "" {
		sshCommand := "ssh -i /root/.ssh/id_rsa -o StrictHostKeyChecking=no"
		if port != 0 {
			sshCommand += fmt.Sprintf(" -p %d", port)
		}
		lines = append(lines,
			"mkdir -p /root/.ssh",
			"cp /etc/ssh-key/id_rsa /root/.ssh/id_rsa",
			"chmod 600 /root/.ssh/id_rsa",
			fmt.Sprintf("export GIT_SSH_COMMAND=%q", sshCommand),
		)
	}

	lines = append(lines,
		"rm -rf /workspace/*",
		fmt.Sprintf("git clone %s %s", spec.GitURL, repoDir),
		"cd "+repoDir,
	)

	if spec.CommitSHA != "" && spec.CommitSHA != "latest" {
		ref := strings.ReplaceAll(spec.CommitSHA, `"`, `\"`)
		lines = append(lines, fmt.Sprintf(`git checkout "%s"`, ref))
	} else if spec.Branch != "" {
		branch := strings.ReplaceAll(spec.Branch, `"`, `\"`)
		lines = append(lines,
			fmt.Sprintf(`if git show-ref --verify --quiet "refs/heads/%s"; then`, branch),
			fmt.Sprintf(`  git checkout "%s"`, branch),
			fmt.Sprintf(`elif git show-ref --verify --quiet "refs/remotes/origin/%s"; then`, branch),
			fmt.Sprintf(`  git checkout -b "%s" "origin/%s"`, branch, branch),
			"else",
			fmt.Sprintf(`  echo "Branch %s not found, using default"`, branch),
			"fi",
		)
	}

	return strings.Join(lines, "\n")
}
