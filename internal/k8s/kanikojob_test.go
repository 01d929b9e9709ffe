package k8s

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildKanikoJob(t *testing.T) {
	spec := KanikoJobSpec{
		JobName:            "build-7-abc123",
		Namespace:          "hydrosim",
		Destinations:       []string{"reg.example/ns/a1:deadbee"},
		ContextPath:        ".",
		DockerfilePath:     "Dockerfile",
		GitSecretName:      "student-deploy-key-7",
		RegistrySecretName: "kaniko-registry-auth-1",
		CloneScript:        "set -e\ngit clone git@host:user/repo /workspace/repo",
		Labels: map[string]string{
			"build-id":   "7",
			"student-id": "3",
		},
	}

	job := BuildKanikoJob(spec)

	assert.Equal(t, "build-7-abc123", job.Name)
	assert.Equal(t, "hydrosim", job.Namespace)
	require.NotNil(t, job.Spec.BackoffLimit)
	assert.Equal(t, int32(0), *job.Spec.BackoffLimit)
	require.NotNil(t, job.Spec.TTLSecondsAfterFinished)
	assert.Equal(t, int32(3600), *job.Spec.TTLSecondsAfterFinished)

	assert.Equal(t, "kaniko-build", job.Labels["app"])
	assert.Equal(t, "build-7-abc123", job.Labels["job-name"])
	assert.Equal(t, "7", job.Labels["build-id"])
	assert.Equal(t, "3", job.Labels["student-id"])
	assert.Equal(t, job.Labels, job.Spec.Template.Labels)

	pod := job.Spec.Template.Spec
	assert.Equal(t, "Never", string(pod.RestartPolicy))

	require.Len(t, pod.InitContainers, 1)
	init := pod.InitContainers[0]
	assert.Equal(t, "git-clone", init.Name)
	assert.Equal(t, GitCloneImage, init.Image)
	assert.Equal(t, []string{"/bin/sh", "-c"}, init.Command)
	assert.Equal(t, []string{spec.CloneScript}, init.Args)
	require.Len(t, init.VolumeMounts, 2)
	assert.Equal(t, "/workspace", init.VolumeMounts[0].MountPath)
	assert.Equal(t, "/etc/ssh-key", init.VolumeMounts[1].MountPath)
	assert.True(t, init.VolumeMounts[1].ReadOnly)

	require.Len(t, pod.Containers, 1)
	kaniko := pod.Containers[0]
	assert.Equal(t, "kaniko", kaniko.Name)
	assert.Equal(t, KanikoImage, kaniko.Image)
	assert.Contains(t, kaniko.Args, "--dockerfile=/workspace/repo/Dockerfile")
	assert.Contains(t, kaniko.Args, "--context=dir:///workspace/repo")
	assert.Contains(t, kaniko.Args, "--destination=reg.example/ns/a1:deadbee")
	assert.Contains(t, kaniko.Args, "--cache=true")
	assert.Contains(t, kaniko.Args, "--cache-run-layers=true")
	assert.Contains(t, kaniko.Args, "--cache-copy-layers=true")
	assert.Contains(t, kaniko.Args, "--compressed-caching=false")

	require.Len(t, kaniko.VolumeMounts, 2)
	assert.Equal(t, "/kaniko/.docker/", kaniko.VolumeMounts[1].MountPath)

	volumeNames := []string{}
	for _, v := range pod.Volumes {
		volumeNames = append(volumeNames, v.Name)
	}
	assert.ElementsMatch(t, []string{"workspace", "git-secret", "registry-config"}, volumeNames)
}

func TestBuildKanikoJobWithoutSecrets(t *testing.T) {
	job := BuildKanikoJob(KanikoJobSpec{
		JobName:      "build-1-ffffff",
		Namespace:    "hydrosim",
		Destinations: []string{"local/a1:x", "local/a1:latest"},
		ContextPath:  "src",
		CloneScript:  "set -e\ngit clone https://host/user/repo /workspace/repo",
	})

	pod := job.Spec.Template.Spec
	require.Len(t, pod.InitContainers, 1)
	require.Len(t, pod.InitContainers[0].VolumeMounts, 1)
	require.Len(t, pod.Containers[0].VolumeMounts, 1)
	require.Len(t, pod.Volumes, 1)
	assert.Equal(t, "workspace", pod.Volumes[0].Name)

	assert.Contains(t, pod.Containers[0].Args, "--context=dir:///workspace/repo/src")
	assert.Contains(t, pod.Containers[0].Args, "--destination=local/a1:x")
	assert.Contains(t, pod.Containers[0].Args, "--destination=local/a1:latest")
}

func TestDockerfileAndContextPaths(t *testing.T) {
	assert.Equal(t, "/workspace/repo/Dockerfile", dockerfilePath("/workspace/repo", ""))
	assert.Equal(t, "/workspace/repo/Dockerfile", dockerfilePath("/workspace/repo", "."))
	assert.Equal(t, "/workspace/repo/docker/Dockerfile", dockerfilePath("/workspace/repo", "docker/Dockerfile"))
	assert.Equal(t, "/abs/Dockerfile", dockerfilePath("/workspace/repo", "/abs/Dockerfile"))

	assert.Equal(t, "/workspace/repo", contextDir("/workspace/repo", ""))
	assert.Equal(t, "/workspace/repo", contextDir("/workspace/repo", "."))
	assert.Equal(t, "/workspace/repo/app", contextDir("/workspace/repo", "/app"))
}

func TestGitHostPort(t *testing.T) {
	tests := []struct {
		url      string
		wantHost string
		wantPort int
	}{
		{"git@git.example.com:user/repo.git", "git.example.com", 0},
		{"ssh://git@git.example.com:2222/user/repo.git", "git.example.com", 2222},
		{"ssh://git@git.example.com/user/repo.git", "git.example.com", 0},
		{"https://git.example.com/user/repo.git", "git.example.com", 0},
		{"plain-string", "", 0},
	}
	for _, tt := range tests {
		host, port := GitHostPort(tt.url)
		assert.Equal(t, tt.wantHost, host, tt.url)
		assert.Equal(t, tt.wantPort, port, tt.url)
	}
}

func TestIsSSHURL(t *testing.T) {
	assert.True(t, IsSSHURL("git@host:user/repo"))
	assert.True(t, IsSSHURL("ssh://git@host/user/repo"))
	assert.False(t, IsSSHURL("https://host/user/repo"))
}

func TestBuildCloneScriptSSH(t *testing.T) {
	script := BuildCloneScript(CloneScriptSpec{
		GitURL:    "ssh://git@git.internal:2222/user/repo.git",
		CommitSHA: "deadbeefcafef00d",
		Branch:    "main",
	})

	assert.True(t, strings.HasPrefix(script, "set -e"))
	assert.Contains(t, script, "cp /etc/ssh-key/id_rsa /root/.ssh/id_rsa")
	assert.Contains(t, script, "chmod 600 /root/.ssh/id_rsa")
	assert.Contains(t, script, "StrictHostKeyChecking=no")
	assert.Contains(t, script, "-p 2222")
	assert.Contains(t, script, "git clone ssh://git@git.internal:2222/user/repo.git /workspace/repo")
	assert.Contains(t, script, `git checkout "deadbeefcafef00d"`)
	assert.NotContains(t, script, "show-ref")
}

func TestBuildCloneScriptBranchFallback(t *testing.T) {
	script := BuildCloneScript(CloneScriptSpec{
		GitURL:    "https://git.example.com/user/repo.git",
		CommitSHA: "latest",
		Branch:    "dev",
	})

	assert.NotContains(t, script, "ssh-key")
	assert.Contains(t, script, `if git show-ref --verify --quiet "refs/heads/dev"; then`)
	assert.Contains(t, script, `git checkout -b "dev" "origin/dev"`)
	assert.Contains(t, script, "Branch dev not found, using default")
}
