package status

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/hjunqq/hydrosim-platform/internal/types"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func studentDeployment(name, namespace, image string, replicas, ready int32) *appsv1.Deployment {
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace},
		Spec: appsv1.DeploymentSpec{
			Replicas: &replicas,
			Template: corev1.PodTemplateSpec{
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{{Name: "app", Image: image}},
				},
			},
		},
		Status: appsv1.DeploymentStatus{ReadyReplicas: ready},
	}
}

func studentPod(name, namespace, appLabel, image string, phase corev1.PodPhase, statuses []corev1.ContainerStatus) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: namespace,
			Labels:    map[string]string{"app": appLabel},
		},
		Spec: corev1.PodSpec{
			Containers: []corev1.Container{{Name: "app", Image: image}},
		},
		Status: corev1.PodStatus{Phase: phase, ContainerStatuses: statuses},
	}
}

func TestStatusNotDeployed(t *testing.T) {
	a := NewAggregator(fake.NewSimpleClientset(), nil, testLogger())

	got := a.Status(context.Background(), "A1", types.ProjectClassGD)
	assert.Equal(t, StateNotDeployed, got.Status)
	assert.Equal(t, "0/0", got.ReadyReplicas)
}

func TestStatusInvalidClass(t *testing.T) {
	a := NewAggregator(fake.NewSimpleClientset(), nil, testLogger())

	got := a.Status(context.Background(), "A1", types.ProjectClass("platform"))
	assert.Equal(t, StateError, got.Status)
}

func TestStatusRunning(t *testing.T) {
	client := fake.NewSimpleClientset(
		studentDeployment("student-a1", "students-gd", "nginx:alpine", 1, 1),
	)
	a := NewAggregator(client, nil, testLogger())

	got := a.Status(context.Background(), "A1", types.ProjectClassGD)
	assert.Equal(t, StateRunning, got.Status)
	assert.Equal(t, "1/1", got.ReadyReplicas)
	assert.Equal(t, "nginx:alpine", got.Image)
}

func TestStatusStopped(t *testing.T) {
	client := fake.NewSimpleClientset(
		studentDeployment("student-a1", "students-gd", "nginx:alpine", 0, 0),
	)
	a := NewAggregator(client, nil, testLogger())

	got := a.Status(context.Background(), "A1", types.ProjectClassGD)
	assert.Equal(t, StateStopped, got.Status)
}

func TestStatusNoPodsYet(t *testing.T) {
	client := fake.NewSimpleClientset(
		studentDeployment("student-a1", "students-gd", "nginx:alpine", 1, 0),
	)
	a := NewAggregator(client, nil, testLogger())

	got := a.Status(context.Background(), "A1", types.ProjectClassGD)
	assert.Equal(t, StateDeploying, got.Status)
	assert.Equal(t, "0/1", got.ReadyReplicas)
}

func TestStatusImagePullBackOff(t *testing.T) {
	client := fake.NewSimpleClientset(
		studentDeployment("student-a1", "students-gd", "nginx:alpine", 1, 0),
		studentPod("student-a1-xyz", "students-gd", "student-a1", "nginx:alpine", corev1.PodPending, []corev1.ContainerStatus{
			{State: corev1.ContainerState{Waiting: &corev1.ContainerStateWaiting{
				Reason:  "ImagePullBackOff",
				Message: "Back-off pulling image",
			}}},
		}),
	)
	a := NewAggregator(client, nil, testLogger())

	got := a.Status(context.Background(), "A1", types.ProjectClassGD)
	assert.Equal(t, StateError, got.Status)
	assert.Contains(t, got.Detail, "ImagePullBackOff")
}

func TestStatusTerminatedNonZero(t *testing.T) {
	client := fake.NewSimpleClientset(
		studentDeployment("student-a1", "students-gd", "nginx:alpine", 1, 0),
		studentPod("student-a1-xyz", "students-gd", "student-a1", "nginx:alpine", corev1.PodRunning, []corev1.ContainerStatus{
			{State: corev1.ContainerState{Terminated: &corev1.ContainerStateTerminated{ExitCode: 1}}},
		}),
	)
	a := NewAggregator(client, nil, testLogger())

	got := a.Status(context.Background(), "A1", types.ProjectClassGD)
	assert.Equal(t, StateError, got.Status)
	assert.Contains(t, got.Detail, "exit code 1")
}

func TestStatusPendingPod(t *testing.T) {
	client := fake.NewSimpleClientset(
		studentDeployment("student-a1", "students-gd", "nginx:alpine", 1, 0),
		studentPod("student-a1-xyz", "students-gd", "student-a1", "nginx:alpine", corev1.PodPending, nil),
	)
	a := NewAggregator(client, nil, testLogger())

	got := a.Status(context.Background(), "A1", types.ProjectClassGD)
	assert.Equal(t, StateDeploying, got.Status)
	assert.Contains(t, got.Detail, "Pending")
}

func TestAll(t *testing.T) {
	client := fake.NewSimpleClientset(
		studentPod("p1", "students-gd", "student-a1", "img:1", corev1.PodRunning, []corev1.ContainerStatus{{Ready: true}}),
		studentPod("p2", "students-gd", "student-b2", "img:2", corev1.PodPending, []corev1.ContainerStatus{
			{State: corev1.ContainerState{Waiting: &corev1.ContainerStateWaiting{Reason: "CrashLoopBackOff"}}},
		}),
		studentPod("p3", "students-cd", "student-c3", "img:3", corev1.PodSucceeded, nil),
		studentPod("p4", "students-gd", "not-a-student", "img:4", corev1.PodRunning, nil),
	)
	a := NewAggregator(client, nil, testLogger())

	got := a.All(context.Background())

	assert.Len(t, got, 3)
	assert.Equal(t, StateRunning, got["a1"].Status)
	assert.Equal(t, "students-gd", got["a1"].Namespace)
	assert.Equal(t, StateError, got["b2"].Status)
	assert.Equal(t, "CrashLoopBackOff", got["b2"].Detail)
	assert.Equal(t, StateStopped, got["c3"].Status)
	assert.Equal(t, "students-cd", got["c3"].Namespace)
}

type memoryCache struct {
	stored map[string]WorkloadStatus
	hits   int
}

func (m *memoryCache) GetStatuses(ctx context.Context) (map[string]WorkloadStatus, bool) {
	if m.stored == nil {
		return nil, false
	}
	m.hits++
	return m.stored, true
}

func (m *memoryCache) SetStatuses(ctx context.Context, statuses map[string]WorkloadStatus) {
	m.stored = statuses
}

func TestAllUsesCache(t *testing.T) {
	client := fake.NewSimpleClientset(
		studentPod("p1", "students-gd", "student-a1", "img:1", corev1.PodRunning, []corev1.ContainerStatus{{Ready: true}}),
	)
	cache := &memoryCache{}
	a := NewAggregator(client, cache, testLogger())

	first := a.All(context.Background())
	assert.Len(t, first, 1)
	assert.NotNil(t, cache.stored)

	second := a.All(context.Background())
	assert.Equal(t, first, second)
	assert.Equal(t, 1, cache.hits)
}

func TestBySelector(t *testing.T) {
	sel := map[string]string{"component": "portal"}
	mkPod := func(name string, phase corev1.PodPhase, ready bool, image string) *corev1.Pod {
		return &corev1.Pod{
			ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: "default", Labels: sel},
			Spec:       corev1.PodSpec{Containers: []corev1.Container{{Image: image}}},
			Status: corev1.PodStatus{
				Phase:             phase,
				ContainerStatuses: []corev1.ContainerStatus{{Ready: ready}},
			},
		}
	}

	t.Run("empty selector result", func(t *testing.T) {
		a := NewAggregator(fake.NewSimpleClientset(), nil, testLogger())
		got := a.BySelector(context.Background(), "default", "component=portal")
		assert.Equal(t, StateNotDeployed, got.Status)
	})

	t.Run("error wins over running", func(t *testing.T) {
		client := fake.NewSimpleClientset(
			mkPod("ok", corev1.PodRunning, true, "img:a"),
			mkPod("bad", corev1.PodFailed, false, "img:a"),
		)
		a := NewAggregator(client, nil, testLogger())
		got := a.BySelector(context.Background(), "default", "component=portal")
		assert.Equal(t, StateError, got.Status)
		// images deduplicated
		assert.Equal(t, "img:a", got.Image)
	})

	t.Run("all ready", func(t *testing.T) {
		client := fake.NewSimpleClientset(
			mkPod("one", corev1.PodRunning, true, "img:a"),
			mkPod("two", corev1.PodRunning, true, "img:b"),
		)
		a := NewAggregator(client, nil, testLogger())
		got := a.BySelector(context.Background(), "default", "component=portal")
		assert.Equal(t, StateRunning, got.Status)
		assert.Equal(t, "2/2", got.ReadyReplicas)
		assert.Equal(t, "All services ready", got.Detail)
	})
}
