package status

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/hjunqq/hydrosim-platform/internal/k8s"
	"github.com/hjunqq/hydrosim-platform/internal/naming"
	"github.com/hjunqq/hydrosim-platform/internal/types"
)

// CanonicalState is the folded view of a workload's live condition.
type CanonicalState string

const (
	StateNotDeployed CanonicalState = "not_deployed"
	StateDeploying   CanonicalState = "deploying"
	StateRunning     CanonicalState = "running"
	StateError       CanonicalState = "error"
	StateStopped     CanonicalState = "stopped"
)

// errorWaitReasons are the container waiting reasons folded into StateError.
var errorWaitReasons = map[string]bool{
	"CrashLoopBackOff": true,
	"ImagePullBackOff": true,
	"ErrImagePull":     true,
}

// WorkloadStatus is the answer to "what is the state of this workload right
// now".
type WorkloadStatus struct {
	Status        CanonicalState `json:"status"`
	Detail        string         `json:"detail"`
	ReadyReplicas string         `json:"ready_replicas"`
	Image         string         `json:"image,omitempty"`
	Namespace     string         `json:"namespace,omitempty"`
}

// Cache is the optional short-TTL store in front of the bulk query.
type Cache interface {
	GetStatuses(ctx context.Context) (map[string]WorkloadStatus, bool)
	SetStatuses(ctx context.Context, statuses map[string]WorkloadStatus)
}

// Aggregator reads Deployment, Pod and container signals from the cluster
// and folds them into canonical states. Queries go to the API server on
// demand; there is no background reconcile loop.
type Aggregator struct {
	client kubernetes.Interface
	cache  Cache
	logger *logrus.Logger
}

func NewAggregator(client kubernetes.Interface, cache Cache, logger *logrus.Logger) *Aggregator {
	return &Aggregator{client: client, cache: cache, logger: logger}
}

// Status answers the single-student query for one (code, class) pair.
func (a *Aggregator) Status(ctx context.Context, studentCode string, class types.ProjectClass) WorkloadStatus {
	namespace, ok := k8s.NamespaceForClass(class)
	if !ok {
		return WorkloadStatus{Status: StateError, Detail: "Invalid project class"}
	}

	name := naming.ResourceName(studentCode)
	deployment, err := a.client.AppsV1().Deployments(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return WorkloadStatus{Status: StateNotDeployed, Detail: "Resource not found", ReadyReplicas: "0/0"}
		}
		a.logger.WithError(err).WithField("deployment", name).Error("Failed to read deployment status")
		return WorkloadStatus{Status: StateError, Detail: fmt.Sprintf("Kubernetes API error: %v", err), ReadyReplicas: "?"}
	}

	var replicas int32
	if deployment.Spec.Replicas != nil {
		replicas = *deployment.Spec.Replicas
	}
	readyReplicas := deployment.Status.ReadyReplicas

	if replicas > 0 && readyReplicas == replicas {
		var images []string
		for _, c := range deployment.Spec.Template.Spec.Containers {
			images = append(images, c.Image)
		}
		return WorkloadStatus{
			Status:        StateRunning,
			Detail:        "All replicas ready",
			ReadyReplicas: fmt.Sprintf("%d/%d", readyReplicas, replicas),
			Image:         strings.Join(images, "\n"),
		}
	}

	if replicas == 0 {
		return WorkloadStatus{Status: StateStopped, Detail: "Scaled to 0", ReadyReplicas: "0/0"}
	}

	pods, err := a.client.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{
		LabelSelector: "app=" + name,
	})
	if err != nil {
		a.logger.WithError(err).WithField("deployment", name).Error("Failed to list pods")
		return WorkloadStatus{Status: StateError, Detail: fmt.Sprintf("Kubernetes API error: %v", err), ReadyReplicas: "?"}
	}
	readyOfTotal := fmt.Sprintf("%d/%d", readyReplicas, replicas)
	if len(pods.Items) == 0 {
		return WorkloadStatus{Status: StateDeploying, Detail: "Waiting for pods to be created...", ReadyReplicas: fmt.Sprintf("0/%d", replicas)}
	}

	// Single-replica policy: the first pod tells the story.
	pod := pods.Items[0]
	for _, cs := range pod.Status.ContainerStatuses {
		if cs.State.Waiting != nil && errorWaitReasons[cs.State.Waiting.Reason] {
			return WorkloadStatus{
				Status:        StateError,
				Detail:        fmt.Sprintf("Pod Error: %s - %s", cs.State.Waiting.Reason, cs.State.Waiting.Message),
				ReadyReplicas: readyOfTotal,
			}
		}
		if cs.State.Terminated != nil && cs.State.Terminated.ExitCode != 0 {
			return WorkloadStatus{
				Status:        StateError,
				Detail:        fmt.Sprintf("Container terminated with exit code %d", cs.State.Terminated.ExitCode),
				ReadyReplicas: readyOfTotal,
			}
		}
	}

	if pod.Status.Phase == corev1.PodPending {
		return WorkloadStatus{
			Status:        StateDeploying,
			Detail:        "Pod is Pending (scheduling or pulling image)",
			ReadyReplicas: readyOfTotal,
		}
	}

	return WorkloadStatus{
		Status:        StateDeploying,
		Detail:        fmt.Sprintf("Pod Phase: %s, waiting for readiness probe", pod.Status.Phase),
		ReadyReplicas: readyOfTotal,
	}
}

// All scans every student namespace in one pass and classifies each student
// pod, keyed by the code derived from the pod's app label. Results are
// cached briefly because the admin list view polls this aggressively.
func (a *Aggregator) All(ctx context.Context) map[string]WorkloadStatus {
	if a.cache != nil {
		if cached, ok := a.cache.GetStatuses(ctx); ok {
			return cached
		}
	}

	result := make(map[string]WorkloadStatus)
	for _, ns := range k8s.StudentNamespaces() {
		pods, err := a.client.CoreV1().Pods(ns).List(ctx, metav1.ListOptions{})
		if err != nil {
			a.logger.WithError(err).WithField("namespace", ns).Error("Failed to list pods")
			continue
		}
		for i := range pods.Items {
			pod := &pods.Items[i]
			appLabel := pod.Labels["app"]
			if !strings.HasPrefix(appLabel, "student-") {
				continue
			}
			code := strings.TrimPrefix(appLabel, "student-")
			status := classifyPod(pod)
			status.Namespace = ns
			result[code] = status
		}
	}

	if a.cache != nil {
		a.cache.SetStatuses(ctx, result)
	}
	return result
}

// classifyPod is the simplified single-pod classifier used by the bulk scan.
func classifyPod(pod *corev1.Pod) WorkloadStatus {
	var images []string
	for _, c := range pod.Spec.Containers {
		images = append(images, c.Image)
	}
	image := strings.Join(images, "\n")
	if image == "" {
		image = "unknown"
	}

	state := CanonicalState("unknown")
	detail := ""

	switch pod.Status.Phase {
	case corev1.PodRunning:
		state = StateDeploying
		if len(pod.Status.ContainerStatuses) > 0 && allReady(pod.Status.ContainerStatuses) {
			state = StateRunning
		}
	case corev1.PodPending:
		state = StateDeploying
		for _, cs := range pod.Status.ContainerStatuses {
			if cs.State.Waiting != nil && errorWaitReasons[cs.State.Waiting.Reason] {
				state = StateError
				detail = cs.State.Waiting.Reason
			}
		}
	case corev1.PodFailed, corev1.PodUnknown:
		state = StateError
	case corev1.PodSucceeded:
		state = StateStopped
	}

	if detail == "" {
		detail = string(pod.Status.Phase)
	}

	return WorkloadStatus{Status: state, Detail: detail, Image: image}
}

func allReady(statuses []corev1.ContainerStatus) bool {
	for _, cs := range statuses {
		if !cs.Ready {
			return false
		}
	}
	return true
}

// BySelector aggregates the pods matched by a label selector into one
// status. This serves the platform's own multi-pod components rather than
// single-replica student workloads; error wins over deploying wins over
// running.
func (a *Aggregator) BySelector(ctx context.Context, namespace, labelSelector string) WorkloadStatus {
	pods, err := a.client.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{
		LabelSelector: labelSelector,
	})
	if err != nil {
		a.logger.WithError(err).WithField("selector", labelSelector).Error("Failed to list pods by selector")
		return WorkloadStatus{Status: StateError, Detail: err.Error(), ReadyReplicas: "?", Image: "?"}
	}
	if len(pods.Items) == 0 {
		return WorkloadStatus{Status: StateNotDeployed, Detail: "No resources found", ReadyReplicas: "0/0", Image: "-"}
	}

	aggregated := StateNotDeployed
	var details []string
	seenImages := map[string]bool{}
	var images []string

	runningCount := 0
	errorCount := 0
	deployingCount := 0

	for i := range pods.Items {
		pod := &pods.Items[i]
		for _, c := range pod.Spec.Containers {
			if !seenImages[c.Image] {
				seenImages[c.Image] = true
				images = append(images, c.Image)
			}
		}

		switch pod.Status.Phase {
		case corev1.PodRunning:
			if len(pod.Status.ContainerStatuses) > 0 && allReady(pod.Status.ContainerStatuses) {
				runningCount++
				aggregated = StateRunning
			} else {
				deployingCount++
				details = append(details, fmt.Sprintf("%s: deploying", pod.Name))
			}
		case corev1.PodPending:
			deployingCount++
			details = append(details, fmt.Sprintf("%s: pending", pod.Name))
			for _, cs := range pod.Status.ContainerStatuses {
				if cs.State.Waiting != nil && errorWaitReasons[cs.State.Waiting.Reason] {
					errorCount++
					details = append(details, fmt.Sprintf("%s: %s", pod.Name, cs.State.Waiting.Reason))
				}
			}
		case corev1.PodFailed, corev1.PodUnknown:
			errorCount++
			details = append(details, fmt.Sprintf("%s: %s", pod.Name, pod.Status.Phase))
		}
	}

	switch {
	case errorCount > 0:
		aggregated = StateError
	case deployingCount > 0 && aggregated != StateRunning:
		aggregated = StateDeploying
	case runningCount > 0:
		aggregated = StateRunning
		if deployingCount > 0 {
			details = append(details, "Partial availability")
		}
	}

	detail := "All services ready"
	if len(details) > 0 {
		detail = strings.Join(details, ", ")
	}

	return WorkloadStatus{
		Status:        aggregated,
		Detail:        detail,
		ReadyReplicas: fmt.Sprintf("%d/%d", runningCount, len(pods.Items)),
		Image:         strings.Join(images, "\n"),
	}
}
