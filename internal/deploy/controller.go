package deploy

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	ktypes "k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes"

	"github.com/hjunqq/hydrosim-platform/internal/errors"
	"github.com/hjunqq/hydrosim-platform/internal/k8s"
	"github.com/hjunqq/hydrosim-platform/internal/monitoring"
	"github.com/hjunqq/hydrosim-platform/internal/settings"
	"github.com/hjunqq/hydrosim-platform/internal/types"
)

// DeploymentStore persists deployment records.
type DeploymentStore interface {
	Create(ctx context.Context, d *types.Deployment) error
	Update(ctx context.Context, d *types.Deployment) error
}

// StudentStore writes back the student's public domain when it drifts.
type StudentStore interface {
	UpdateDomain(ctx context.Context, studentID int64, domain string) error
}

// SettingsResolver loads the platform settings singleton.
type SettingsResolver interface {
	GetOrCreate(ctx context.Context) (*types.SystemSetting, error)
}

// WorkloadOptions carries the fixed per-student workload policy.
type WorkloadOptions struct {
	PVC           k8s.PVCOptions
	TLSSecretName string
}

// Result is the outcome of a successful deploy.
type Result struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	URL     string `json:"url"`
}

// DeleteResult reports which resource kinds a delete removed.
type DeleteResult struct {
	Status  string   `json:"status"`
	Deleted []string `json:"deleted,omitempty"`
}

// Controller reconciles a desired (student, image) pair into the cluster
// objects of one student workload. It is safe to re-invoke after partial
// failures: creates tolerate 409 and the update path is a full template
// replace.
type Controller struct {
	client      kubernetes.Interface
	deployments DeploymentStore
	students    StudentStore
	settings    SettingsResolver
	opts        WorkloadOptions
	logger      *logrus.Logger
}

func NewController(
	client kubernetes.Interface,
	deployments DeploymentStore,
	students StudentStore,
	settingsResolver SettingsResolver,
	opts WorkloadOptions,
	logger *logrus.Logger,
) *Controller {
	return &Controller{
		client:      client,
		deployments: deployments,
		students:    students,
		settings:    settingsResolver,
		opts:        opts,
		logger:      logger,
	}
}

// Deploy creates or updates the student workload for the given image. A
// deployment record is written before any cluster mutation; on failure the
// record flips to failed with the operator-facing reason and the error is
// re-raised.
func (c *Controller) Deploy(ctx context.Context, student *types.Student, image string, class types.ProjectClass, buildID *int64) (*Result, error) {
	start := time.Now()

	namespace, ok := k8s.NamespaceForClass(class)
	if !ok {
		return nil, errors.ErrInvalidClassKey
	}
	if student.ProjectClass != class {
		return nil, errors.ErrClassMismatch
	}
	if c.client == nil {
		return nil, errors.ErrClusterUnavailable
	}

	sys, err := c.settings.GetOrCreate(ctx)
	if err != nil {
		return nil, err
	}
	hostPrefix, domainSuffix, fullDomain := settings.DomainParts(sys, student.StudentCode, class)

	now := time.Now().UTC()
	record := &types.Deployment{
		StudentID:      student.ID,
		BuildID:        buildID,
		ImageTag:       image,
		Status:         types.DeploymentStatusDeploying,
		Message:        "Deployment requested",
		LastDeployTime: &now,
	}
	if err := c.deployments.Create(ctx, record); err != nil {
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"student":   student.StudentCode,
		"namespace": namespace,
		"image":     image,
	}).Info("Starting deployment")

	builder := k8s.NewWorkloadBuilder(k8s.WorkloadSpec{
		StudentCode:   student.StudentCode,
		Image:         image,
		Namespace:     namespace,
		DomainSuffix:  domainSuffix,
		HostPrefix:    hostPrefix,
		PVC:           c.opts.PVC,
		TLSSecretName: c.opts.TLSSecretName,
	})

	resultStatus, err := c.apply(ctx, namespace, builder)
	if err != nil {
		c.failRecord(ctx, record, err)
		monitoring.DeploysTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	message := fmt.Sprintf("Project %s successfully %s", builder.Name(), resultStatus)
	record.Status = types.DeploymentStatusRunning
	record.Message = message
	deployedAt := time.Now().UTC()
	record.LastDeployTime = &deployedAt
	if err := c.deployments.Update(ctx, record); err != nil {
		return nil, err
	}

	if student.Domain == nil || *student.Domain != fullDomain {
		if err := c.students.UpdateDomain(ctx, student.ID, fullDomain); err != nil {
			c.logger.WithError(err).WithField("student", student.StudentCode).Warn("Failed to persist student domain")
		}
	}

	monitoring.DeploysTotal.WithLabelValues(resultStatus).Inc()
	monitoring.DeployDuration.Observe(time.Since(start).Seconds())

	return &Result{
		Status:  resultStatus,
		Message: message,
		URL:     "http://" + fullDomain,
	}, nil
}

// apply performs the cluster mutations and returns "created" or "updated".
func (c *Controller) apply(ctx context.Context, namespace string, builder *k8s.WorkloadBuilder) (string, error) {
	name := builder.Name()

	existing := true
	_, err := c.client.AppsV1().Deployments(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		if !apierrors.IsNotFound(err) {
			return "", clusterError(err)
		}
		existing = false
	}

	if pvc := builder.PVC(); pvc != nil {
		err := k8s.RetryOnServerError(ctx, func() error {
			_, createErr := c.client.CoreV1().PersistentVolumeClaims(namespace).Create(ctx, pvc, metav1.CreateOptions{})
			return createErr
		})
		if err != nil && !apierrors.IsAlreadyExists(err) {
			return "", clusterError(err)
		}
	}

	resultStatus := "created"
	if existing {
		resultStatus = "updated"
		// Full template replace so probe, resource and env changes all
		// land, not just the image.
		patch, marshalErr := json.Marshal(map[string]any{
			"spec": map[string]any{
				"template": builder.Deployment().Spec.Template,
			},
		})
		if marshalErr != nil {
			return "", marshalErr
		}
		err = k8s.RetryOnServerError(ctx, func() error {
			_, patchErr := c.client.AppsV1().Deployments(namespace).Patch(ctx, name, ktypes.StrategicMergePatchType, patch, metav1.PatchOptions{})
			return patchErr
		})
		if err != nil {
			return "", clusterError(err)
		}
	} else {
		err = k8s.RetryOnServerError(ctx, func() error {
			_, createErr := c.client.AppsV1().Deployments(namespace).Create(ctx, builder.Deployment(), metav1.CreateOptions{})
			return createErr
		})
		if err != nil {
			return "", clusterError(err)
		}

		err = k8s.RetryOnServerError(ctx, func() error {
			_, createErr := c.client.CoreV1().Services(namespace).Create(ctx, builder.Service(), metav1.CreateOptions{})
			return createErr
		})
		if err != nil && !apierrors.IsAlreadyExists(err) {
			return "", clusterError(err)
		}
	}

	if err := c.reconcileIngress(ctx, namespace, builder); err != nil {
		return "", err
	}

	return resultStatus, nil
}

// reconcileIngress brings the ingress to the freshly built annotations and
// spec regardless of whether the workload was created or updated.
func (c *Controller) reconcileIngress(ctx context.Context, namespace string, builder *k8s.WorkloadBuilder) error {
	name := builder.Name()
	ingress := builder.Ingress()

	_, err := c.client.NetworkingV1().Ingresses(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		if !apierrors.IsNotFound(err) {
			return clusterError(err)
		}
		err = k8s.RetryOnServerError(ctx, func() error {
			_, createErr := c.client.NetworkingV1().Ingresses(namespace).Create(ctx, ingress, metav1.CreateOptions{})
			return createErr
		})
		if err != nil && !apierrors.IsAlreadyExists(err) {
			return clusterError(err)
		}
		return nil
	}

	patch, marshalErr := json.Marshal(map[string]any{
		"metadata": map[string]any{
			"annotations": ingress.Annotations,
		},
		"spec": ingress.Spec,
	})
	if marshalErr != nil {
		return marshalErr
	}
	err = k8s.RetryOnServerError(ctx, func() error {
		_, patchErr := c.client.NetworkingV1().Ingresses(namespace).Patch(ctx, name, ktypes.StrategicMergePatchType, patch, metav1.PatchOptions{})
		return patchErr
	})
	if err != nil {
		return clusterError(err)
	}
	return nil
}

func (c *Controller) failRecord(ctx context.Context, record *types.Deployment, cause error) {
	record.Status = types.DeploymentStatusFailed
	record.Message = failureMessage(cause)
	failedAt := time.Now().UTC()
	record.LastDeployTime = &failedAt
	if err := c.deployments.Update(ctx, record); err != nil {
		c.logger.WithError(err).Error("Failed to persist deployment failure")
	}
}

// Delete removes the student's Ingress, Service and Deployment in that
// order. 404 counts as success per resource, so repeated deletes are
// idempotent.
func (c *Controller) Delete(ctx context.Context, student *types.Student, class types.ProjectClass) (*DeleteResult, error) {
	namespace, ok := k8s.NamespaceForClass(class)
	if !ok {
		return nil, errors.ErrInvalidClassKey
	}
	if student.ProjectClass != class {
		return nil, errors.ErrClassMismatch
	}
	if c.client == nil {
		return nil, errors.ErrClusterUnavailable
	}

	name := k8s.NewWorkloadBuilder(k8s.WorkloadSpec{StudentCode: student.StudentCode}).Name()

	var deleted []string
	deleteOps := []struct {
		kind string
		fn   func() error
	}{
		{"ingress", func() error {
			return c.client.NetworkingV1().Ingresses(namespace).Delete(ctx, name, metav1.DeleteOptions{})
		}},
		{"service", func() error {
			return c.client.CoreV1().Services(namespace).Delete(ctx, name, metav1.DeleteOptions{})
		}},
		{"deployment", func() error {
			return c.client.AppsV1().Deployments(namespace).Delete(ctx, name, metav1.DeleteOptions{})
		}},
	}

	for _, op := range deleteOps {
		if err := op.fn(); err != nil {
			if apierrors.IsNotFound(err) {
				continue
			}
			return nil, clusterError(err)
		}
		deleted = append(deleted, op.kind)
	}

	if len(deleted) == 0 {
		return &DeleteResult{Status: "not_found"}, nil
	}

	c.logger.WithFields(logrus.Fields{
		"student": student.StudentCode,
		"deleted": deleted,
	}).Info("Deleted student workload")

	return &DeleteResult{Status: "deleted", Deleted: deleted}, nil
}

func clusterError(err error) error {
	if s, ok := err.(apierrors.APIStatus); ok {
		if reason := string(s.Status().Reason); reason != "" {
			return errors.ErrCluster.WithMessage("Kubernetes Operation Failed: " + reason).WithError(err)
		}
	}
	return errors.ErrCluster.WithError(err)
}

func failureMessage(err error) string {
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}
