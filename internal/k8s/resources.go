package k8s

import (
	"strings"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"

	"github.com/hjunqq/hydrosim-platform/internal/naming"
)

const (
	// ManagedByLabel marks every object owned by the portal controller.
	ManagedByLabel = "portal-controller"

	containerPort = 8000
)

// PVCOptions configures the optional per-student persistent volume.
type PVCOptions struct {
	Enabled      bool
	Size         string
	StorageClass string
	MountPath    string
}

// WorkloadSpec is the desired state of one student workload: the inputs the
// builder maps to a Deployment, Service, Ingress and optional PVC.
type WorkloadSpec struct {
	StudentCode   string
	Image         string
	Namespace     string
	DomainSuffix  string
	HostPrefix    string
	PVC           PVCOptions
	TLSSecretName string
}

// WorkloadBuilder constructs the Kubernetes object graph for one student.
// All emitted objects share the same name and label set so that the deploy
// controller, status aggregator and TLS sync agree on what they address.
type WorkloadBuilder struct {
	spec     WorkloadSpec
	dnsLabel string
	appName  string
	labels   map[string]string
}

func NewWorkloadBuilder(spec WorkloadSpec) *WorkloadBuilder {
	spec.DomainSuffix = strings.TrimLeft(spec.DomainSuffix, ".")
	return &WorkloadBuilder{
		spec:     spec,
		dnsLabel: naming.DNSLabel(spec.StudentCode),
		appName:  naming.ResourceName(spec.StudentCode),
		labels: map[string]string{
			"app":        naming.ResourceName(spec.StudentCode),
			"student":    spec.StudentCode,
			"managed-by": ManagedByLabel,
		},
	}
}

// Name returns the shared resource name (Deployment, Service, Ingress).
func (b *WorkloadBuilder) Name() string {
	return b.appName
}

// PVCName returns the name of the student's data volume claim.
func (b *WorkloadBuilder) PVCName() string {
	return b.appName + "-data"
}

// Labels returns the label set applied to every emitted object.
func (b *WorkloadBuilder) Labels() map[string]string {
	labels := make(map[string]string, len(b.labels))
	for k, v := range b.labels {
		labels[k] = v
	}
	return labels
}

// Host returns the public host served by the Ingress.
func (b *WorkloadBuilder) Host() string {
	return b.spec.HostPrefix + b.dnsLabel + "." + b.spec.DomainSuffix
}

func (b *WorkloadBuilder) objectMeta(name string) metav1.ObjectMeta {
	return metav1.ObjectMeta{
		Name:      name,
		Namespace: b.spec.Namespace,
		Labels:    b.Labels(),
	}
}

// Deployment emits the student Deployment: single replica, fixed resource
// ceiling, non-root, TCP probes on the app port and a zero-downtime rolling
// update strategy.
func (b *WorkloadBuilder) Deployment() *appsv1.Deployment {
	env := []corev1.EnvVar{
		{Name: "STUDENT_CODE", Value: b.spec.StudentCode},
		{Name: "APP_NAME", Value: b.appName},
	}

	var volumeMounts []corev1.VolumeMount
	var volumes []corev1.Volume
	var podSecurity *corev1.PodSecurityContext

	if b.spec.PVC.Enabled {
		mountPath := b.spec.PVC.MountPath
		if mountPath == "" {
			mountPath = "/data"
		}
		volumeMounts = append(volumeMounts, corev1.VolumeMount{
			Name:      "data",
			MountPath: mountPath,
		})
		volumes = append(volumes, corev1.Volume{
			Name: "data",
			VolumeSource: corev1.VolumeSource{
				PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{
					ClaimName: b.PVCName(),
				},
			},
		})
		env = append(env,
			corev1.EnvVar{Name: "DATA_DIR", Value: mountPath},
			corev1.EnvVar{Name: "DB_FILE", Value: mountPath + "/app.db"},
		)
		podSecurity = &corev1.PodSecurityContext{
			FSGroup: int64Ptr(1000),
		}
	}

	container := corev1.Container{
		Name:            "app",
		Image:           b.spec.Image,
		ImagePullPolicy: corev1.PullAlways,
		Ports: []corev1.ContainerPort{
			{Name: "http", ContainerPort: containerPort},
		},
		Resources: corev1.ResourceRequirements{
			Requests: corev1.ResourceList{
				corev1.ResourceCPU:    resource.MustParse("100m"),
				corev1.ResourceMemory: resource.MustParse("128Mi"),
			},
			Limits: corev1.ResourceList{
				corev1.ResourceCPU:    resource.MustParse("500m"),
				corev1.ResourceMemory: resource.MustParse("512Mi"),
			},
		},
		Env: env,
		SecurityContext: &corev1.SecurityContext{
			RunAsNonRoot:             boolPtr(true),
			RunAsUser:                int64Ptr(1000),
			AllowPrivilegeEscalation: boolPtr(false),
		},
		// Readiness gates traffic; a new pod must pass before the old one
		// is killed under the surge strategy below.
		ReadinessProbe: &corev1.Probe{
			ProbeHandler: corev1.ProbeHandler{
				TCPSocket: &corev1.TCPSocketAction{
					Port: intstr.FromInt32(containerPort),
				},
			},
			InitialDelaySeconds: 5,
			PeriodSeconds:       10,
			FailureThreshold:    3,
		},
		LivenessProbe: &corev1.Probe{
			ProbeHandler: corev1.ProbeHandler{
				TCPSocket: &corev1.TCPSocketAction{
					Port: intstr.FromInt32(containerPort),
				},
			},
			InitialDelaySeconds: 15,
			PeriodSeconds:       20,
			FailureThreshold:    3,
		},
		VolumeMounts: volumeMounts,
	}

	maxSurge := intstr.FromInt32(1)
	maxUnavailable := intstr.FromInt32(0)

	return &appsv1.Deployment{
		ObjectMeta: b.objectMeta(b.appName),
		Spec: appsv1.DeploymentSpec{
			Replicas: int32Ptr(1),
			Selector: &metav1.LabelSelector{
				MatchLabels: b.Labels(),
			},
			ProgressDeadlineSeconds: int32Ptr(600),
			Strategy: appsv1.DeploymentStrategy{
				Type: appsv1.RollingUpdateDeploymentStrategyType,
				RollingUpdate: &appsv1.RollingUpdateDeployment{
					MaxSurge:       &maxSurge,
					MaxUnavailable: &maxUnavailable,
				},
			},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels: b.Labels(),
				},
				Spec: corev1.PodSpec{
					Containers:      []corev1.Container{container},
					Volumes:         volumes,
					SecurityContext: podSecurity,
					RestartPolicy:   corev1.RestartPolicyAlways,
				},
			},
		},
	}
}

// Service emits the ClusterIP service fronting the student pod.
func (b *WorkloadBuilder) Service() *corev1.Service {
	return &corev1.Service{
		ObjectMeta: b.objectMeta(b.appName),
		Spec: corev1.ServiceSpec{
			Selector: b.Labels(),
			Ports: []corev1.ServicePort{
				{
					Name:       "http",
					Port:       80,
					TargetPort: intstr.FromString("http"),
				},
			},
			Type: corev1.ServiceTypeClusterIP,
		},
	}
}

// PVC emits the student data volume claim, or nil when the PVC is disabled.
func (b *WorkloadBuilder) PVC() *corev1.PersistentVolumeClaim {
	if !b.spec.PVC.Enabled {
		return nil
	}

	size := b.spec.PVC.Size
	if size == "" {
		size = "1Gi"
	}

	spec := corev1.PersistentVolumeClaimSpec{
		AccessModes: []corev1.PersistentVolumeAccessMode{
			corev1.ReadWriteOnce,
		},
		Resources: corev1.VolumeResourceRequirements{
			Requests: corev1.ResourceList{
				corev1.ResourceStorage: resource.MustParse(size),
			},
		},
	}
	if b.spec.PVC.StorageClass != "" {
		spec.StorageClassName = stringPtr(b.spec.PVC.StorageClass)
	}

	return &corev1.PersistentVolumeClaim{
		ObjectMeta: b.objectMeta(b.PVCName()),
		Spec:       spec,
	}
}

// Ingress emits the Traefik ingress for the student host. When a TLS secret
// is configured, the websecure entrypoint and TLS stanza are included.
func (b *WorkloadBuilder) Ingress() *networkingv1.Ingress {
	host := b.Host()
	pathType := networkingv1.PathTypePrefix

	entrypoints := "web"
	if b.spec.TLSSecretName != "" {
		entrypoints = "web,websecure"
	}
	annotations := map[string]string{
		"kubernetes.io/ingress.class":                      "traefik",
		"traefik.ingress.kubernetes.io/router.entrypoints": entrypoints,
	}

	spec := networkingv1.IngressSpec{
		Rules: []networkingv1.IngressRule{
			{
				Host: host,
				IngressRuleValue: networkingv1.IngressRuleValue{
					HTTP: &networkingv1.HTTPIngressRuleValue{
						Paths: []networkingv1.HTTPIngressPath{
							{
								Path:     "/",
								PathType: &pathType,
								Backend: networkingv1.IngressBackend{
									Service: &networkingv1.IngressServiceBackend{
										Name: b.appName,
										Port: networkingv1.ServiceBackendPort{
											Number: 80,
										},
									},
								},
							},
						},
					},
				},
			},
		},
	}

	if b.spec.TLSSecretName != "" {
		annotations["traefik.ingress.kubernetes.io/router.tls"] = "true"
		spec.IngressClassName = stringPtr("traefik")
		spec.TLS = []networkingv1.IngressTLS{
			{
				Hosts:      []string{host},
				SecretName: b.spec.TLSSecretName,
			},
		}
	}

	meta := b.objectMeta(b.appName)
	meta.Annotations = annotations

	return &networkingv1.Ingress{
		ObjectMeta: meta,
		Spec:       spec,
	}
}

func boolPtr(b bool) *bool       { return &b }
func int32Ptr(i int32) *int32    { return &i }
func int64Ptr(i int64) *int64    { return &i }
func stringPtr(s string) *string { return &s }
