package k8s

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
)

func baseSpec() WorkloadSpec {
	return WorkloadSpec{
		StudentCode:  "A1",
		Image:        "nginx:alpine",
		Namespace:    "students-gd",
		DomainSuffix: "gd.hydrosim.cn",
		HostPrefix:   "stu-",
	}
}

func TestWorkloadBuilderNames(t *testing.T) {
	b := NewWorkloadBuilder(baseSpec())

	assert.Equal(t, "student-a1", b.Name())
	assert.Equal(t, "student-a1-data", b.PVCName())
	assert.Equal(t, "stu-a1.gd.hydrosim.cn", b.Host())
	assert.Equal(t, map[string]string{
		"app":        "student-a1",
		"student":    "A1",
		"managed-by": "portal-controller",
	}, b.Labels())
}

func TestWorkloadBuilderDeployment(t *testing.T) {
	b := NewWorkloadBuilder(baseSpec())
	d := b.Deployment()

	assert.Equal(t, "student-a1", d.Name)
	assert.Equal(t, "students-gd", d.Namespace)
	require.NotNil(t, d.Spec.Replicas)
	assert.Equal(t, int32(1), *d.Spec.Replicas)
	require.NotNil(t, d.Spec.ProgressDeadlineSeconds)
	assert.Equal(t, int32(600), *d.Spec.ProgressDeadlineSeconds)

	assert.Equal(t, int32(1), d.Spec.Strategy.RollingUpdate.MaxSurge.IntVal)
	assert.Equal(t, int32(0), d.Spec.Strategy.RollingUpdate.MaxUnavailable.IntVal)

	require.Len(t, d.Spec.Template.Spec.Containers, 1)
	c := d.Spec.Template.Spec.Containers[0]
	assert.Equal(t, "app", c.Name)
	assert.Equal(t, "nginx:alpine", c.Image)
	assert.Equal(t, corev1.PullAlways, c.ImagePullPolicy)
	require.Len(t, c.Ports, 1)
	assert.Equal(t, int32(8000), c.Ports[0].ContainerPort)
	assert.Equal(t, "http", c.Ports[0].Name)

	assert.Equal(t, "100m", c.Resources.Requests.Cpu().String())
	assert.Equal(t, "128Mi", c.Resources.Requests.Memory().String())
	assert.Equal(t, "500m", c.Resources.Limits.Cpu().String())
	assert.Equal(t, "512Mi", c.Resources.Limits.Memory().String())

	require.NotNil(t, c.SecurityContext)
	assert.True(t, *c.SecurityContext.RunAsNonRoot)
	assert.Equal(t, int64(1000), *c.SecurityContext.RunAsUser)
	assert.False(t, *c.SecurityContext.AllowPrivilegeEscalation)

	require.NotNil(t, c.ReadinessProbe)
	assert.Equal(t, int32(5), c.ReadinessProbe.InitialDelaySeconds)
	assert.Equal(t, int32(10), c.ReadinessProbe.PeriodSeconds)
	assert.Equal(t, int32(3), c.ReadinessProbe.FailureThreshold)
	require.NotNil(t, c.ReadinessProbe.TCPSocket)

	require.NotNil(t, c.LivenessProbe)
	assert.Equal(t, int32(15), c.LivenessProbe.InitialDelaySeconds)
	assert.Equal(t, int32(20), c.LivenessProbe.PeriodSeconds)

	env := map[string]string{}
	for _, e := range c.Env {
		env[e.Name] = e.Value
	}
	assert.Equal(t, "A1", env["STUDENT_CODE"])
	assert.Equal(t, "student-a1", env["APP_NAME"])
	assert.NotContains(t, env, "DATA_DIR")
	assert.Nil(t, d.Spec.Template.Spec.SecurityContext)
}

func TestWorkloadBuilderDeploymentWithPVC(t *testing.T) {
	spec := baseSpec()
	spec.PVC = PVCOptions{Enabled: true, Size: "2Gi", MountPath: "/data"}

	d := NewWorkloadBuilder(spec).Deployment()
	c := d.Spec.Template.Spec.Containers[0]

	require.Len(t, c.VolumeMounts, 1)
	assert.Equal(t, "/data", c.VolumeMounts[0].MountPath)

	env := map[string]string{}
	for _, e := range c.Env {
		env[e.Name] = e.Value
	}
	assert.Equal(t, "/data", env["DATA_DIR"])
	assert.Equal(t, "/data/app.db", env["DB_FILE"])

	require.NotNil(t, d.Spec.Template.Spec.SecurityContext)
	assert.Equal(t, int64(1000), *d.Spec.Template.Spec.SecurityContext.FSGroup)

	require.Len(t, d.Spec.Template.Spec.Volumes, 1)
	assert.Equal(t, "student-a1-data", d.Spec.Template.Spec.Volumes[0].PersistentVolumeClaim.ClaimName)
}

func TestWorkloadBuilderService(t *testing.T) {
	s := NewWorkloadBuilder(baseSpec()).Service()

	assert.Equal(t, "student-a1", s.Name)
	assert.Equal(t, corev1.ServiceTypeClusterIP, s.Spec.Type)
	require.Len(t, s.Spec.Ports, 1)
	assert.Equal(t, int32(80), s.Spec.Ports[0].Port)
	assert.Equal(t, "http", s.Spec.Ports[0].TargetPort.StrVal)
	assert.Equal(t, "student-a1", s.Spec.Selector["app"])
	assert.Equal(t, "portal-controller", s.Spec.Selector["managed-by"])
}

func TestWorkloadBuilderPVC(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		assert.Nil(t, NewWorkloadBuilder(baseSpec()).PVC())
	})

	t.Run("enabled with storage class", func(t *testing.T) {
		spec := baseSpec()
		spec.PVC = PVCOptions{Enabled: true, Size: "5Gi", StorageClass: "fast"}

		pvc := NewWorkloadBuilder(spec).PVC()
		require.NotNil(t, pvc)
		assert.Equal(t, "student-a1-data", pvc.Name)
		assert.Equal(t, []corev1.PersistentVolumeAccessMode{corev1.ReadWriteOnce}, pvc.Spec.AccessModes)
		assert.Equal(t, "5Gi", pvc.Spec.Resources.Requests.Storage().String())
		require.NotNil(t, pvc.Spec.StorageClassName)
		assert.Equal(t, "fast", *pvc.Spec.StorageClassName)
	})

	t.Run("enabled without storage class", func(t *testing.T) {
		spec := baseSpec()
		spec.PVC = PVCOptions{Enabled: true, Size: "1Gi"}
		pvc := NewWorkloadBuilder(spec).PVC()
		require.NotNil(t, pvc)
		assert.Nil(t, pvc.Spec.StorageClassName)
	})
}

func TestWorkloadBuilderIngress(t *testing.T) {
	t.Run("plain http", func(t *testing.T) {
		ing := NewWorkloadBuilder(baseSpec()).Ingress()

		assert.Equal(t, "student-a1", ing.Name)
		assert.Equal(t, "traefik", ing.Annotations["kubernetes.io/ingress.class"])
		assert.Equal(t, "web", ing.Annotations["traefik.ingress.kubernetes.io/router.entrypoints"])
		assert.NotContains(t, ing.Annotations, "traefik.ingress.kubernetes.io/router.tls")
		assert.Nil(t, ing.Spec.IngressClassName)
		assert.Empty(t, ing.Spec.TLS)

		require.Len(t, ing.Spec.Rules, 1)
		rule := ing.Spec.Rules[0]
		assert.Equal(t, "stu-a1.gd.hydrosim.cn", rule.Host)
		require.Len(t, rule.HTTP.Paths, 1)
		assert.Equal(t, "/", rule.HTTP.Paths[0].Path)
		assert.Equal(t, "student-a1", rule.HTTP.Paths[0].Backend.Service.Name)
		assert.Equal(t, int32(80), rule.HTTP.Paths[0].Backend.Service.Port.Number)
	})

	t.Run("with tls secret", func(t *testing.T) {
		spec := baseSpec()
		spec.TLSSecretName = "wildcard-tls"
		ing := NewWorkloadBuilder(spec).Ingress()

		assert.Equal(t, "web,websecure", ing.Annotations["traefik.ingress.kubernetes.io/router.entrypoints"])
		assert.Equal(t, "true", ing.Annotations["traefik.ingress.kubernetes.io/router.tls"])
		require.NotNil(t, ing.Spec.IngressClassName)
		assert.Equal(t, "traefik", *ing.Spec.IngressClassName)
		require.Len(t, ing.Spec.TLS, 1)
		assert.Equal(t, []string{"stu-a1.gd.hydrosim.cn"}, ing.Spec.TLS[0].Hosts)
		assert.Equal(t, "wildcard-tls", ing.Spec.TLS[0].SecretName)
	})
}

func TestNamespaceForClass(t *testing.T) {
	ns, ok := NamespaceForClass("gd")
	assert.True(t, ok)
	assert.Equal(t, "students-gd", ns)

	ns, ok = NamespaceForClass("cd")
	assert.True(t, ok)
	assert.Equal(t, "students-cd", ns)

	_, ok = NamespaceForClass("platform")
	assert.False(t, ok)

	assert.Equal(t, []string{"students-gd", "students-cd"}, StudentNamespaces())
}
