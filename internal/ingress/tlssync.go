package ingress

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/sirupsen/logrus"
	networkingv1 "k8s.io/api/networking/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	ktypes "k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes"

	"github.com/hjunqq/hydrosim-platform/internal/k8s"
)

const (
	ingressClass = "traefik"
	entrypoints  = "web,websecure"
)

// Result counts the outcomes of one TLS sync pass.
type Result struct {
	Patched int
	Skipped int
	Errors  int
}

// SyncStudentTLS runs once at startup: every student-managed ingress with
// at least one host is patched to the TLS annotations and stanza unless it
// already matches. Permission failures are counted, not fatal.
func SyncStudentTLS(ctx context.Context, client kubernetes.Interface, secretName string, logger *logrus.Logger) Result {
	result := Result{}
	if secretName == "" {
		logger.Info("Student TLS secret not configured, skipping ingress TLS sync")
		return result
	}
	if client == nil {
		logger.Warn("Kubernetes client unavailable, skipping ingress TLS sync")
		return result
	}

	for _, namespace := range k8s.StudentNamespaces() {
		ingresses, err := client.NetworkingV1().Ingresses(namespace).List(ctx, metav1.ListOptions{})
		if err != nil {
			logger.WithError(err).WithField("namespace", namespace).Warn("Failed to list ingresses")
			result.Errors++
			continue
		}

		for i := range ingresses.Items {
			ing := &ingresses.Items[i]
			if !isStudentIngress(ing) {
				continue
			}
			hosts := collectHosts(ing)
			if len(hosts) == 0 {
				result.Skipped++
				continue
			}
			if !needsTLSPatch(ing, secretName, hosts) {
				result.Skipped++
				continue
			}

			if err := patchIngressTLS(ctx, client, ing, secretName, hosts); err != nil {
				logger.WithError(err).WithFields(logrus.Fields{
					"namespace": namespace,
					"ingress":   ing.Name,
				}).Warn("Failed to patch ingress")
				result.Errors++
				continue
			}
			result.Patched++
		}
	}

	if result.Patched > 0 || result.Errors > 0 {
		logger.WithFields(logrus.Fields{
			"patched": result.Patched,
			"skipped": result.Skipped,
			"errors":  result.Errors,
		}).Info("Student ingress TLS sync finished")
	}
	return result
}

func isStudentIngress(ing *networkingv1.Ingress) bool {
	if ing.Labels["managed-by"] == k8s.ManagedByLabel {
		return true
	}
	if _, ok := ing.Labels["student"]; ok {
		return true
	}
	return strings.HasPrefix(ing.Name, "student-")
}

func collectHosts(ing *networkingv1.Ingress) []string {
	var hosts []string
	seen := map[string]bool{}
	for _, rule := range ing.Spec.Rules {
		if rule.Host != "" && !seen[rule.Host] {
			seen[rule.Host] = true
			hosts = append(hosts, rule.Host)
		}
	}
	return hosts
}

func needsTLSPatch(ing *networkingv1.Ingress, secretName string, hosts []string) bool {
	annotations := ing.Annotations
	if annotations["traefik.ingress.kubernetes.io/router.entrypoints"] != entrypoints {
		return true
	}
	if annotations["traefik.ingress.kubernetes.io/router.tls"] != "true" {
		return true
	}
	if annotations["kubernetes.io/ingress.class"] != ingressClass {
		return true
	}
	if ing.Spec.IngressClassName == nil || *ing.Spec.IngressClassName != ingressClass {
		return true
	}

	existingHosts := map[string]bool{}
	existingSecrets := map[string]bool{}
	for _, tls := range ing.Spec.TLS {
		if tls.SecretName != "" {
			existingSecrets[tls.SecretName] = true
		}
		for _, h := range tls.Hosts {
			existingHosts[h] = true
		}
	}

	if !existingSecrets[secretName] {
		return true
	}
	for _, h := range hosts {
		if !existingHosts[h] {
			return true
		}
	}
	return false
}

func patchIngressTLS(ctx context.Context, client kubernetes.Interface, ing *networkingv1.Ingress, secretName string, hosts []string) error {
	annotations := map[string]string{}
	for k, v := range ing.Annotations {
		annotations[k] = v
	}
	annotations["kubernetes.io/ingress.class"] = ingressClass
	annotations["traefik.ingress.kubernetes.io/router.entrypoints"] = entrypoints
	annotations["traefik.ingress.kubernetes.io/router.tls"] = "true"

	patch, err := json.Marshal(map[string]any{
		"metadata": map[string]any{
			"annotations": annotations,
		},
		"spec": map[string]any{
			"ingressClassName": ingressClass,
			"tls": []networkingv1.IngressTLS{
				{Hosts: hosts, SecretName: secretName},
			},
		},
	})
	if err != nil {
		return err
	}

	_, err = client.NetworkingV1().Ingresses(ing.Namespace).Patch(ctx, ing.Name, ktypes.StrategicMergePatchType, patch, metav1.PatchOptions{})
	return err
}
