package naming

import (
	"crypto/sha1"
	"encoding/hex"
	"regexp"
	"strings"
)

// MaxLabelLength is the DNS label limit enforced by Kubernetes.
const MaxLabelLength = 63

var (
	invalidChars = regexp.MustCompile(`[^a-z0-9-]+`)
	dashRuns     = regexp.MustCompile(`-{2,}`)
)

// Normalize converts an arbitrary student code into a valid DNS label.
// The transformation is idempotent: lowercase, replace runs of characters
// outside [a-z0-9-] with a single dash, collapse repeated dashes, and strip
// leading/trailing dashes. Codes that would exceed MaxLabelLength keep their
// first 56 characters and gain a 6-hex sha1 suffix so that distinct long
// codes stay distinct.
func Normalize(value string) string {
	if value == "" {
		return "student"
	}
	lowered := strings.ToLower(strings.TrimSpace(value))
	normalized := invalidChars.ReplaceAllString(lowered, "-")
	normalized = dashRuns.ReplaceAllString(normalized, "-")
	normalized = strings.Trim(normalized, "-")
	if normalized == "" {
		normalized = "student"
	}
	if len(normalized) > MaxLabelLength {
		sum := sha1.Sum([]byte(lowered))
		digest := hex.EncodeToString(sum[:])[:6]
		trimmed := strings.TrimRight(normalized[:MaxLabelLength-7], "-")
		normalized = trimmed + "-" + digest
	}
	return normalized
}

// ResourceName returns the cluster resource name shared by a student's
// Deployment, Service and Ingress.
func ResourceName(studentCode string) string {
	return "student-" + Normalize(studentCode)
}

// DNSLabel returns the host label used when composing a student's public
// domain.
func DNSLabel(studentCode string) string {
	return Normalize(studentCode)
}
