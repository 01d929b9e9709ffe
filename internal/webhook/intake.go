package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/hjunqq/hydrosim-platform/internal/errors"
	"github.com/hjunqq/hydrosim-platform/internal/monitoring"
	"github.com/hjunqq/hydrosim-platform/internal/types"
)

const (
	// EventHeader carries the event type of a delivery.
	EventHeader = "X-Webhook-Event"

	// SignatureHeader carries the hex HMAC-SHA256 of the raw body,
	// prefixed with "sha256=".
	SignatureHeader = "X-Webhook-Signature"
)

// ConfigLister scans all build configs during repository matching.
type ConfigLister interface {
	List(ctx context.Context) ([]*types.BuildConfig, error)
}

// Trigger starts a build for the matched student.
type Trigger interface {
	Trigger(ctx context.Context, studentID int64, commitSHA, branch string) (*types.Build, error)
}

// Result reports what the intake did with a delivery.
type Result struct {
	Triggered bool   `json:"triggered"`
	BuildID   int64  `json:"build_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// pushPayload is the subset of a push event the intake consumes.
type pushPayload struct {
	Ref        string `json:"ref"`
	After      string `json:"after"`
	Repository struct {
		SSHURL   string `json:"ssh_url"`
		CloneURL string `json:"clone_url"`
		HTMLURL  string `json:"html_url"`
		URL      string `json:"url"`
	} `json:"repository"`
	Commits []struct {
		ID string `json:"id"`
	} `json:"commits"`
}

// Intake verifies push deliveries and routes them to the build
// orchestrator. With an empty secret the signature check is skipped; the
// constructor logs the exposure once.
type Intake struct {
	secret  string
	configs ConfigLister
	trigger Trigger
	logger  *logrus.Logger
}

func NewIntake(secret string, configs ConfigLister, trigger Trigger, logger *logrus.Logger) *Intake {
	if secret == "" {
		logger.Warn("Webhook secret not configured; push deliveries are unauthenticated")
	}
	return &Intake{secret: secret, configs: configs, trigger: trigger, logger: logger}
}

// OnPush handles one push delivery: verify, parse, match the repository to
// a build config and trigger when the branch and auto-build gate allow it.
func (i *Intake) OnPush(ctx context.Context, headers http.Header, rawBody []byte) (*Result, error) {
	if i.secret != "" {
		if err := i.verifySignature(headers.Get(SignatureHeader), rawBody); err != nil {
			monitoring.WebhookEvents.WithLabelValues("forbidden").Inc()
			return nil, err
		}
	}

	if event := headers.Get(EventHeader); event != "push" {
		monitoring.WebhookEvents.WithLabelValues("ignored").Inc()
		return &Result{Reason: "Ignored event type"}, nil
	}

	var payload pushPayload
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return nil, errors.ErrInvalidInput.WithMessage("Invalid JSON payload").WithError(err)
	}

	repoURL := firstNonEmpty(
		payload.Repository.SSHURL,
		payload.Repository.CloneURL,
		payload.Repository.HTMLURL,
		payload.Repository.URL,
	)
	normalized := NormalizeRepoURL(repoURL)
	if normalized == "" {
		return nil, errors.ErrInvalidInput.WithMessage("Missing repository URL")
	}

	config, err := i.matchConfig(ctx, normalized)
	if err != nil {
		return nil, err
	}
	if config == nil {
		i.logger.WithField("repo", repoURL).Warn("No build config found for repository")
		monitoring.WebhookEvents.WithLabelValues("unmatched").Inc()
		return &Result{Reason: "No config found"}, nil
	}

	if !config.AutoBuild {
		monitoring.WebhookEvents.WithLabelValues("disabled").Inc()
		return &Result{Reason: "Auto build disabled"}, nil
	}

	branch := branchFromRef(payload.Ref)
	if branch != config.Branch {
		monitoring.WebhookEvents.WithLabelValues("branch_mismatch").Inc()
		return &Result{Reason: "Branch mismatch, skipping"}, nil
	}

	commitSHA := payload.After
	if len(payload.Commits) > 0 && payload.Commits[len(payload.Commits)-1].ID != "" {
		commitSHA = payload.Commits[len(payload.Commits)-1].ID
	}
	if commitSHA == "" {
		commitSHA = "latest"
	}

	build, err := i.trigger.Trigger(ctx, config.StudentID, commitSHA, branch)
	if err != nil {
		monitoring.WebhookEvents.WithLabelValues("error").Inc()
		return nil, err
	}

	monitoring.WebhookEvents.WithLabelValues("triggered").Inc()
	return &Result{Triggered: true, BuildID: build.ID, Reason: "Build triggered"}, nil
}

func (i *Intake) verifySignature(signature string, body []byte) error {
	if signature == "" {
		return errors.ErrWebhookSignature.WithMessage("Missing webhook signature")
	}
	signature = strings.TrimPrefix(signature, "sha256=")

	mac := hmac.New(sha256.New, []byte(i.secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return errors.ErrWebhookSignature
	}
	return nil
}

// matchConfig finds the build config whose repo URL normalizes to the same
// {host}/{owner}/{repo} value as the incoming delivery.
func (i *Intake) matchConfig(ctx context.Context, normalized string) (*types.BuildConfig, error) {
	configs, err := i.configs.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, config := range configs {
		if NormalizeRepoURL(config.RepoURL) == normalized {
			return config, nil
		}
	}
	return nil, nil
}

func branchFromRef(ref string) string {
	if ref == "" {
		return "main"
	}
	parts := strings.Split(ref, "/")
	return parts[len(parts)-1]
}

// NormalizeRepoURL reduces any clone URL flavor (scp-style SSH, ssh://,
// http(s), bare host/path) to lowercased {host}/{owner}/{repo} with the
// .git suffix stripped. Returns "" when host or path is missing.
func NormalizeRepoURL(repoURL string) string {
	repoURL = strings.TrimSpace(repoURL)
	if repoURL == "" {
		return ""
	}

	var host, path string
	switch {
	case strings.HasPrefix(repoURL, "git@"):
		hostPath := repoURL[strings.Index(repoURL, "@")+1:]
		if idx := strings.Index(hostPath, ":"); idx >= 0 {
			host, path = hostPath[:idx], hostPath[idx+1:]
		} else {
			host = hostPath
		}
	case strings.HasPrefix(repoURL, "ssh://"):
		parsed, err := url.Parse(repoURL)
		if err != nil {
			return ""
		}
		host = parsed.Hostname()
		path = strings.TrimLeft(parsed.Path, "/")
	case strings.Contains(repoURL, "://"):
		parsed, err := url.Parse(repoURL)
		if err != nil {
			return ""
		}
		host = parsed.Hostname()
		if host == "" {
			host = parsed.Host
		}
		path = strings.TrimLeft(parsed.Path, "/")
	default:
		parts := strings.SplitN(repoURL, "/", 2)
		host = parts[0]
		if len(parts) > 1 {
			path = parts[1]
		}
	}

	if host == "" || path == "" {
		return ""
	}
	path = strings.TrimSuffix(path, ".git")
	return strings.ToLower(host + "/" + path)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
