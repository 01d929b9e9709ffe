package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hjunqq/hydrosim-platform/internal/errors"
	"github.com/hjunqq/hydrosim-platform/internal/types"
)

type fakeConfigLister struct {
	configs []*types.BuildConfig
}

func (f *fakeConfigLister) List(ctx context.Context) ([]*types.BuildConfig, error) {
	return f.configs, nil
}

type fakeTrigger struct {
	calls []triggerCall
	err   error
}

type triggerCall struct {
	studentID int64
	commitSHA string
	branch    string
}

func (f *fakeTrigger) Trigger(ctx context.Context, studentID int64, commitSHA, branch string) (*types.Build, error) {
	f.calls = append(f.calls, triggerCall{studentID, commitSHA, branch})
	if f.err != nil {
		return nil, f.err
	}
	return &types.Build{ID: 42, StudentID: studentID}, nil
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func pushHeaders(secret string, body []byte) http.Header {
	headers := http.Header{}
	headers.Set(EventHeader, "push")
	if secret != "" {
		headers.Set(SignatureHeader, sign(secret, body))
	}
	return headers
}

func matchingConfig() *types.BuildConfig {
	return &types.BuildConfig{
		StudentID: 3,
		RepoURL:   "git@git.example.com:user/repo.git",
		Branch:    "main",
		AutoBuild: true,
	}
}

const pushBody = `{
	"ref": "refs/heads/main",
	"after": "1111111111111111111111111111111111111111",
	"repository": {
		"ssh_url": "git@git.example.com:User/Repo.git",
		"clone_url": "https://git.example.com/User/Repo.git"
	},
	"commits": [
		{"id": "2222222222222222222222222222222222222222"},
		{"id": "3333333333333333333333333333333333333333"}
	]
}`

func TestOnPushTriggersBuild(t *testing.T) {
	trigger := &fakeTrigger{}
	intake := NewIntake("topsecret", &fakeConfigLister{configs: []*types.BuildConfig{matchingConfig()}}, trigger, quietLogger())

	body := []byte(pushBody)
	result, err := intake.OnPush(context.Background(), pushHeaders("topsecret", body), body)
	require.NoError(t, err)

	assert.True(t, result.Triggered)
	assert.Equal(t, int64(42), result.BuildID)
	require.Len(t, trigger.calls, 1)
	assert.Equal(t, int64(3), trigger.calls[0].studentID)
	// Last commit id wins over the top-level after field.
	assert.Equal(t, "3333333333333333333333333333333333333333", trigger.calls[0].commitSHA)
	assert.Equal(t, "main", trigger.calls[0].branch)
}

func TestOnPushSignatureMismatch(t *testing.T) {
	trigger := &fakeTrigger{}
	intake := NewIntake("topsecret", &fakeConfigLister{}, trigger, quietLogger())

	body := []byte(pushBody)
	headers := http.Header{}
	headers.Set(EventHeader, "push")
	headers.Set(SignatureHeader, "sha256=deadbeef")

	_, err := intake.OnPush(context.Background(), headers, body)
	assert.True(t, errors.Is(err, errors.ErrWebhookSignature))
	assert.Empty(t, trigger.calls)
}

func TestOnPushMissingSignature(t *testing.T) {
	intake := NewIntake("topsecret", &fakeConfigLister{}, &fakeTrigger{}, quietLogger())

	body := []byte(pushBody)
	headers := http.Header{}
	headers.Set(EventHeader, "push")

	_, err := intake.OnPush(context.Background(), headers, body)
	assert.True(t, errors.Is(err, errors.ErrWebhookSignature))
}

func TestOnPushNoSecretSkipsVerification(t *testing.T) {
	trigger := &fakeTrigger{}
	intake := NewIntake("", &fakeConfigLister{configs: []*types.BuildConfig{matchingConfig()}}, trigger, quietLogger())

	body := []byte(pushBody)
	headers := http.Header{}
	headers.Set(EventHeader, "push")

	result, err := intake.OnPush(context.Background(), headers, body)
	require.NoError(t, err)
	assert.True(t, result.Triggered)
}

func TestOnPushIgnoresOtherEvents(t *testing.T) {
	trigger := &fakeTrigger{}
	intake := NewIntake("", &fakeConfigLister{}, trigger, quietLogger())

	headers := http.Header{}
	headers.Set(EventHeader, "ping")

	result, err := intake.OnPush(context.Background(), headers, []byte(`{}`))
	require.NoError(t, err)
	assert.False(t, result.Triggered)
	assert.Equal(t, "Ignored event type", result.Reason)
}

func TestOnPushBranchMismatch(t *testing.T) {
	trigger := &fakeTrigger{}
	intake := NewIntake("", &fakeConfigLister{configs: []*types.BuildConfig{matchingConfig()}}, trigger, quietLogger())

	body := []byte(`{
		"ref": "refs/heads/dev",
		"after": "1111111111111111111111111111111111111111",
		"repository": {"ssh_url": "git@git.example.com:user/repo.git"}
	}`)
	headers := http.Header{}
	headers.Set(EventHeader, "push")

	result, err := intake.OnPush(context.Background(), headers, body)
	require.NoError(t, err)
	assert.False(t, result.Triggered)
	assert.Equal(t, "Branch mismatch, skipping", result.Reason)
	assert.Empty(t, trigger.calls)
}

func TestOnPushAutoBuildDisabled(t *testing.T) {
	config := matchingConfig()
	config.AutoBuild = false
	intake := NewIntake("", &fakeConfigLister{configs: []*types.BuildConfig{config}}, &fakeTrigger{}, quietLogger())

	body := []byte(pushBody)
	headers := http.Header{}
	headers.Set(EventHeader, "push")

	result, err := intake.OnPush(context.Background(), headers, body)
	require.NoError(t, err)
	assert.False(t, result.Triggered)
	assert.Equal(t, "Auto build disabled", result.Reason)
}

func TestOnPushUnknownRepository(t *testing.T) {
	intake := NewIntake("", &fakeConfigLister{}, &fakeTrigger{}, quietLogger())

	body := []byte(pushBody)
	headers := http.Header{}
	headers.Set(EventHeader, "push")

	result, err := intake.OnPush(context.Background(), headers, body)
	require.NoError(t, err)
	assert.False(t, result.Triggered)
	assert.Equal(t, "No config found", result.Reason)
}

func TestOnPushMissingRepositoryURL(t *testing.T) {
	intake := NewIntake("", &fakeConfigLister{}, &fakeTrigger{}, quietLogger())

	headers := http.Header{}
	headers.Set(EventHeader, "push")

	_, err := intake.OnPush(context.Background(), headers, []byte(`{"ref": "refs/heads/main"}`))
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
}

func TestOnPushFallsBackToAfterSHA(t *testing.T) {
	trigger := &fakeTrigger{}
	intake := NewIntake("", &fakeConfigLister{configs: []*types.BuildConfig{matchingConfig()}}, trigger, quietLogger())

	body := []byte(`{
		"ref": "refs/heads/main",
		"after": "4444444444444444444444444444444444444444",
		"repository": {"clone_url": "https://git.example.com/user/repo.git"}
	}`)
	headers := http.Header{}
	headers.Set(EventHeader, "push")

	_, err := intake.OnPush(context.Background(), headers, body)
	require.NoError(t, err)
	require.Len(t, trigger.calls, 1)
	assert.Equal(t, "4444444444444444444444444444444444444444", trigger.calls[0].commitSHA)
}

func TestNormalizeRepoURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"git@git.example.com:User/Repo.git", "git.example.com/user/repo"},
		{"ssh://git@git.example.com:2222/user/repo.git", "git.example.com/user/repo"},
		{"https://git.example.com/user/repo.git", "git.example.com/user/repo"},
		{"https://git.example.com/user/repo", "git.example.com/user/repo"},
		{"git.example.com/user/repo", "git.example.com/user/repo"},
		{"git@git.example.com", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeRepoURL(tt.in), "input %q", tt.in)
	}
}
