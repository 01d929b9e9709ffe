package registry

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	pingTimeout  = 5 * time.Second
	queryTimeout = 10 * time.Second

	manifestAccept = "application/vnd.docker.distribution.manifest.v2+json, " +
		"application/vnd.docker.distribution.manifest.list.v2+json, " +
		"application/vnd.oci.image.manifest.v1+json, " +
		"application/vnd.oci.image.index.v1+json"
)

// Client talks the OCI distribution v2 API to a configured registry:
// connectivity probe, catalog and tag listing, and tag deletion via
// manifest digest. Student registries are frequently self-signed, so TLS
// verification is off.
type Client struct {
	http   *http.Client
	logger *logrus.Logger
}

func NewClient(logger *logrus.Logger) *Client {
	return &Client{
		http: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		},
		logger: logger,
	}
}

func (c *Client) get(ctx context.Context, timeout time.Duration, url, username, password string) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if username != "" && password != "" {
		req.SetBasicAuth(username, password)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}
	resp.Body = io.NopCloser(strings.NewReader(string(body)))
	return resp, nil
}

// TestConnection probes the registry root. 200 and 401 both mean the
// registry answered.
func (c *Client) TestConnection(ctx context.Context, url, username, password string) bool {
	resp, err := c.get(ctx, pingTimeout, strings.TrimRight(url, "/")+"/v2/", username, password)
	if err != nil {
		return false
	}
	return resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusUnauthorized
}

// Catalog lists the repositories the registry holds.
func (c *Client) Catalog(ctx context.Context, url, username, password string) ([]string, error) {
	resp, err := c.get(ctx, queryTimeout, strings.TrimRight(url, "/")+"/v2/_catalog", username, password)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog request returned %d", resp.StatusCode)
	}

	var payload struct {
		Repositories []string `json:"repositories"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}
	return payload.Repositories, nil
}

// Tags lists the tags of one repository.
func (c *Client) Tags(ctx context.Context, url, repoName, username, password string) ([]string, error) {
	resp, err := c.get(ctx, queryTimeout, fmt.Sprintf("%s/v2/%s/tags/list", strings.TrimRight(url, "/"), repoName), username, password)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tags request returned %d", resp.StatusCode)
	}

	var payload struct {
		Tags []string `json:"tags"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}
	return payload.Tags, nil
}

// DeleteTag removes a tag by resolving its manifest digest first; the
// registry only accepts deletion by digest.
func (c *Client) DeleteTag(ctx context.Context, url, repoName, tag, username, password string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	base := strings.TrimRight(url, "/")
	manifestURL := fmt.Sprintf("%s/v2/%s/manifests/%s", base, repoName, tag)

	digest, err := c.resolveDigest(ctx, manifestURL, username, password)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		fmt.Sprintf("%s/v2/%s/manifests/%s", base, repoName, digest), nil)
	if err != nil {
		return err
	}
	if username != "" && password != "" {
		req.SetBasicAuth(username, password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("delete request returned %d", resp.StatusCode)
	}

	c.logger.WithFields(logrus.Fields{
		"repo": repoName,
		"tag":  tag,
	}).Info("Registry tag deleted")
	return nil
}

// resolveDigest fetches the manifest digest for a tag, trying HEAD first
// and falling back to GET for registries that reject HEAD.
func (c *Client) resolveDigest(ctx context.Context, manifestURL, username, password string) (string, error) {
	for _, method := range []string{http.MethodHead, http.MethodGet} {
		req, err := http.NewRequestWithContext(ctx, method, manifestURL, nil)
		if err != nil {
			return "", err
		}
		req.Header.Set("Accept", manifestAccept)
		if username != "" && password != "" {
			req.SetBasicAuth(username, password)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return "", err
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			continue
		}
		digest := resp.Header.Get("Docker-Content-Digest")
		if digest == "" {
			return "", fmt.Errorf("no digest header in manifest response")
		}
		return digest, nil
	}
	return "", fmt.Errorf("manifest not found")
}
