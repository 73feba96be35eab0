package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/oshokin/libpack/internal/domain/release"
	"github.com/oshokin/libpack/internal/httpretry"
	"github.com/oshokin/libpack/internal/version"
)

// Source opens the remote content of a variant archive.
type Source interface {
	Open(ctx context.Context, version string, variant release.Variant) (io.ReadCloser, error)
}

// HTTPSource reads archives from release pages laid out as
// {host}/{owner}/{repo}/releases/download/v{version}/{file}.
type HTTPSource struct {
	// host is the release host base URL.
	host string
	// owner is the repository owner.
	owner string
	// repo is the repository name.
	repo string
	// client sends the requests.
	client *http.Client
	// policy controls retries of transient failures.
	policy httpretry.Policy
}

// Option configures an HTTPSource.
type Option func(*HTTPSource)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(s *HTTPSource) {
		if client != nil {
			s.client = client
		}
	}
}

// WithTimeout sets the per-request timeout of the default client.
func WithTimeout(timeout time.Duration) Option {
	return func(s *HTTPSource) {
		if timeout > 0 {
			s.client = &http.Client{Timeout: timeout}
		}
	}
}

// WithPolicy sets the retry policy.
func WithPolicy(policy httpretry.Policy) Option {
	return func(s *HTTPSource) {
		s.policy = policy
	}
}

// errUnexpectedStatus is returned for non-200 responses.
var errUnexpectedStatus = errors.New("unexpected http status")

// NewHTTPSource creates a source for the given release repository.
func NewHTTPSource(host, owner, repo string, opts ...Option) *HTTPSource {
	s := &HTTPSource{
		host:   strings.TrimRight(host, "/"),
		owner:  owner,
		repo:   repo,
		client: http.DefaultClient,
		policy: httpretry.DefaultPolicy(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// URL returns the download location of archiveFileName for version.
func (s *HTTPSource) URL(version, archiveFileName string) (string, error) {
	base, err := url.Parse(s.host)
	if err != nil {
		return "", fmt.Errorf("parse release host: %w", err)
	}

	// Use path.Join to normalize duplicate slashes when composing the URL path.
	base.Path = path.Join(base.Path, s.owner, s.repo, "releases", "download", "v"+version, archiveFileName)

	return base.String(), nil
}

// Open starts the download of a variant; the caller closes the body.
func (s *HTTPSource) Open(ctx context.Context, releaseVersion string, variant release.Variant) (io.ReadCloser, error) {
	location, err := s.URL(releaseVersion, variant.ArchiveFileName)
	if err != nil {
		return nil, err
	}

	response, err := httpretry.Do(ctx, s.client, s.policy, func(ctx context.Context) (*http.Request, error) {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, location, http.NoBody)
		if reqErr != nil {
			return nil, reqErr
		}

		req.Header.Set("User-Agent", version.UserAgent())
		req.Header.Set("Accept", "application/octet-stream")

		return req, nil
	})
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", location, err)
	}

	if response.StatusCode != http.StatusOK {
		_ = response.Body.Close()

		return nil, fmt.Errorf("%s, %s: %w", location, response.Status, errUnexpectedStatus)
	}

	return response.Body, nil
}
