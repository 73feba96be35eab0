package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/oshokin/libpack/internal/checksum"
	"github.com/oshokin/libpack/internal/domain/bundle"
	"github.com/oshokin/libpack/internal/httpretry"
	"github.com/oshokin/libpack/internal/version"
)

const (
	// BundlesEndpoint is the upload path below the registry URL.
	BundlesEndpoint = "/api/v1/bundles"

	// HeaderBundleName carries the bundle name.
	HeaderBundleName = "X-Bundle-Name"
	// HeaderBundleSHA256 carries the archive digest.
	HeaderBundleSHA256 = "X-Bundle-Sha256"

	// maxErrorBody caps the response body quoted in errors.
	maxErrorBody = 4 << 10
)

var (
	// errUploadRejected is returned for responses other than 201 and 409.
	errUploadRejected = errors.New("registry rejected the upload")
	// errChecksumMismatch is returned when the registry records a different digest.
	errChecksumMismatch = errors.New("registry recorded a different checksum")
)

// uploadResponse is the JSON body returned by the registry.
type uploadResponse struct {
	// ID identifies the upload.
	ID string `json:"id"`
	// Location is where the bundle is served from.
	Location string `json:"location"`
	// SHA256 is the digest the registry computed.
	SHA256 string `json:"sha256"`
	// PublishedAt is when the bundle was first accepted.
	PublishedAt time.Time `json:"published_at"`
}

// HTTPRegistry uploads bundles with POST {url}/api/v1/bundles.
type HTTPRegistry struct {
	// endpoint is the absolute upload URL.
	endpoint string
	// token is sent as a bearer token when set.
	token string
	// client sends the requests.
	client *http.Client
	// policy controls retries.
	policy httpretry.Policy
}

// HTTPOption configures an HTTPRegistry.
type HTTPOption func(*HTTPRegistry)

// WithToken sets the bearer token.
func WithToken(token string) HTTPOption {
	return func(r *HTTPRegistry) {
		r.token = token
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(r *HTTPRegistry) {
		if client != nil {
			r.client = client
		}
	}
}

// WithPolicy sets the retry policy. Its status predicate is replaced by
// httpretry.IsRetryableUpload.
func WithPolicy(policy httpretry.Policy) HTTPOption {
	return func(r *HTTPRegistry) {
		r.policy = policy
	}
}

// NewHTTPRegistry creates a registry client for baseURL.
func NewHTTPRegistry(baseURL string, opts ...HTTPOption) (*HTTPRegistry, error) {
	endpoint, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse registry url: %w", err)
	}

	endpoint.Path = path.Join(endpoint.Path, BundlesEndpoint)

	r := &HTTPRegistry{
		endpoint: endpoint.String(),
		client:   http.DefaultClient,
		policy:   httpretry.DefaultPolicy(),
	}

	for _, opt := range opts {
		opt(r)
	}

	r.policy = r.policy.WithRetryable(httpretry.IsRetryableUpload)

	return r, nil
}

// Push uploads the archive. A 409 response means the registry already holds
// the bundle and is reported as success.
func (r *HTTPRegistry) Push(ctx context.Context, packaged *bundle.Packaged) (*bundle.Receipt, error) {
	response, err := httpretry.Do(ctx, r.client, r.policy, func(ctx context.Context) (*http.Request, error) {
		return r.newRequest(ctx, packaged)
	})
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", packaged.Bundle.Name, err)
	}

	defer response.Body.Close() //nolint:errcheck // Read-only body.

	switch response.StatusCode {
	case http.StatusCreated, http.StatusConflict:
	default:
		body, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBody))

		return nil, fmt.Errorf("%w: %s: %s", errUploadRejected, response.Status, strings.TrimSpace(string(body)))
	}

	var decoded uploadResponse
	if err = json.NewDecoder(response.Body).Decode(&decoded); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode registry response: %w", err)
	}

	return r.receipt(packaged, &decoded, response.StatusCode == http.StatusConflict)
}

// newRequest opens the archive and builds one upload attempt.
func (r *HTTPRegistry) newRequest(ctx context.Context, packaged *bundle.Packaged) (*http.Request, error) {
	archive, err := os.Open(packaged.ArchivePath)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, archive)
	if err != nil {
		_ = archive.Close()

		return nil, err
	}

	req.ContentLength = packaged.Size
	req.Header.Set("Content-Type", "application/gzip")
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set(HeaderBundleName, packaged.Bundle.Name)
	req.Header.Set(HeaderBundleSHA256, packaged.Checksum)

	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	return req, nil
}

// receipt converts a registry response, filling what the registry left out.
func (r *HTTPRegistry) receipt(packaged *bundle.Packaged, decoded *uploadResponse, existing bool) (*bundle.Receipt, error) {
	if decoded.SHA256 != "" && !checksum.Equal(decoded.SHA256, packaged.Checksum) {
		return nil, fmt.Errorf("%w: %s: expected %s, registry has %s",
			errChecksumMismatch, packaged.Bundle.Name, packaged.Checksum, decoded.SHA256)
	}

	receipt := &bundle.Receipt{
		ID:               decoded.ID,
		Bundle:           packaged.Bundle.Name,
		Location:         decoded.Location,
		Checksum:         packaged.Checksum,
		PublishedAt:      decoded.PublishedAt,
		AlreadyPublished: existing,
	}

	if receipt.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, err
		}

		receipt.ID = id.String()
	}

	if receipt.Location == "" {
		receipt.Location = r.endpoint + "/" + packaged.Bundle.Name
	}

	if receipt.PublishedAt.IsZero() {
		receipt.PublishedAt = time.Now().UTC()
	}

	return receipt, nil
}
