package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
)

// DefaultBaseURL is the public npm registry.
const DefaultBaseURL = "https://registry.npmjs.org"

// acceptHeader negotiates the abbreviated, install-oriented metadata
// document first (far smaller than the full document with readmes and
// historical versions), falling back to plain JSON.
const acceptHeader = "application/vnd.npm.install-v1+json; q=1.0, application/json; q=0.8, */*"

// ErrKind classifies a Client error so callers can branch without string
// matching. Transport and Parse are the two kinds the registry client
// itself produces; VersionUnresolvable is produced by the selector package
// but shares this type for uniform handling in the resolver.
type ErrKind int

const (
	// KindTransport covers network failures reaching the registry.
	KindTransport ErrKind = iota
	// KindParse covers malformed JSON in a registry response.
	KindParse
	// KindVersionUnresolvable covers a range or tag that matched nothing.
	KindVersionUnresolvable
)

// Error wraps an underlying cause with a Kind so the orchestrator can log
// differently (or errors.As) without parsing message text.
type Error struct {
	Kind    ErrKind
	Package string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Package, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Client fetches metadata and tarballs from one registry, reusing a single
// retrying HTTP session (connection pool, keep-alive, bounded exponential
// backoff on transient transport failures) across every call.
type Client struct {
	baseURL string
	http    *http.Client
}

// New returns a Client pointed at baseURL, or DefaultBaseURL when empty.
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{
		Transport: cleanhttp.DefaultPooledTransport(),
		Timeout:   2 * time.Minute,
	}
	rc.RetryMax = 3
	rc.Logger = nil // retry attempts are not logged

	return &Client{
		baseURL: baseURL,
		http:    rc.StandardClient(),
	}
}

// FetchMetadata fetches and parses a package's registry metadata document.
func (c *Client) FetchMetadata(ctx context.Context, name string) (Metadata, error) {
	url := fmt.Sprintf("%s/%s", c.baseURL, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Metadata{}, &Error{Kind: KindTransport, Package: name, Err: err}
	}
	req.Header.Set("Accept", acceptHeader)

	resp, err := c.http.Do(req)
	if err != nil {
		return Metadata{}, &Error{Kind: KindTransport, Package: name, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Metadata{}, &Error{Kind: KindTransport, Package: name, Err: fmt.Errorf("registry returned %s", resp.Status)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Metadata{}, &Error{Kind: KindTransport, Package: name, Err: err}
	}

	var meta Metadata
	if err := json.Unmarshal(body, &meta); err != nil {
		return Metadata{}, &Error{Kind: KindParse, Package: name, Err: err}
	}
	return meta, nil
}

// FetchTarball issues a GET against url and returns a streaming reader of
// the response body. The caller owns the returned ReadCloser and must close
// it; the body is never buffered into memory here, so multi-megabyte
// archives do not inflate process RSS during download.
func (c *Client) FetchTarball(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Package: url, Err: err}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Package: url, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &Error{Kind: KindTransport, Package: url, Err: fmt.Errorf("tarball fetch returned %s", resp.Status)}
	}
	return resp.Body, nil
}

