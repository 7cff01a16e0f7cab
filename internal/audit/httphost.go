// SPDX-License-Identifier: MPL-2.0

package audit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/hashicorp/go-retryablehttp"
)

var (
	// ErrUnexpectedStatus is returned when a module request does not answer 200.
	ErrUnexpectedStatus = errors.New("unexpected HTTP status")
	// ErrUnsupportedContentType is returned for responses that are neither
	// text/javascript nor text/html.
	ErrUnsupportedContentType = errors.New("unsupported content type")
)

type (
	// HTTPHostOptions configures an HTTPHost.
	HTTPHostOptions struct {
		// RetryMax bounds retries of failed requests.
		RetryMax int
		// HTTPClient overrides the underlying client.
		HTTPClient *http.Client
		Logger     *log.Logger
	}

	// HTTPHost audits a running app over HTTP. Module IDs are absolute URLs
	// and every specifier is resolved as a URL relative to its importer.
	HTTPHost struct {
		base   *url.URL
		client *retryablehttp.Client
	}

	// leveledLogger adapts a charm logger to retryablehttp.LeveledLogger.
	leveledLogger struct {
		l *log.Logger
	}
)

func (a leveledLogger) Error(msg string, kv ...any) { a.l.Error(msg, kv...) }
func (a leveledLogger) Info(msg string, kv ...any)  { a.l.Debug(msg, kv...) }
func (a leveledLogger) Debug(msg string, kv ...any) { a.l.Debug(msg, kv...) }
func (a leveledLogger) Warn(msg string, kv ...any)  { a.l.Warn(msg, kv...) }

// NewHTTPHost creates a host for the app served at base.
func NewHTTPHost(base string, opts HTTPHostOptions) (*HTTPHost, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid app URL %q: %w", base, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid app URL %q: scheme must be http or https", base)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}

	client := retryablehttp.NewClient()
	client.RetryMax = opts.RetryMax
	if opts.HTTPClient != nil {
		client.HTTPClient = opts.HTTPClient
	}
	if opts.Logger != nil {
		client.Logger = leveledLogger{l: opts.Logger}
	} else {
		client.Logger = nil
	}
	return &HTTPHost{base: u, client: client}, nil
}

// Entrypoint returns the URL of the app's index page.
func (h *HTTPHost) Entrypoint() string { return h.base.String() }

// Resolve implements Host.
func (h *HTTPHost) Resolve(_ context.Context, specifier, fromID string) (Target, error) {
	from, err := url.Parse(fromID)
	if err != nil {
		return Target{}, fmt.Errorf("invalid module URL %q: %w", fromID, err)
	}
	ref, err := url.Parse(specifier)
	if err != nil {
		return Target{Kind: TargetMissing}, nil
	}
	target := from.ResolveReference(ref)
	if target.Scheme != h.base.Scheme || target.Host != h.base.Host {
		return Target{Kind: TargetExternal}, nil
	}
	return Target{Kind: TargetModule, ID: target.String()}, nil
}

// Load implements Host. Any response other than a 200 with a JavaScript or
// HTML body aborts the audit.
func (h *HTTPHost) Load(ctx context.Context, id string) (*Content, []Finding, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, id, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build request for %s: %w", id, err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch %s: %w", id, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("%w: %s returned %d", ErrUnexpectedStatus, id, resp.StatusCode)
	}
	mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		mediaType = ""
	}
	var kind ContentType
	switch mediaType {
	case "text/javascript":
		kind = ContentJavaScript
	case "text/html":
		kind = ContentHTML
	default:
		return nil, nil, fmt.Errorf("%w %q from %s", ErrUnsupportedContentType, mediaType, id)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read %s: %w", id, err)
	}
	return &Content{Type: kind, Source: body}, nil, nil
}

// RelativePath implements Host. URLs outside the app are returned as-is.
func (h *HTTPHost) RelativePath(id string) string {
	u, err := url.Parse(id)
	if err != nil || u.Scheme != h.base.Scheme || u.Host != h.base.Host {
		return id
	}
	p := u.Path
	if strings.HasSuffix(p, "/") {
		p += "index.html"
	}
	if strings.HasPrefix(p, h.base.Path) {
		return explicitRelative(strings.TrimPrefix(p, h.base.Path))
	}
	return explicitRelative(relativeURLPath(h.base.Path, p))
}

// relativeURLPath returns target relative to the directory baseDir.
func relativeURLPath(baseDir, target string) string {
	base := splitPath(baseDir)
	parts := splitPath(target)
	i := 0
	for i < len(base) && i < len(parts) && base[i] == parts[i] {
		i++
	}
	return strings.Repeat("../", len(base)-i) + strings.Join(parts[i:], "/")
}

func splitPath(p string) []string {
	p = strings.Trim(path.Clean(p), "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}
