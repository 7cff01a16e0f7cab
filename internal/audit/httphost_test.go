// SPDX-License-Identifier: MPL-2.0

package audit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type served struct {
	contentType string
	body        string
}

func serveApp(t *testing.T, files map[string]served) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if path == "/" {
			path = "/index.html"
		}
		f, ok := files[path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", f.contentType)
		_, _ = w.Write([]byte(f.body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPHostAudit(t *testing.T) {
	t.Parallel()

	srv := serveApp(t, map[string]served{
		"/index.html":    {"text/html; charset=utf-8", `<script type="module" src="./assets/app.js"></script>`},
		"/assets/app.js": {"text/javascript", "import { greet, grete } from './lib.js';\nimport 'https://cdn.example.com/x.js';\ngreet(grete);\n"},
		"/assets/lib.js": {"text/javascript; charset=utf-8", "export function greet() {}\n"},
	})
	host, err := NewHTTPHost(srv.URL, HTTPHostOptions{})
	require.NoError(t, err)

	res, err := Run(context.Background(), Options{Host: host, Entrypoints: []string{host.Entrypoint()}})
	require.NoError(t, err)

	require.Len(t, res.Modules, 3)
	assert.Contains(t, res.Modules, "./index.html")
	assert.Contains(t, res.Modules, "./assets/app.js")
	assert.Contains(t, res.Modules, "./assets/lib.js")
	assert.Equal(t, ExternalMarker, res.Modules["./assets/app.js"].Resolutions["https://cdn.example.com/x.js"])

	require.Len(t, res.Findings, 1)
	assert.Equal(t, "./assets/app.js", res.Findings[0].Filename)
	assert.Equal(t, `./assets/lib.js has no export named "grete". Did you mean "greet"?`, res.Findings[0].Detail)
}

func TestHTTPHostLoadFailuresAbort(t *testing.T) {
	t.Parallel()

	srv := serveApp(t, map[string]served{
		"/app.js":    {"text/javascript", "import './missing.js';\n"},
		"/style.css": {"text/css", "body {}"},
	})

	tests := []struct {
		name  string
		entry string
		want  error
	}{
		{"non-200 response", srv.URL + "/app.js", ErrUnexpectedStatus},
		{"unsupported content type", srv.URL + "/style.css", ErrUnsupportedContentType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			host, err := NewHTTPHost(srv.URL, HTTPHostOptions{})
			require.NoError(t, err)
			_, err = Run(context.Background(), Options{Host: host, Entrypoints: []string{tt.entry}})
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestHTTPHostRelativePath(t *testing.T) {
	t.Parallel()

	host, err := NewHTTPHost("http://localhost:4200/app", HTTPHostOptions{})
	require.NoError(t, err)

	tests := []struct {
		id   string
		want string
	}{
		{"http://localhost:4200/app/", "./index.html"},
		{"http://localhost:4200/app/assets/vendor.js", "./assets/vendor.js"},
		{"http://localhost:4200/shared/x.js", "../shared/x.js"},
		{"http://other.example.com/x.js", "http://other.example.com/x.js"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, host.RelativePath(tt.id), tt.id)
	}

	_, err = NewHTTPHost("file:///tmp/app", HTTPHostOptions{})
	require.Error(t, err)
}
