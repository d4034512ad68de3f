package index

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/k8ika0s/s390x-wheel-refinery/internal/config"
)

func indexServer(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		switch r.URL.Path {
		case "/pypi/numpy/json":
			w.Write([]byte(`{"releases": {"1.26.3": [], "1.26.4": [], "not-a-version": []}}`))
		case "/pypi/flit-core/json":
			w.Write([]byte(`{"releases": {}, "info": {"version": "3.9.0"}}`))
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestVersions(t *testing.T) {
	var hits int32
	srv := indexServer(t, &hits)
	defer srv.Close()

	c := New(config.IndexSettings{IndexURL: srv.URL + "/simple"})
	ctx := context.Background()

	versions := c.Versions(ctx, "NumPy")
	if len(versions) != 2 {
		t.Fatalf("versions = %v", versions)
	}
	latest, err := c.Latest(ctx, "numpy")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest.String() != "1.26.4" {
		t.Fatalf("latest = %s", latest)
	}
}

func TestVersionsMemoized(t *testing.T) {
	var hits int32
	srv := indexServer(t, &hits)
	defer srv.Close()

	c := New(config.IndexSettings{IndexURL: srv.URL})
	ctx := context.Background()
	c.Versions(ctx, "numpy")
	c.Versions(ctx, "numpy")
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Fatalf("index hit %d times, want memoized single fetch", n)
	}

	if vs := c.Versions(ctx, "absent"); vs != nil {
		t.Fatalf("absent project = %v", vs)
	}
	c.Versions(ctx, "absent")
	if n := atomic.LoadInt32(&hits); n != 2 {
		t.Fatalf("failed lookups should memoize too, hits = %d", n)
	}
}

func TestVersionsInfoFallback(t *testing.T) {
	var hits int32
	srv := indexServer(t, &hits)
	defer srv.Close()

	c := New(config.IndexSettings{IndexURL: srv.URL})
	latest, err := c.Latest(context.Background(), "flit_core")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest.String() != "3.9.0" {
		t.Fatalf("latest = %s", latest)
	}
}

func TestLatestWithoutVersions(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	c := New(config.IndexSettings{IndexURL: srv.URL})
	if _, err := c.Latest(context.Background(), "ghost"); err == nil {
		t.Fatalf("expected error when no versions exist")
	}
}
