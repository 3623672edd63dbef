package upstream

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/clefregistry/clef/internal/apierr"
)

func TestGetMetadataSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/lodash" {
			t.Fatalf("unexpected path %q", r.URL.Path)
		}
		w.Header().Set("ETag", "\"abc\"")
		w.Write([]byte(`{"name":"lodash"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, 0)
	result, err := c.GetMetadata(context.Background(), "lodash", "")
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	if result.NotModified {
		t.Fatal("did not expect NotModified")
	}
	if string(result.JSON) != `{"name":"lodash"}` || result.ETag != "\"abc\"" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestGetMetadataNotModified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") != "\"abc\"" {
			t.Fatalf("expected If-None-Match header, got %q", r.Header.Get("If-None-Match"))
		}
		w.WriteHeader(http.StatusNotModified)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, 0)
	result, err := c.GetMetadata(context.Background(), "lodash", "\"abc\"")
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	if !result.NotModified {
		t.Fatal("expected NotModified")
	}
}

func TestGetMetadataNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, 0)
	_, err := c.GetMetadata(context.Background(), "missing", "")
	apiErr, ok := apierr.As(err)
	if !ok || apiErr.Kind != apierr.KindNotFound {
		t.Fatalf("expected KindNotFound, got %v", err)
	}
}

func TestGetMetadataUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, 0)
	_, err := c.GetMetadata(context.Background(), "lodash", "")
	apiErr, ok := apierr.As(err)
	if !ok || apiErr.Kind != apierr.KindUpstream {
		t.Fatalf("expected KindUpstream, got %v", err)
	}
}

func TestGetTarball(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/lodash/-/lodash-4.17.21.tgz" {
			t.Fatalf("unexpected path %q", r.URL.Path)
		}
		w.Header().Set("ETag", "\"xyz\"")
		w.Write([]byte("binarydata"))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, 0)
	result, err := c.GetTarball(context.Background(), "lodash", "lodash-4.17.21.tgz")
	if err != nil {
		t.Fatalf("GetTarball: %v", err)
	}
	if string(result.Bytes) != "binarydata" || result.ETag != "\"xyz\"" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestProxyJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/-/npm/v1/security/audits/quick" {
			t.Fatalf("unexpected path %q", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"foo":"bar"}` {
			t.Fatalf("unexpected body %q", body)
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"advisories":{}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, 0)
	body, status, err := c.ProxyJSON(context.Background(), "-/npm/v1/security/audits/quick", []byte(`{"foo":"bar"}`))
	if err != nil {
		t.Fatalf("ProxyJSON: %v", err)
	}
	if status != http.StatusCreated {
		t.Fatalf("status = %d", status)
	}
	if string(body) != `{"advisories":{}}` {
		t.Fatalf("body = %q", body)
	}
}

func TestHeadTarball(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Fatalf("expected HEAD, got %s", r.Method)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, 0)
	if err := c.HeadTarball(context.Background(), "lodash", "lodash-4.17.21.tgz"); err != nil {
		t.Fatalf("HeadTarball: %v", err)
	}
}
