package api

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/clefregistry/clef/internal/auth"
	"github.com/clefregistry/clef/internal/composer"
	"github.com/clefregistry/clef/internal/config"
	"github.com/clefregistry/clef/internal/database"
	"github.com/clefregistry/clef/internal/hotcache"
	"github.com/clefregistry/clef/internal/metadatacache"
	"github.com/clefregistry/clef/internal/tarballcache"
	"github.com/clefregistry/clef/internal/upstream"
)

func testAppContext(t *testing.T, upstreamURL string) *AppContext {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	sqlDB, err := database.Open(":memory:", log)
	if err != nil {
		t.Fatalf("database.Open: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })
	store := database.New(sqlDB)

	cacheDir := t.TempDir()
	tarballs := tarballcache.New(cacheDir)
	meta := metadatacache.New(cacheDir, time.Hour, store)
	hot, err := hotcache.New("", 0)
	if err != nil {
		t.Fatalf("hotcache.New: %v", err)
	}
	up := upstream.New(upstreamURL, 5*time.Second, 0)
	comp := composer.New(store, meta, hot, up, "http", "127.0.0.1", 8000)

	cfg := &config.Config{
		UpstreamRegistry: upstreamURL,
		Host:             "127.0.0.1",
		Port:             8000,
		Scheme:           "http",
		CacheDir:         cacheDir,
	}

	return &AppContext{
		Config:   cfg,
		Log:      log,
		DB:       store,
		Tarballs: tarballs,
		Metadata: meta,
		Hot:      hot,
		Upstream: up,
		Composer: comp,
		Auth:     auth.New(store),
	}
}

func withVars(r *http.Request, vars map[string]string) *http.Request {
	return mux.SetURLVars(r, vars)
}

func registerAndLogin(t *testing.T, h *npmHandlers, username string) string {
	t.Helper()
	body, _ := json.Marshal(NPMUserDocument{
		ID:       "org.couchdb.user:" + username,
		Name:     username,
		Password: "hunter22",
		Type:     "user",
	})
	req := httptest.NewRequest(http.MethodPut, "/-/user/org.couchdb.user:"+username, bytes.NewReader(body))
	req = withVars(req, map[string]string{"userID": "org.couchdb.user:" + username})
	rec := httptest.NewRecorder()
	h.handleLogin(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("handleLogin status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp NPMUserResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding login response: %v", err)
	}
	return resp.Token
}

func TestHandleLoginRegistersNewUser(t *testing.T) {
	app := testAppContext(t, "")
	h := &npmHandlers{app: app}

	token := registerAndLogin(t, h, "alice")
	if token == "" {
		t.Fatal("expected non-empty token")
	}
}

func TestHandleLoginRejectsMismatchedName(t *testing.T) {
	app := testAppContext(t, "")
	h := &npmHandlers{app: app}

	body, _ := json.Marshal(NPMUserDocument{ID: "org.couchdb.user:bob", Name: "someoneelse", Password: "x", Type: "user"})
	req := httptest.NewRequest(http.MethodPut, "/-/user/org.couchdb.user:bob", bytes.NewReader(body))
	req = withVars(req, map[string]string{"userID": "org.couchdb.user:bob"})
	rec := httptest.NewRecorder()
	h.handleLogin(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleWhoami(t *testing.T) {
	app := testAppContext(t, "")
	h := &npmHandlers{app: app}
	token := registerAndLogin(t, h, "carol")

	req := httptest.NewRequest(http.MethodGet, "/-/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.handleWhoami(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["username"] != "carol" {
		t.Fatalf("username = %q", body["username"])
	}
}

func TestHandleWhoamiRejectsMissingAuth(t *testing.T) {
	app := testAppContext(t, "")
	h := &npmHandlers{app: app}

	req := httptest.NewRequest(http.MethodGet, "/-/whoami", nil)
	rec := httptest.NewRecorder()
	h.handleWhoami(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleLogout(t *testing.T) {
	app := testAppContext(t, "")
	h := &npmHandlers{app: app}
	token := registerAndLogin(t, h, "dave")

	req := httptest.NewRequest(http.MethodDelete, "/-/user/token/"+token, nil)
	req = withVars(req, map[string]string{"token": token})
	rec := httptest.NewRecorder()
	h.handleLogout(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	whoamiReq := httptest.NewRequest(http.MethodGet, "/-/whoami", nil)
	whoamiReq.Header.Set("Authorization", "Bearer "+token)
	whoamiRec := httptest.NewRecorder()
	h.handleWhoami(whoamiRec, whoamiReq)
	if whoamiRec.Code != http.StatusUnauthorized {
		t.Fatalf("expected revoked token to be unauthorized, got %d", whoamiRec.Code)
	}
}

func TestHandlePublishRequiresAuth(t *testing.T) {
	app := testAppContext(t, "")
	h := &npmHandlers{app: app}

	req := httptest.NewRequest(http.MethodPut, "/left-pad", bytes.NewReader([]byte(`{}`)))
	req = withVars(req, map[string]string{"package": "left-pad"})
	rec := httptest.NewRecorder()
	h.handlePublish(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandlePublishFullFlow(t *testing.T) {
	app := testAppContext(t, "")
	h := &npmHandlers{app: app}
	token := registerAndLogin(t, h, "publisher")

	tarballData := []byte("fake tarball bytes")
	publishReq := NPMPublishRequest{
		ID:   "left-pad",
		Name: "left-pad",
		Versions: map[string]json.RawMessage{
			"1.0.0": json.RawMessage(`{"description":"pad a string","main":"index.js"}`),
		},
		Attachments: map[string]NPMAttachment{
			"left-pad-1.0.0.tgz": {
				ContentType: "application/octet-stream",
				Data:        base64.StdEncoding.EncodeToString(tarballData),
				Length:      int64(len(tarballData)),
			},
		},
	}
	body, err := json.Marshal(publishReq)
	if err != nil {
		t.Fatalf("marshal publish request: %v", err)
	}

	req := httptest.NewRequest(http.MethodPut, "/left-pad", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	req = withVars(req, map[string]string{"package": "left-pad"})
	rec := httptest.NewRecorder()
	h.handlePublish(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("handlePublish status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp NPMPublishResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding publish response: %v", err)
	}
	if !resp.OK || resp.ID != "left-pad" {
		t.Fatalf("unexpected publish response: %+v", resp)
	}

	pkg, err := app.DB.GetPackageByName("left-pad")
	if err != nil {
		t.Fatalf("GetPackageByName: %v", err)
	}
	if pkg.Name != "left-pad" {
		t.Fatalf("expected package to be persisted, got %+v", pkg)
	}

	if !app.Tarballs.Exists("left-pad", "left-pad-1.0.0.tgz") {
		t.Fatal("expected tarball to be cached on disk")
	}
}

func TestHandlePublishScopedPackageLinksOrganization(t *testing.T) {
	app := testAppContext(t, "")
	h := &npmHandlers{app: app}
	token := registerAndLogin(t, h, "scopedpublisher")

	tarballData := []byte("fake tarball bytes")
	publishReq := NPMPublishRequest{
		ID:   "@acme/widgets",
		Name: "@acme/widgets",
		Versions: map[string]json.RawMessage{
			"2.0.0": json.RawMessage(`{"description":"widgets"}`),
		},
		Attachments: map[string]NPMAttachment{
			"widgets-2.0.0.tgz": {
				ContentType: "application/octet-stream",
				Data:        base64.StdEncoding.EncodeToString(tarballData),
			},
		},
	}
	body, _ := json.Marshal(publishReq)

	req := httptest.NewRequest(http.MethodPut, "/@acme/widgets", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	req = withVars(req, map[string]string{"package": "@acme/widgets"})
	rec := httptest.NewRecorder()
	h.handlePublish(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("handlePublish status = %d, body = %s", rec.Code, rec.Body.String())
	}

	org, err := app.DB.GetOrganizationByName("acme")
	if err != nil {
		t.Fatalf("expected organization 'acme' to be created: %v", err)
	}
	if org.Name != "acme" {
		t.Fatalf("unexpected organization: %+v", org)
	}
}

func TestHandleMetadataGetPrivatePackageNotFoundForAnonymous(t *testing.T) {
	app := testAppContext(t, "")
	h := &npmHandlers{app: app}
	token := registerAndLogin(t, h, "owner")

	tarballData := []byte("data")
	publishReq := NPMPublishRequest{
		ID:      "secret-pkg",
		Name:    "secret-pkg",
		Private: boolPtr(true),
		Versions: map[string]json.RawMessage{
			"1.0.0": json.RawMessage(`{}`),
		},
		Attachments: map[string]NPMAttachment{
			"secret-pkg-1.0.0.tgz": {Data: base64.StdEncoding.EncodeToString(tarballData)},
		},
	}
	body, _ := json.Marshal(publishReq)
	pubReq := httptest.NewRequest(http.MethodPut, "/secret-pkg", bytes.NewReader(body))
	pubReq.Header.Set("Authorization", "Bearer "+token)
	pubReq = withVars(pubReq, map[string]string{"package": "secret-pkg"})
	pubRec := httptest.NewRecorder()
	h.handlePublish(pubRec, pubReq)
	if pubRec.Code != http.StatusOK {
		t.Fatalf("publish failed: %d %s", pubRec.Code, pubRec.Body.String())
	}

	getReq := httptest.NewRequest(http.MethodGet, "/secret-pkg", nil)
	getReq = withVars(getReq, map[string]string{"package": "secret-pkg"})
	getRec := httptest.NewRecorder()
	h.handleMetadataGet(getRec, getReq)
	if getRec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for anonymous read of private package, got %d", getRec.Code)
	}
}

func TestHandleTarballGetMirrorsFromUpstream(t *testing.T) {
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/lodash/-/lodash-4.17.21.tgz" {
			t.Fatalf("unexpected upstream path %q", r.URL.Path)
		}
		w.Header().Set("ETag", `"abc"`)
		w.Write([]byte("tarball-bytes"))
	}))
	defer upstreamSrv.Close()

	app := testAppContext(t, upstreamSrv.URL)
	h := &npmHandlers{app: app}

	req := httptest.NewRequest(http.MethodGet, "/lodash/-/lodash-4.17.21.tgz", nil)
	req = withVars(req, map[string]string{"package": "lodash", "filename": "lodash-4.17.21.tgz"})
	rec := httptest.NewRecorder()
	h.handleTarballGet(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != "tarball-bytes" {
		t.Fatalf("unexpected body: %q", rec.Body.String())
	}

	pkg, err := app.DB.GetPackageByName("lodash")
	if err != nil {
		t.Fatalf("expected mirrored package row: %v", err)
	}
	if pkg.AuthorID != nil {
		t.Fatalf("expected mirrored-only package to have nil author, got %v", pkg.AuthorID)
	}

	// second request should be served from the on-disk cache, not upstream.
	req2 := httptest.NewRequest(http.MethodGet, "/lodash/-/lodash-4.17.21.tgz", nil)
	req2 = withVars(req2, map[string]string{"package": "lodash", "filename": "lodash-4.17.21.tgz"})
	rec2 := httptest.NewRecorder()
	h.handleTarballGet(rec2, req2)
	if rec2.Code != http.StatusOK || rec2.Body.String() != "tarball-bytes" {
		t.Fatalf("cached tarball response mismatch: %d %q", rec2.Code, rec2.Body.String())
	}
}

func TestHandleSecurityProxy(t *testing.T) {
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/-/npm/v1/security/audits/quick" {
			t.Fatalf("unexpected path %q", r.URL.Path)
		}
		w.Write([]byte(`{"actions":[]}`))
	}))
	defer upstreamSrv.Close()

	app := testAppContext(t, upstreamSrv.URL)
	h := &npmHandlers{app: app}

	req := httptest.NewRequest(http.MethodPost, "/-/npm/v1/security/audits/quick", bytes.NewReader([]byte(`{}`)))
	req = withVars(req, map[string]string{"kind": "audits/quick"})
	rec := httptest.NewRecorder()
	h.handleSecurityProxy(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != `{"actions":[]}` {
		t.Fatalf("unexpected body: %q", rec.Body.String())
	}
}

func boolPtr(b bool) *bool { return &b }
