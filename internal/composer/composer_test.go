package composer

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/clefregistry/clef/internal/database"
	"github.com/clefregistry/clef/internal/hotcache"
	"github.com/clefregistry/clef/internal/metadatacache"
	"github.com/clefregistry/clef/internal/upstream"
)

func testComposer(t *testing.T, upstreamURL string) (*Composer, *database.Store) {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	db, err := database.Open(":memory:", log)
	if err != nil {
		t.Fatalf("database.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	store := database.New(db)

	meta := metadatacache.New(t.TempDir(), time.Hour, store)
	hot, err := hotcache.New("", 0)
	if err != nil {
		t.Fatalf("hotcache.New: %v", err)
	}
	up := upstream.New(upstreamURL, time.Second, 0)

	return New(store, meta, hot, up, "http", "localhost", 4873), store
}

func TestComposeLocalVersionsRewritesTarball(t *testing.T) {
	c, store := testComposer(t, "http://unused.invalid")

	user, err := store.CreateUser("alice", "alice@example.com", "hash")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	pkg, err := store.CreateOrGetPackage("left-pad", nil, &user.ID, false)
	if err != nil {
		t.Fatalf("CreateOrGetPackage: %v", err)
	}
	if _, err := store.CreateOrGetPackageVersionWithMetadata(pkg.ID, "1.0.0", database.VersionMetadata{}, false); err != nil {
		t.Fatalf("create version: %v", err)
	}
	if err := store.UpsertPackageTag("left-pad", "latest", "1.0.0"); err != nil {
		t.Fatalf("UpsertPackageTag: %v", err)
	}

	result, err := c.Compose(context.Background(), "left-pad")
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if result.UpstreamContact {
		t.Fatal("locally-published packages must never contact upstream")
	}

	var doc map[string]any
	if err := json.Unmarshal(result.JSON, &doc); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	versions := doc["versions"].(map[string]any)
	v1 := versions["1.0.0"].(map[string]any)
	dist := v1["dist"].(map[string]any)
	tarball := dist["tarball"].(string)
	if tarball != "http://localhost:4873/left-pad/-/left-pad-1.0.0.tgz" {
		t.Fatalf("unexpected tarball url: %q", tarball)
	}
}

func TestComposeFallsThroughToUpstreamOnMiss(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", "\"v1\"")
		w.Write([]byte(`{"name":"lodash","versions":{"4.0.0":{"dist":{"tarball":"https://registry.npmjs.org/lodash/-/lodash-4.0.0.tgz"}}}}`))
	}))
	defer srv.Close()

	c, _ := testComposer(t, srv.URL)

	result, err := c.Compose(context.Background(), "lodash")
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if !result.UpstreamContact {
		t.Fatal("expected upstream contact on first fetch")
	}

	var doc map[string]any
	if err := json.Unmarshal(result.JSON, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	versions := doc["versions"].(map[string]any)
	v := versions["4.0.0"].(map[string]any)
	dist := v["dist"].(map[string]any)
	if dist["tarball"] != "http://localhost:4873/lodash/-/lodash-4.0.0.tgz" {
		t.Fatalf("tarball not rewritten: %v", dist["tarball"])
	}

	// Second call should be served from the metadata cache, not upstream.
	result2, err := c.Compose(context.Background(), "lodash")
	if err != nil {
		t.Fatalf("second Compose: %v", err)
	}
	if result2.UpstreamContact {
		t.Fatal("expected second call to be served from the metadata cache")
	}
}

func TestHighestVersionPrefersSemver(t *testing.T) {
	got := highestVersion([]string{"1.2.0", "1.10.0", "1.9.0"})
	if got != "1.10.0" {
		t.Fatalf("highestVersion = %q, want 1.10.0 (semver, not lexicographic)", got)
	}
}

func TestHighestVersionLexicographicFallback(t *testing.T) {
	got := highestVersion([]string{"not-semver-b", "not-semver-a"})
	if got != "not-semver-b" {
		t.Fatalf("highestVersion = %q, want lexicographic max", got)
	}
}
