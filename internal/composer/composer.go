// Package composer produces the final npm-compatible registry document for
// a package, merging locally-published versions, the metadata cache, and
// the upstream client.
package composer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/clefregistry/clef/internal/apierr"
	"github.com/clefregistry/clef/internal/database"
	"github.com/clefregistry/clef/internal/hotcache"
	"github.com/clefregistry/clef/internal/metadatacache"
	"github.com/clefregistry/clef/internal/upstream"
)

// Result carries the composed document plus whether it required an
// upstream round trip, for cache-hit/miss accounting by the caller.
type Result struct {
	JSON            []byte
	UpstreamContact bool
}

// Composer wires the relational store, the two on-disk caches, the
// optional Redis accelerator, and the upstream client together.
type Composer struct {
	db       *database.Store
	meta     *metadatacache.Store
	hot      *hotcache.Store
	upstream *upstream.Client
	scheme   string
	host     string
	port     int
}

// New builds a Composer. scheme/host/port are used to rewrite tarball
// URLs so clients always fetch through this server.
func New(db *database.Store, meta *metadatacache.Store, hot *hotcache.Store, up *upstream.Client, scheme, host string, port int) *Composer {
	return &Composer{db: db, meta: meta, hot: hot, upstream: up, scheme: scheme, host: host, port: port}
}

func (c *Composer) tarballBase(packageName string) string {
	return fmt.Sprintf("%s://%s:%d/%s/-/", c.scheme, c.host, c.port, packageName)
}

// Compose implements spec §4.E: if local versions exist, build the
// document from them; otherwise consult the metadata cache, falling
// through to the upstream client on miss/stale.
func (c *Composer) Compose(ctx context.Context, packageName string) (*Result, error) {
	if c.hot.Enabled() {
		if body, ok := c.hot.Get(ctx, packageName); ok {
			return &Result{JSON: body}, nil
		}
	}

	pkg, err := c.db.GetPackageByName(packageName)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return nil, apierr.Wrap(apierr.KindDatabase, err, "loading package %q", packageName)
	}

	if pkg != nil && pkg.IsLocallyPublished() {
		body, err := c.composeLocal(packageName, pkg.ID)
		if err != nil {
			return nil, err
		}
		if err := c.meta.Put(packageName, body, "", true); err != nil {
			return nil, apierr.Wrap(apierr.KindCache, err, "caching locally-composed metadata for %q", packageName)
		}
		if c.hot.Enabled() {
			c.hot.Set(ctx, packageName, body)
		}
		return &Result{JSON: body}, nil
	}

	if entry, ok := c.meta.Get(packageName); ok {
		if c.hot.Enabled() {
			c.hot.Set(ctx, packageName, entry.JSON)
		}
		return &Result{JSON: entry.JSON}, nil
	}

	ifNoneMatch := ""
	if etag, ok := c.meta.ETag(packageName); ok {
		ifNoneMatch = etag
	}

	upstreamResult, err := c.upstream.GetMetadata(ctx, packageName, ifNoneMatch)
	if err != nil {
		return nil, err
	}

	if upstreamResult.NotModified {
		if entry := c.metaReadRaw(packageName); entry != nil {
			return &Result{JSON: entry, UpstreamContact: true}, nil
		}
		return nil, apierr.Internal("upstream returned 304 for %q with no cached body", packageName)
	}

	rewritten, err := c.rewriteTarballURLs(packageName, upstreamResult.JSON)
	if err != nil {
		return nil, err
	}
	if err := c.meta.Put(packageName, rewritten, upstreamResult.ETag, false); err != nil {
		return nil, apierr.Wrap(apierr.KindCache, err, "caching upstream metadata for %q", packageName)
	}
	if c.hot.Enabled() {
		c.hot.Set(ctx, packageName, rewritten)
	}
	return &Result{JSON: rewritten, UpstreamContact: true}, nil
}

// metaReadRaw reads straight through the cache regardless of TTL, used
// only for the 304 path where upstream itself has already vouched for
// freshness.
func (c *Composer) metaReadRaw(packageName string) []byte {
	if entry, ok := c.meta.Get(packageName); ok {
		return entry.JSON
	}
	return nil
}

type versionDoc = map[string]any

// unmarshalJSONField decodes a nullable JSON-encoded column into doc[key],
// leaving the key absent when field is nil or empty.
func unmarshalJSONField(doc versionDoc, key string, field *string) error {
	if field == nil || *field == "" {
		return nil
	}
	var value any
	if err := json.Unmarshal([]byte(*field), &value); err != nil {
		return err
	}
	doc[key] = value
	return nil
}

func (c *Composer) composeLocal(packageName string, packageID int64) ([]byte, error) {
	versions, err := c.db.GetPackageVersions(packageID)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindDatabase, err, "loading versions for %q", packageName)
	}
	if len(versions) == 0 {
		return nil, apierr.NotFound("package %q has no published versions", packageName)
	}

	versionDocs := make(map[string]versionDoc, len(versions))
	versionStrings := make([]string, 0, len(versions))
	var description *string

	for _, v := range versions {
		doc := versionDoc{"name": packageName, "version": v.Version}
		if v.Description != nil {
			doc["description"] = *v.Description
		}
		if v.MainFile != nil {
			doc["main"] = *v.MainFile
		}
		if err := unmarshalJSONField(doc, "scripts", v.Scripts); err != nil {
			return nil, apierr.Parse("parsing stored scripts for %q@%s: %v", packageName, v.Version, err)
		}
		if err := unmarshalJSONField(doc, "dependencies", v.Dependencies); err != nil {
			return nil, apierr.Parse("parsing stored dependencies for %q@%s: %v", packageName, v.Version, err)
		}
		if err := unmarshalJSONField(doc, "devDependencies", v.DevDependencies); err != nil {
			return nil, apierr.Parse("parsing stored devDependencies for %q@%s: %v", packageName, v.Version, err)
		}
		if err := unmarshalJSONField(doc, "peerDependencies", v.PeerDependencies); err != nil {
			return nil, apierr.Parse("parsing stored peerDependencies for %q@%s: %v", packageName, v.Version, err)
		}
		if err := unmarshalJSONField(doc, "engines", v.Engines); err != nil {
			return nil, apierr.Parse("parsing stored engines for %q@%s: %v", packageName, v.Version, err)
		}
		if v.Readme != nil && *v.Readme != "" {
			doc["readme"] = *v.Readme
		}

		file, err := c.db.GetPackageFileByVersionID(v.ID)
		var filename string
		if err == nil && file != nil {
			filename = file.Filename
		} else {
			filename = fmt.Sprintf("%s-%s.tgz", lastSegment(packageName), v.Version)
		}

		dist := map[string]any{"tarball": c.tarballBase(packageName) + filename}
		if v.Shasum != nil {
			dist["shasum"] = *v.Shasum
		}
		doc["dist"] = dist

		versionDocs[v.Version] = doc
		versionStrings = append(versionStrings, v.Version)

		if description == nil && v.Description != nil && *v.Description != "" {
			description = v.Description
		}
	}

	tags, err := c.db.GetPackageTags(packageName)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindDatabase, err, "loading tags for %q", packageName)
	}
	distTags := map[string]string{}
	for _, t := range tags {
		distTags[t.TagName] = t.Version
	}
	if _, ok := distTags["latest"]; !ok {
		distTags["latest"] = highestVersion(versionStrings)
	}

	desc := ""
	if description != nil {
		desc = *description
	}

	doc := map[string]any{
		"_id":       packageName,
		"_rev":      "1-0",
		"name":      packageName,
		"description": desc,
		"versions":  versionDocs,
		"dist-tags": distTags,
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return nil, apierr.Internal("marshalling composed metadata for %q: %v", packageName, err)
	}
	return body, nil
}

// highestVersion resolves the dist-tags.latest fallback using semver
// ordering, falling back to a plain lexicographic maximum only when none
// of the candidates parse as valid semver (Open Question #1).
func highestVersion(versions []string) string {
	type parsed struct {
		raw string
		sv  *semver.Version
	}
	candidates := make([]parsed, 0, len(versions))
	anyValid := false
	for _, v := range versions {
		sv, err := semver.NewVersion(v)
		if err == nil {
			anyValid = true
		}
		candidates = append(candidates, parsed{raw: v, sv: sv})
	}

	if anyValid {
		best := candidates[0]
		for _, cand := range candidates[1:] {
			switch {
			case cand.sv == nil:
				continue
			case best.sv == nil:
				best = cand
			case cand.sv.GreaterThan(best.sv):
				best = cand
			}
		}
		return best.raw
	}

	sorted := append([]string(nil), versions...)
	sort.Strings(sorted)
	return sorted[len(sorted)-1]
}

func lastSegment(packageName string) string {
	if idx := strings.LastIndexByte(packageName, '/'); idx >= 0 {
		return packageName[idx+1:]
	}
	return packageName
}

// rewriteTarballURLs rewrites every versions[v].dist.tarball entry whose
// URL contains "/<packageName>/" to point at this server, keeping the
// filename after "/<packageName>/-/" (or, failing that, the last path
// segment). The URL's host is not compared against the upstream base.
func (c *Composer) rewriteTarballURLs(packageName string, raw []byte) ([]byte, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, apierr.Parse("parsing upstream metadata for %q: %v", packageName, err)
	}

	versions, _ := doc["versions"].(map[string]any)
	for _, v := range versions {
		versionDoc, ok := v.(map[string]any)
		if !ok {
			continue
		}
		dist, ok := versionDoc["dist"].(map[string]any)
		if !ok {
			continue
		}
		tarball, ok := dist["tarball"].(string)
		if !ok {
			continue
		}
		if idx := strings.Index(tarball, "/"+packageName+"/"); idx >= 0 {
			dist["tarball"] = c.tarballBase(packageName) + pathAfterPackage(tarball, packageName)
		}
	}

	return json.Marshal(doc)
}

func pathAfterPackage(tarball, packageName string) string {
	marker := "/" + packageName + "/-/"
	if idx := strings.Index(tarball, marker); idx >= 0 {
		return tarball[idx+len(marker):]
	}
	if idx := strings.LastIndexByte(tarball, '/'); idx >= 0 {
		return tarball[idx+1:]
	}
	return tarball
}
