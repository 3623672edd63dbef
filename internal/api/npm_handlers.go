package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/clefregistry/clef/internal/apierr"
	"github.com/clefregistry/clef/internal/database"
	"github.com/clefregistry/clef/internal/models"
	"github.com/clefregistry/clef/internal/tarballcache"
)

type npmHandlers struct {
	app *AppContext
}

// NPMUserDocument is the CouchDB-style user document npm sends to the
// login/register endpoint.
type NPMUserDocument struct {
	ID       string  `json:"_id"`
	Name     string  `json:"name"`
	Password string  `json:"password"`
	Email    *string `json:"email"`
	Type     string  `json:"type"`
}

// NPMUserResponse is the login/register response npm expects.
type NPMUserResponse struct {
	OK    bool   `json:"ok"`
	ID    string `json:"id"`
	Rev   string `json:"rev"`
	Token string `json:"token"`
}

// NPMPublishRequest is the CouchDB-style publish document npm sends for
// `npm publish`.
type NPMPublishRequest struct {
	ID          string                     `json:"_id"`
	Name        string                     `json:"name"`
	Description *string                    `json:"description"`
	Private     *bool                      `json:"private"`
	Versions    map[string]json.RawMessage `json:"versions"`
	Attachments map[string]NPMAttachment   `json:"_attachments"`
}

// NPMAttachment is one base64-encoded tarball attachment.
type NPMAttachment struct {
	ContentType string `json:"content_type"`
	Data        string `json:"data"`
	Length      int64  `json:"length"`
}

// NPMPublishResponse is the response npm expects from a successful publish.
type NPMPublishResponse struct {
	OK  bool   `json:"ok"`
	ID  string `json:"id"`
	Rev string `json:"rev"`
}

// npmVersionFields is the subset of an arbitrary package.json this server
// extracts into normalized version columns; every other field in the
// publisher's document is discarded (spec.md §3's version storage is
// field-by-field, not a stored blob).
type npmVersionFields struct {
	Description      *string         `json:"description"`
	Main              *string         `json:"main"`
	Scripts           json.RawMessage `json:"scripts"`
	Dependencies      json.RawMessage `json:"dependencies"`
	DevDependencies   json.RawMessage `json:"devDependencies"`
	PeerDependencies  json.RawMessage `json:"peerDependencies"`
	Engines           json.RawMessage `json:"engines"`
	Readme            *string         `json:"readme"`
	Dist              struct {
		Shasum *string `json:"shasum"`
	} `json:"dist"`
}

func rawMessageToString(raw json.RawMessage) *string {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	s := string(raw)
	return &s
}

func writeJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

// resolvePrincipal extracts a principal from the request's Authorization
// header if present. A missing header yields (nil, nil) — the caller
// decides whether that is acceptable. An invalid token on an otherwise
// anonymous-allowed GET is also treated as anonymous, since npm clients
// routinely send a stale saved token even for public reads.
func (h *npmHandlers) resolvePrincipal(r *http.Request, strict bool) (*models.Principal, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, nil
	}
	principal, err := h.app.Auth.PrincipalFromHeader(header)
	if err != nil {
		if strict {
			return nil, err
		}
		return nil, nil
	}
	return principal, nil
}

// checkReadAccess implements the privacy gate for every GET-family
// endpoint: a private package is 404, never 403, to an unauthorized
// caller.
func (h *npmHandlers) checkReadAccess(packageName string, principal *models.Principal) error {
	pkg, err := h.app.DB.GetPackageByName(packageName)
	if errors.Is(err, database.ErrNotFound) {
		return nil
	}
	if err != nil {
		return apierr.Wrap(apierr.KindDatabase, err, "loading package %q", packageName)
	}
	ok, err := h.app.Auth.CanReadPackage(pkg, principal)
	if err != nil {
		return err
	}
	if !ok {
		return apierr.NotFound("package %q not found", packageName)
	}
	return nil
}

func (h *npmHandlers) handleMetadataGet(w http.ResponseWriter, r *http.Request) {
	packageName := mux.Vars(r)["package"]

	principal, err := h.resolvePrincipal(r, false)
	if err != nil {
		writeError(w, h.app.Log, err)
		return
	}
	if err := h.checkReadAccess(packageName, principal); err != nil {
		writeError(w, h.app.Log, err)
		return
	}

	result, err := h.app.Composer.Compose(r.Context(), packageName)
	if err != nil {
		writeError(w, h.app.Log, err)
		return
	}

	if result.UpstreamContact {
		h.app.DB.IncrementCacheMiss()
	} else {
		h.app.DB.IncrementCacheHit()
	}

	writeJSON(w, http.StatusOK, result.JSON)
}

func (h *npmHandlers) handleVersionGet(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	packageName, version := vars["package"], vars["version"]

	principal, err := h.resolvePrincipal(r, false)
	if err != nil {
		writeError(w, h.app.Log, err)
		return
	}
	if err := h.checkReadAccess(packageName, principal); err != nil {
		writeError(w, h.app.Log, err)
		return
	}

	body, err := h.app.Upstream.GetVersionMetadata(r.Context(), packageName, version)
	if err != nil {
		writeError(w, h.app.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

// ensureMirroredVersion records the unknown -> mirrored-only transition
// for a bare upstream tarball fetch: a package/version row with no
// author, so PackageFile.access_count has something to attach to.
func (h *npmHandlers) ensureMirroredVersion(packageName, filename string) (*models.PackageVersion, error) {
	pkg, err := h.app.DB.CreateOrGetPackage(packageName, nil, nil, false)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindDatabase, err, "recording mirrored package %q", packageName)
	}
	version := tarballcache.ExtractVersionFromFilename(packageName, filename)
	v, err := h.app.DB.CreateOrGetPackageVersionWithMetadata(pkg.ID, version, database.VersionMetadata{}, false)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindDatabase, err, "recording mirrored version %q@%q", packageName, version)
	}
	return v, nil
}

func (h *npmHandlers) handleTarballGet(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	packageName, filename := vars["package"], vars["filename"]
	headOnly := r.Method == http.MethodHead

	principal, err := h.resolvePrincipal(r, false)
	if err != nil {
		writeError(w, h.app.Log, err)
		return
	}
	if err := h.checkReadAccess(packageName, principal); err != nil {
		writeError(w, h.app.Log, err)
		return
	}

	if entry, ok := h.app.Tarballs.Get(packageName, filename); ok {
		h.app.DB.TouchPackageFileByName(packageName, filename)
		if headOnly {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.WriteHeader(http.StatusOK)
		w.Write(entry.Bytes)
		return
	}

	if headOnly {
		if err := h.app.Upstream.HeadTarball(r.Context(), packageName, filename); err != nil {
			writeError(w, h.app.Log, err)
			return
		}
		w.WriteHeader(http.StatusOK)
		return
	}

	result, err := h.app.Upstream.GetTarball(r.Context(), packageName, filename)
	if err != nil {
		writeError(w, h.app.Log, err)
		return
	}

	filePath, err := h.app.Tarballs.Put(packageName, filename, result.Bytes, result.ETag)
	if err != nil {
		writeError(w, h.app.Log, apierr.Wrap(apierr.KindCache, err, "storing tarball %q for %q", filename, packageName))
		return
	}

	v, err := h.ensureMirroredVersion(packageName, filename)
	if err != nil {
		h.app.Log.WithError(err).Warn("failed to record mirrored version metadata")
	} else {
		upstreamURL := fmt.Sprintf("%s/%s/-/%s", h.app.Config.UpstreamRegistry, packageName, filename)
		contentType := "application/octet-stream"
		var etagPtr *string
		if result.ETag != "" {
			etagPtr = &result.ETag
		}
		if _, err := h.app.DB.CreateOrUpdatePackageFile(v.ID, filename, int64(len(result.Bytes)), upstreamURL, filePath, etagPtr, &contentType); err != nil {
			h.app.Log.WithError(err).Warn("failed to record mirrored tarball file")
		}
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	w.Write(result.Bytes)
}

// handlePublish implements spec §4.F's nine-step publish algorithm.
func (h *npmHandlers) handlePublish(w http.ResponseWriter, r *http.Request) {
	packageName := mux.Vars(r)["package"]

	// Step 1: resolve principal, 401 if absent.
	principal, err := h.resolvePrincipal(r, true)
	if err != nil {
		writeError(w, h.app.Log, err)
		return
	}
	if principal == nil {
		writeError(w, h.app.Log, apierr.Unauthorized("publish requires authentication"))
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, h.app.Log, apierr.BadRequest("reading request body: %v", err))
		return
	}
	var req NPMPublishRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, h.app.Log, apierr.Parse("invalid publish document: %v", err))
		return
	}

	// Step 2: validate shape.
	if req.Name != packageName {
		writeError(w, h.app.Log, apierr.BadRequest("package name mismatch: url has %q, body has %q", packageName, req.Name))
		return
	}
	if len(req.Versions) == 0 {
		writeError(w, h.app.Log, apierr.BadRequest("publish document has no versions"))
		return
	}
	if len(req.Attachments) == 0 {
		writeError(w, h.app.Log, apierr.BadRequest("publish document has no attachments"))
		return
	}

	// Step 3: can_publish gate.
	canPublish, err := h.app.Auth.CanPublish(packageName, principal.UserID)
	if err != nil {
		writeError(w, h.app.Log, err)
		return
	}
	if !canPublish {
		writeError(w, h.app.Log, apierr.Forbidden("not permitted to publish %q", packageName))
		return
	}
	isNewPackage, err := h.app.DB.PackageExists(packageName)
	if err != nil {
		writeError(w, h.app.Log, apierr.Wrap(apierr.KindDatabase, err, "checking existence of %q", packageName))
		return
	}
	isNewPackage = !isNewPackage

	// Step 4: upsert package, version, tag — npm publish sends exactly one
	// version per request.
	var version string
	var fields json.RawMessage
	for v, raw := range req.Versions {
		version, fields = v, raw
		break
	}

	var parsed npmVersionFields
	if err := json.Unmarshal(fields, &parsed); err != nil {
		writeError(w, h.app.Log, apierr.Parse("invalid version document for %q@%q: %v", packageName, version, err))
		return
	}

	pkg, err := h.app.DB.CreateOrGetPackage(packageName, parsed.Description, &principal.UserID, true)
	if err != nil {
		writeError(w, h.app.Log, apierr.Wrap(apierr.KindDatabase, err, "upserting package %q", packageName))
		return
	}
	if req.Private != nil {
		if err := h.app.DB.UpdatePackagePrivacy(packageName, *req.Private); err != nil {
			writeError(w, h.app.Log, apierr.Wrap(apierr.KindDatabase, err, "setting privacy for %q", packageName))
			return
		}
	}

	meta := database.VersionMetadata{
		Description:      parsed.Description,
		MainFile:         parsed.Main,
		Scripts:          rawMessageToString(parsed.Scripts),
		Dependencies:     rawMessageToString(parsed.Dependencies),
		DevDependencies:  rawMessageToString(parsed.DevDependencies),
		PeerDependencies: rawMessageToString(parsed.PeerDependencies),
		Engines:          rawMessageToString(parsed.Engines),
		Shasum:           parsed.Dist.Shasum,
		Readme:           parsed.Readme,
	}
	pkgVersion, err := h.app.DB.CreateOrGetPackageVersionWithMetadata(pkg.ID, version, meta, true)
	if err != nil {
		writeError(w, h.app.Log, apierr.Wrap(apierr.KindDatabase, err, "upserting version %q@%q", packageName, version))
		return
	}
	if err := h.app.DB.UpsertPackageTag(packageName, "latest", version); err != nil {
		writeError(w, h.app.Log, apierr.Wrap(apierr.KindDatabase, err, "tagging latest for %q", packageName))
		return
	}

	// Step 5: write attachments.
	for filename, attachment := range req.Attachments {
		data, err := base64.StdEncoding.DecodeString(attachment.Data)
		if err != nil {
			writeError(w, h.app.Log, apierr.BadRequest("invalid base64 attachment %q: %v", filename, err))
			return
		}
		filePath, err := h.app.Tarballs.Put(packageName, filename, data, "")
		if err != nil {
			writeError(w, h.app.Log, apierr.Wrap(apierr.KindCache, err, "storing attachment %q for %q", filename, packageName))
			return
		}
		upstreamURL := fmt.Sprintf("%s/%s/-/%s", h.app.Config.UpstreamRegistry, packageName, filename)
		contentType := attachment.ContentType
		if _, err := h.app.DB.CreateOrUpdatePackageFile(pkgVersion.ID, filename, int64(len(data)), upstreamURL, filePath, nil, &contentType); err != nil {
			writeError(w, h.app.Log, apierr.Wrap(apierr.KindDatabase, err, "recording attachment %q for %q", filename, packageName))
			return
		}
	}

	// Step 6: ownership on first publish.
	if isNewPackage {
		if err := h.app.DB.CreatePackageOwner(packageName, principal.UserID, models.PermissionAdmin); err != nil {
			writeError(w, h.app.Log, apierr.Wrap(apierr.KindDatabase, err, "creating ownership for %q", packageName))
			return
		}
	}

	// Step 7: scoped packages belong to an organization.
	if scope, scoped := database.ExtractOrganizationName(packageName); scoped {
		orgID, err := h.app.DB.GetOrCreateOrganizationForPackage(scope, &principal.UserID)
		if err != nil {
			writeError(w, h.app.Log, apierr.Wrap(apierr.KindDatabase, err, "resolving organization %q", scope))
			return
		}
		if err := h.app.DB.LinkPackageToOrganization(packageName, orgID); err != nil {
			writeError(w, h.app.Log, apierr.Wrap(apierr.KindDatabase, err, "linking %q to organization %q", packageName, scope))
			return
		}
	}

	// Step 8: invalidate caches.
	if err := h.app.Metadata.Invalidate(packageName); err != nil {
		h.app.Log.WithError(err).Warn("failed to invalidate on-disk metadata cache after publish")
	}
	if h.app.Hot.Enabled() {
		h.app.Hot.Invalidate(r.Context(), packageName)
	}

	// Step 9: respond.
	resp, err := json.Marshal(NPMPublishResponse{OK: true, ID: packageName, Rev: "1-0"})
	if err != nil {
		writeError(w, h.app.Log, apierr.Internal("marshalling publish response: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *npmHandlers) handleLogin(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]
	const prefix = "org.couchdb.user:"
	if !strings.HasPrefix(userID, prefix) {
		writeError(w, h.app.Log, apierr.BadRequest("invalid user document id %q", userID))
		return
	}
	username := strings.TrimPrefix(userID, prefix)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, h.app.Log, apierr.BadRequest("reading request body: %v", err))
		return
	}
	var doc NPMUserDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		writeError(w, h.app.Log, apierr.Parse("invalid user document: %v", err))
		return
	}
	if doc.Name != username {
		writeError(w, h.app.Log, apierr.BadRequest("username mismatch: url has %q, body has %q", username, doc.Name))
		return
	}

	if _, err := h.app.DB.GetUserByUsername(username); errors.Is(err, database.ErrNotFound) {
		email := fmt.Sprintf("%s@example.com", username)
		if doc.Email != nil && *doc.Email != "" {
			email = *doc.Email
		}
		if _, err := h.app.Auth.Register(username, email, doc.Password); err != nil {
			writeError(w, h.app.Log, err)
			return
		}
	} else if err != nil {
		writeError(w, h.app.Log, apierr.Wrap(apierr.KindDatabase, err, "looking up user %q", username))
		return
	}

	_, token, err := h.app.Auth.Authenticate(username, doc.Password)
	if err != nil {
		writeError(w, h.app.Log, err)
		return
	}

	resp, err := json.Marshal(NPMUserResponse{OK: true, ID: userID, Rev: "1-0", Token: token})
	if err != nil {
		writeError(w, h.app.Log, apierr.Internal("marshalling login response: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *npmHandlers) handleWhoami(w http.ResponseWriter, r *http.Request) {
	principal, err := h.resolvePrincipal(r, true)
	if err != nil {
		writeError(w, h.app.Log, err)
		return
	}
	if principal == nil {
		writeError(w, h.app.Log, apierr.Unauthorized("missing Authorization header"))
		return
	}
	resp, _ := json.Marshal(map[string]string{"username": principal.Username})
	writeJSON(w, http.StatusOK, resp)
}

func (h *npmHandlers) handleLogout(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]
	if err := h.app.Auth.Logout(token); err != nil {
		writeError(w, h.app.Log, err)
		return
	}
	resp, _ := json.Marshal(map[string]bool{"ok": true})
	writeJSON(w, http.StatusOK, resp)
}

func (h *npmHandlers) handleSecurityProxy(w http.ResponseWriter, r *http.Request) {
	kind := mux.Vars(r)["kind"]
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, h.app.Log, apierr.BadRequest("reading request body: %v", err))
		return
	}

	respBody, status, err := h.app.Upstream.ProxyJSON(r.Context(), "-/npm/v1/security/"+kind, body)
	if err != nil {
		writeError(w, h.app.Log, err)
		return
	}
	writeJSON(w, status, respBody)
}
