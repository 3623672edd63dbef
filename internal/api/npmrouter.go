package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// NewNPMRouter builds the npm wire protocol router (spec §4.F). Routes are
// registered most-specific first: the bare "GET /{package}" metadata route
// must come last among package routes or it would shadow the version and
// tarball routes.
func NewNPMRouter(app *AppContext) http.Handler {
	h := &npmHandlers{app: app}
	r := mux.NewRouter()

	r.HandleFunc("/-/user/{userID}", h.handleLogin).Methods(http.MethodPut)
	r.HandleFunc("/-/whoami", h.handleWhoami).Methods(http.MethodGet)
	r.HandleFunc("/-/user/token/{token}", h.handleLogout).Methods(http.MethodDelete)
	r.HandleFunc("/-/npm/v1/security/{kind:advisories/bulk|audits/quick}", h.handleSecurityProxy).Methods(http.MethodPost)

	r.HandleFunc("/{package:"+packageVarPattern+"}/-/{filename}", h.handleTarballGet).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/{package:"+packageVarPattern+"}/{version}", h.handleVersionGet).Methods(http.MethodGet)
	r.HandleFunc("/{package:"+packageVarPattern+"}", h.handlePublish).Methods(http.MethodPut)
	r.HandleFunc("/{package:"+packageVarPattern+"}", h.handleMetadataGet).Methods(http.MethodGet)

	return normalizePathMiddleware(app.Config.RegistryPrefix, r)
}

// normalizePathMiddleware applies the path-parsing redesign (pathparse.go)
// before the request reaches mux's route matcher, so a percent-encoded
// scoped name and a literal one are indistinguishable to every route below.
func normalizePathMiddleware(prefix string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		decoded, err := NormalizePath(prefix, r.URL.EscapedPath())
		if err != nil {
			http.Error(w, "malformed request path", http.StatusBadRequest)
			return
		}
		r.URL.Path = decoded
		r.URL.RawPath = ""
		next.ServeHTTP(w, r)
	})
}
