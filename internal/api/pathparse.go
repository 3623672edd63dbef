// Package api mounts the npm wire protocol and the management JSON API
// onto one HTTP server.
package api

import (
	"net/url"
	"strings"
)

// NormalizePath implements spec's URL-decoding redesign (Open Question
// #3): strip the optional mount prefix, then apply a single
// net/url.PathUnescape pass over the whole remaining path. Doing this once,
// up front, means a scoped package name sent as "%40scope%2fname" and one
// sent as the literal two segments "@scope/name" land on the same decoded
// string, instead of requiring two different route patterns.
func NormalizePath(prefix, rawPath string) (string, error) {
	trimmed := strings.TrimPrefix(rawPath, prefix)
	if trimmed == "" {
		trimmed = "/"
	}
	if !strings.HasPrefix(trimmed, "/") {
		trimmed = "/" + trimmed
	}

	decoded, err := url.PathUnescape(trimmed)
	if err != nil {
		return "", err
	}
	return decoded, nil
}

// packageVarPattern is the gorilla/mux regex for a single route variable
// that matches either a scoped "@scope/name" pair or a plain unscoped
// name, so one route table serves both shapes.
const packageVarPattern = `@[^/]+/[^/]+|[^/@]+`
