package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/clefregistry/clef/internal/apierr"
	"github.com/clefregistry/clef/internal/database"
)

// writeError maps any error onto its HTTP status and writes a plain-text
// body, matching the original registry's error Responder. Used by the
// gorilla/mux-served npm wire protocol handlers.
func writeError(w http.ResponseWriter, log *logrus.Logger, err error) {
	apiErr := apierr.Classify(err)
	log.WithField("kind", apiErr.Kind).Warn(apiErr.Message)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(apiErr.Status())
	w.Write([]byte(apiErr.Message))
}

// ginError maps any error onto its HTTP status and writes it as the
// {"error": "..."} JSON body the gin-served management API uses, matching
// the teacher's handler idiom. A database not-found becomes 404 and a
// check violation (such as removing an organization's last owner) 409.
func ginError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, database.ErrNotFound):
		err = apierr.Wrap(apierr.KindNotFound, err, "%s", err.Error())
	case errors.Is(err, database.ErrCheckViolation):
		err = apierr.Wrap(apierr.KindConflict, err, "%s", err.Error())
	}
	apiErr := apierr.Classify(err)
	c.JSON(apiErr.Status(), gin.H{"error": apiErr.Message})
}
