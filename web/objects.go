package web

import (
	"errors"
	"net/http"

	"github.com/deemkeen/mammut/activitypub"
	"github.com/deemkeen/mammut/db"
	"github.com/gin-gonic/gin"
)

// handleObject renders a local object through the resolver's local branch,
// so a GET answers exactly what a local resolution would see.
func (s *Server) handleObject(c *gin.Context) {
	if status := s.deps.Verifier.CheckFetch(c.Request); status != http.StatusOK {
		c.Status(status)
		return
	}

	uri := s.urls.Base() + c.Request.URL.Path
	obj, err := activitypub.NewResolverWithLimit(s.deps.Resolvers, 1).Resolve(c.Request.Context(), uri)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) || errors.Is(err, activitypub.ErrUnhandledLocal) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
			return
		}
		s.log.Error("Rendering local object failed", "uri", uri, "err", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	c.Header("Content-Type", activityJSON)
	c.JSON(http.StatusOK, obj)
}
