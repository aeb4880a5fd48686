package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/deemkeen/mammut/activitypub"
	"github.com/gin-gonic/gin"
)

// handleInbox serves both the shared and the per-user inbox. The activity is
// performed before answering; a failed activity answers 500 so the sender
// retries.
func (s *Server) handleInbox(c *gin.Context) {
	ctx := c.Request.Context()
	if name := c.Param("actor"); name != "" {
		if _, err := s.deps.Store.ReadAccByUsername(ctx, name); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}
	}

	body, err := c.GetRawData()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.Status(http.StatusRequestEntityTooLarge)
			return
		}
		c.Status(http.StatusBadRequest)
		return
	}
	var activity activitypub.Object
	if err := json.Unmarshal(body, &activity); err != nil || activity.Type() == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid activity"})
		return
	}

	actor, status := s.deps.Verifier.Authenticate(c.Request, body)
	if status != http.StatusOK {
		s.log.Debug("Inbox request rejected", "status", status, "type", activity.Type())
		c.Status(status)
		return
	}

	outcome, err := s.deps.Kernel.Perform(ctx, actor.Account, activity, body)
	if err != nil {
		s.log.Error("Inbox activity failed", "type", activity.Type(), "actor", actor.Account.Acct(), "err", err)
		c.Status(http.StatusInternalServerError)
		return
	}
	s.log.Debug("Inbox activity", "type", activity.Type(), "actor", actor.Account.Acct(), "outcome", outcome)
	c.Status(http.StatusAccepted)
}
