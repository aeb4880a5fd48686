package web

import (
	"net/http"
	"strings"

	"github.com/deemkeen/mammut/util"
	"github.com/gin-gonic/gin"
)

// webfingerUser extracts the local username from an acct: or actor URL
// resource. ok is false for resources of other hosts.
func (s *Server) webfingerUser(resource string) (string, bool) {
	if strings.HasPrefix(resource, "https://") {
		prefix := s.urls.Base() + "/users/"
		name, found := strings.CutPrefix(resource, prefix)
		return name, found && name != "" && !strings.Contains(name, "/")
	}

	acct, found := strings.CutPrefix(resource, "acct:")
	if !found {
		return "", false
	}
	name, host, hasHost := strings.Cut(strings.TrimPrefix(acct, "@"), "@")
	if hasHost && util.ToPuny(host) != s.urls.Domain {
		return "", false
	}
	return name, name != ""
}

func (s *Server) handleWebfinger(c *gin.Context) {
	name, ok := s.webfingerUser(c.Query("resource"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Not Found"})
		return
	}
	acc, err := s.deps.Store.ReadAccByUsername(c.Request.Context(), name)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Not Found"})
		return
	}

	self := s.urls.User(acc.Username)
	c.Header("Content-Type", "application/jrd+json; charset=utf-8")
	c.JSON(http.StatusOK, gin.H{
		"subject": "acct:" + acc.Username + "@" + s.urls.Domain,
		"aliases": []string{self},
		"links": []gin.H{
			{"rel": "self", "type": "application/activity+json", "href": self},
		},
	})
}
