package web

import (
	"net/http"

	"github.com/deemkeen/mammut/activitypub"
	"github.com/deemkeen/mammut/util"
	"github.com/gin-gonic/gin"
)

func (s *Server) handleNodeInfoLinks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"links": []gin.H{
			{"rel": activitypub.NodeInfoSchema21, "href": s.urls.Base() + "/nodeinfo/2.1"},
			{"rel": activitypub.NodeInfoSchema20, "href": s.urls.Base() + "/nodeinfo/2.0"},
		},
	})
}

func (s *Server) handleNodeInfo(c *gin.Context) {
	version := c.Param("version")
	if version != "2.0" && version != "2.1" {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown nodeinfo version"})
		return
	}

	ctx := c.Request.Context()
	users, err := s.deps.Store.CountAccounts(ctx, activitypub.InstanceActorName)
	if err != nil {
		s.log.Error("Counting users failed", "err", err)
		c.Status(http.StatusInternalServerError)
		return
	}
	notes, err := s.deps.Store.CountLocalNotes(ctx)
	if err != nil {
		s.log.Error("Counting notes failed", "err", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	software := gin.H{"name": util.Name, "version": util.GetVersion()}
	if version == "2.1" {
		software["homepage"] = s.urls.Base()
	}
	protocols := []string{}
	if s.conf.Conf.WithAp {
		protocols = append(protocols, "activitypub")
	}

	c.Header("Content-Type", "application/json; profile=\"http://nodeinfo.diaspora.software/ns/schema/"+version+"#\"")
	c.JSON(http.StatusOK, gin.H{
		"version":           version,
		"software":          software,
		"protocols":         protocols,
		"services":          gin.H{"inbound": []string{}, "outbound": []string{}},
		"openRegistrations": false,
		"usage": gin.H{
			"users":      gin.H{"total": users},
			"localPosts": notes,
		},
		"metadata": gin.H{"nodeName": s.urls.Domain},
	})
}
