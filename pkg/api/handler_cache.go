package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) cacheStats(c *gin.Context) {
	stats, err := s.cache.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// cacheInvalidate drops every cached extraction recorded against one
// protocol, across both tiers.
func (s *Server) cacheInvalidate(c *gin.Context) {
	protocolID := c.Param("protocolID")
	if _, err := s.protocols.Get(c.Request.Context(), protocolID); err != nil {
		writeServiceError(c, err)
		return
	}
	removed, err := s.cache.InvalidateProtocol(c.Request.Context(), protocolID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.audit.Record(c.Request.Context(), protocolID, "", "cache.invalidated",
		gin.H{"entries": removed})
	c.JSON(http.StatusOK, gin.H{"invalidated": removed})
}

// cacheInvalidateModule drops every cached extraction for one module id,
// across both tiers and all protocols. Operators run this after editing a
// module's prompts or schema to reclaim entries keyed by the old text.
func (s *Server) cacheInvalidateModule(c *gin.Context) {
	moduleID := c.Param("moduleID")
	removed, err := s.cache.InvalidateModule(c.Request.Context(), moduleID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.audit.Record(c.Request.Context(), "", "", "cache.module_invalidated",
		gin.H{"module_id": moduleID, "entries": removed})
	c.JSON(http.StatusOK, gin.H{"invalidated": removed})
}
