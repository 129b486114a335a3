package server

import (
	"context"
	"net/http"

	"alerthub/internal/sources"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const mapperKey = "alerthub.mapper"

// resolveSource looks up the mapper for :source and aborts with 404 for a
// name that is not registered.
func (s *Server) resolveSource(c *gin.Context) {
	name := c.Param("source")
	mapper, ok := s.sources.Lookup(name)
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown source: " + name})
		return
	}
	c.Set(mapperKey, mapper)
	c.Next()
}

// receiveWebhook maps a source payload to canonical alerts and runs each one
// through the pipeline. Alerts are processed in payload order; a failed one
// does not stop the rest.
func (s *Server) receiveWebhook(c *gin.Context) {
	name := c.Param("source")
	mapper, ok := c.MustGet(mapperKey).(sources.Mapper)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown source: " + name})
		return
	}

	var payload map[string]any
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload: " + err.Error()})
		return
	}

	// side effects after the commit must not die with the sender's connection
	ctx := context.WithoutCancel(c.Request.Context())

	alerts := mapper(payload)
	ingested, deduplicated, failed := 0, 0, 0
	for _, a := range alerts {
		res, err := s.pipeline.Process(ctx, a)
		if err != nil {
			failed++
			s.log.Error("failed to ingest alert",
				zap.String("source", name),
				zap.String("title", a.Title),
				zap.Error(err),
			)
			continue
		}
		ingested++
		if res.Deduplicated() {
			deduplicated++
		}
	}

	if failed > 0 {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":        "ingestion failed",
			"ingested":     ingested,
			"deduplicated": deduplicated,
			"failed":       failed,
		})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"ingested": ingested, "deduplicated": deduplicated})
}
