package server

import (
	"errors"
	"net/http"

	"alerthub/internal/elasticsearch"
	"alerthub/internal/logger"
	"alerthub/internal/rules"
	"alerthub/internal/store"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Common request types
type IDRequest struct {
	ID uint64 `json:"id" binding:"required"`
}

// bindOptional binds a JSON body when there is one; list endpoints accept an
// empty body.
func bindOptional(c *gin.Context, req any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	return true
}

func (s *Server) storeError(c *gin.Context, err error, what string) {
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": what + " not found"})
		return
	}
	s.log.Error("store operation failed", zap.String("entity", what), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to access " + what})
}

type ListEventsRequest struct {
	Fingerprint string `json:"fingerprint"`
	Source      string `json:"source"`
	GroupID     uint64 `json:"group_id"`
	Limit       int    `json:"limit"`
}

func (s *Server) listEvents(c *gin.Context) {
	var req ListEventsRequest
	if !bindOptional(c, &req) {
		return
	}
	events, err := s.store.ListEvents(c.Request.Context(), store.EventFilter{
		Fingerprint: req.Fingerprint,
		Source:      req.Source,
		GroupID:     req.GroupID,
		Limit:       req.Limit,
	})
	if err != nil {
		s.storeError(c, err, "events")
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// 事件搜索，未启用 ES 时退回数据库查询
type SearchEventsRequest struct {
	Fingerprint string `json:"fingerprint,omitempty"`
	Source      string `json:"source,omitempty"`
	Status      string `json:"status,omitempty"`
	Severity    string `json:"severity,omitempty"`
	StartTime   *int64 `json:"start_time,omitempty"` // Unix timestamp
	EndTime     *int64 `json:"end_time,omitempty"`   // Unix timestamp
	QueryText   string `json:"query_text,omitempty"`
	Size        int    `json:"size,omitempty"`
	From        int    `json:"from,omitempty"`
}

func (s *Server) searchEvents(c *gin.Context) {
	var req SearchEventsRequest
	if !bindOptional(c, &req) {
		return
	}

	if s.es == nil {
		events, err := s.store.ListEvents(c.Request.Context(), store.EventFilter{
			Fingerprint: req.Fingerprint,
			Source:      req.Source,
			Limit:       req.Size,
		})
		if err != nil {
			s.storeError(c, err, "events")
			return
		}
		c.JSON(http.StatusOK, gin.H{"total": len(events), "events": events, "backend": "database"})
		return
	}

	result, err := s.es.SearchEvents(c.Request.Context(), &elasticsearch.SearchQuery{
		Fingerprint: req.Fingerprint,
		Source:      req.Source,
		Status:      req.Status,
		Severity:    req.Severity,
		StartTime:   unixPtr(req.StartTime),
		EndTime:     unixPtr(req.EndTime),
		QueryText:   req.QueryText,
		Size:        req.Size,
		From:        req.From,
	})
	if err != nil {
		s.log.Error("event search failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to search events"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"total": result.Total, "events": result.Hits, "backend": "elasticsearch"})
}

type ListGroupsRequest struct {
	Status string `json:"status" binding:"omitempty,oneof=firing resolved acknowledged"`
	Limit  int    `json:"limit"`
}

func (s *Server) listGroups(c *gin.Context) {
	var req ListGroupsRequest
	if !bindOptional(c, &req) {
		return
	}
	groups, err := s.store.ListGroups(c.Request.Context(), store.GroupFilter{Status: req.Status, Limit: req.Limit})
	if err != nil {
		s.storeError(c, err, "groups")
		return
	}
	c.JSON(http.StatusOK, gin.H{"groups": groups})
}

func (s *Server) getGroup(c *gin.Context) {
	var req IDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	group, err := s.store.GetGroup(c.Request.Context(), req.ID)
	if err != nil {
		s.storeError(c, err, "group")
		return
	}
	events, err := s.store.ListEvents(c.Request.Context(), store.EventFilter{GroupID: group.ID, Limit: 20})
	if err != nil {
		s.storeError(c, err, "events")
		return
	}
	c.JSON(http.StatusOK, gin.H{"group": group, "recent_events": events})
}

func (s *Server) ackGroup(c *gin.Context) {
	var req IDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	group, err := s.store.AckGroup(c.Request.Context(), req.ID)
	if err != nil {
		s.storeError(c, err, "group")
		return
	}
	s.log.Info("group acknowledged", zap.Uint64("group_id", group.ID), zap.String("request_id", c.GetString("request_id")))
	c.JSON(http.StatusOK, gin.H{"message": "Group acknowledged", "group": group})
}

func (s *Server) addRule(c *gin.Context) {
	var req RuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rule := ConvertRuleRequest(req)
	if err := rules.Validate(*rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.store.CreateRule(c.Request.Context(), rule); err != nil {
		s.storeError(c, err, "rule")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": rule.ID, "message": "Rule created successfully"})
}

func (s *Server) listRules(c *gin.Context) {
	list, err := s.store.ListRules(c.Request.Context())
	if err != nil {
		s.storeError(c, err, "rules")
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": list})
}

func (s *Server) getRule(c *gin.Context) {
	var req IDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rule, err := s.store.GetRule(c.Request.Context(), req.ID)
	if err != nil {
		s.storeError(c, err, "rule")
		return
	}
	c.JSON(http.StatusOK, rule)
}

func (s *Server) updateRule(c *gin.Context) {
	var req struct {
		IDRequest
		RuleRequest
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rule := ConvertRuleRequest(req.RuleRequest)
	rule.ID = req.ID
	if err := rules.Validate(*rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.store.UpdateRule(c.Request.Context(), rule); err != nil {
		s.storeError(c, err, "rule")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Rule updated successfully"})
}

func (s *Server) removeRule(c *gin.Context) {
	var req IDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.store.DeleteRule(c.Request.Context(), req.ID); err != nil {
		s.storeError(c, err, "rule")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Rule deleted successfully"})
}

func (s *Server) addArticle(c *gin.Context) {
	var req ArticleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	article, err := ConvertArticleRequest(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.store.CreateArticle(c.Request.Context(), article); err != nil {
		s.storeError(c, err, "article")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": article.ID, "message": "Article created successfully"})
}

func (s *Server) listArticles(c *gin.Context) {
	list, err := s.store.ListArticles(c.Request.Context())
	if err != nil {
		s.storeError(c, err, "articles")
		return
	}
	c.JSON(http.StatusOK, gin.H{"articles": list})
}

func (s *Server) removeArticle(c *gin.Context) {
	var req IDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.store.DeleteArticle(c.Request.Context(), req.ID); err != nil {
		s.storeError(c, err, "article")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Article deleted successfully"})
}

// 派发审计日志查询
type DispatchLogRequest struct {
	EventID    *uint64 `json:"event_id,omitempty"`
	ActionType string  `json:"action_type,omitempty"`
	Result     string  `json:"result,omitempty"`
	StartTime  *int64  `json:"start_time,omitempty"` // Unix timestamp
	EndTime    *int64  `json:"end_time,omitempty"`   // Unix timestamp
	Limit      int     `json:"limit,omitempty"`
	Offset     int     `json:"offset,omitempty"`
}

func (s *Server) queryDispatchLogs(c *gin.Context) {
	var req DispatchLogRequest
	if !bindOptional(c, &req) {
		return
	}
	dir := s.config.Engine.DispatchLogDir
	if dir == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "dispatch log is disabled"})
		return
	}

	result, err := logger.QueryDispatchLogs(dir, &logger.DispatchLogQuery{
		EventID:    req.EventID,
		ActionType: req.ActionType,
		Result:     req.Result,
		StartTime:  unixPtr(req.StartTime),
		EndTime:    unixPtr(req.EndTime),
		Limit:      req.Limit,
		Offset:     req.Offset,
	})
	if err != nil {
		s.log.Error("dispatch log query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to query dispatch logs"})
		return
	}
	c.JSON(http.StatusOK, result)
}
