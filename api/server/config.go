package server

import (
	"net/http"

	"alerthub/internal/config"

	"github.com/gin-gonic/gin"
)

// GetConfigResponse 获取配置响应
type GetConfigResponse struct {
	Config *config.Config `json:"config"`
}

// getConfig 获取系统配置，密码字段不会输出
func (s *Server) getConfig(c *gin.Context) {
	c.JSON(http.StatusOK, GetConfigResponse{
		Config: s.config,
	})
}
