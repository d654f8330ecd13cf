// Package api 对外控制面。只做协议转换和准入委托，
// 所有语义都在 service.Manager。
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"outway/backend/nodes"
	"outway/backend/service"
)

// Authorizer 写操作的外部准入控制。本层只负责调用，
// 策略完全由宿主实现。
type Authorizer interface {
	Authorize(action, detail string) error
}

// AllowAll 放行一切写操作，单机部署用。
type AllowAll struct{}

func (AllowAll) Authorize(action, detail string) error { return nil }

type Router struct {
	manager *service.Manager
	auth    Authorizer
}

func NewRouter(m *service.Manager, auth Authorizer) *gin.Engine {
	r := &Router{manager: m, auth: auth}
	engine := gin.New()
	engine.Use(gin.Recovery())
	r.register(engine)
	return engine
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

func (r *Router) register(engine *gin.Engine) {
	engine.Use(corsMiddleware())

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now()})
	})

	vpn := engine.Group("/vpn")
	{
		// 只读操作不经准入
		vpn.GET("/status", r.getStatus)
		vpn.GET("/nodes", r.listNodes)

		vpn.POST("/enable", r.enable)
		vpn.POST("/disable", r.disable)
		vpn.POST("/nodes/switch", r.switchNode)
		vpn.POST("/refresh", r.refresh)
		vpn.POST("/bypass", r.addBypass)
		vpn.DELETE("/bypass", r.removeBypass)
	}
}

type switchRequest struct {
	Name string `json:"name" binding:"required"`
}

type bypassRequest struct {
	Domain string `json:"domain" binding:"required"`
}

func (r *Router) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "status": r.manager.Status()})
}

func (r *Router) listNodes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "nodes": r.manager.ListNodes()})
}

func (r *Router) enable(c *gin.Context) {
	if !r.authorize(c, "enable", "") {
		return
	}
	if err := r.manager.Enable(c.Request.Context()); err != nil {
		r.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "message": "vpn enabled"})
}

func (r *Router) disable(c *gin.Context) {
	if !r.authorize(c, "disable", "") {
		return
	}
	if err := r.manager.Disable(); err != nil {
		r.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "message": "vpn disabled"})
}

func (r *Router) switchNode(c *gin.Context) {
	var req switchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if !r.authorize(c, "switch_node", req.Name) {
		return
	}
	if err := r.manager.SwitchNode(c.Request.Context(), req.Name); err != nil {
		r.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "message": "switched to " + req.Name})
}

func (r *Router) refresh(c *gin.Context) {
	if !r.authorize(c, "refresh", "") {
		return
	}
	if err := r.manager.Refresh(c.Request.Context()); err != nil {
		r.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "message": "subscription refreshed"})
}

func (r *Router) addBypass(c *gin.Context) {
	var req bypassRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if !r.authorize(c, "add_bypass", req.Domain) {
		return
	}
	r.manager.AddBypass(req.Domain)
	c.JSON(http.StatusOK, gin.H{"ok": true, "message": "bypass added"})
}

func (r *Router) removeBypass(c *gin.Context) {
	var req bypassRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if !r.authorize(c, "remove_bypass", req.Domain) {
		return
	}
	r.manager.RemoveBypass(req.Domain)
	c.JSON(http.StatusOK, gin.H{"ok": true, "message": "bypass removed"})
}

// authorize 准入失败时已写响应，调用方直接返回即可。
func (r *Router) authorize(c *gin.Context, action, detail string) bool {
	if err := r.auth.Authorize(action, detail); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"ok": false, "message": err.Error()})
		return false
	}
	return true
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"ok": false, "message": err.Error()})
}

func (r *Router) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrAlreadyEnabled), errors.Is(err, service.ErrNotEnabled):
		c.JSON(http.StatusConflict, gin.H{"ok": false, "message": err.Error()})
	case errors.Is(err, nodes.ErrNodeNotFound):
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "message": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "message": err.Error()})
	}
}
