package api

import (
	"github.com/gin-gonic/gin"

	"github.com/vimcodex/vimcodex/internal/common/logger"
)

// SetupRoutes configures the bridge API routes.
// router should be the /api/v1 group.
func SetupRoutes(router *gin.RouterGroup, controller Controller, log *logger.Logger) {
	handler := NewHandler(controller, log)

	// Session endpoints under /api/v1/session
	sess := router.Group("/session")
	{
		sess.POST("/start", handler.StartSession)
		sess.DELETE("", handler.StopSession)

		sess.POST("/input", handler.SendInput)
		sess.POST("/approve", handler.Approve)
		sess.POST("/deny", handler.Deny)
		sess.POST("/interrupt", handler.Interrupt)
		sess.POST("/visibility", handler.ToggleVisibility)

		sess.GET("/status", handler.GetStatus)
		sess.GET("/messages", handler.GetMessages)
	}
}
