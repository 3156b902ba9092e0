package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/waybill/internal/metrics"
)

// registerRoutes sets up every route on the gin router.
func registerRoutes(router *gin.Engine, s *Server) {
	router.GET("/health", s.handleHealth)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	// Session.
	router.GET("/auth/code", s.handleAuthCode)
	router.GET("/session/status", s.handleSessionStatus)
	router.GET("/session/reset", s.handleSessionReset)

	// Dispatch and media.
	router.POST("/media/upload", s.handleUpload)
	router.POST("/messages/send", s.handleSend)
	router.POST("/messages/send-with-media", s.handleSendWithMedia)
	router.POST("/messages/send-sheet", s.handleSendSheet)
	router.GET("/messages/batches", s.handleBatchList)
	router.GET("/messages/batches/:id", s.handleBatchDetail)

	// Ledger records.
	rec := router.Group("/records")
	rec.GET("", s.handleRecordList)
	rec.POST("", s.handleRecordCreate)
	rec.POST("/import", s.handleRecordImport)
	rec.GET("/search/name/:name", s.handleRecordSearch)
	rec.GET("/:id", s.handleRecordGet)
	rec.PUT("/:id", s.handleRecordUpdate)
	rec.DELETE("/:id", s.handleRecordDelete)

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "not found"})
	})
}
