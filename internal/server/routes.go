package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/danmuck/notebookd/internal/auth"
	"github.com/danmuck/notebookd/internal/executor"
	"github.com/danmuck/notebookd/internal/notebook"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

type codeRequest struct {
	Code *string `json:"code" binding:"required"`
}

func (s *Server) RegisterRoutes() {
	r := s.router
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.Appeared).String(),
			"service": s.Name,
			"version": version,
		})
	})

	r.GET("/ready", func(c *gin.Context) {
		conn := s.store.Connection()
		status := http.StatusOK
		if conn.Status != notebook.StatusConnected {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":   status == http.StatusOK,
			"kernel":  conn,
			"service": s.Name,
			"version": version,
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("", s.authorize())

	api.GET("/cells", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"cells": s.store.Cells()})
	})

	api.POST("/cells", func(c *gin.Context) {
		var req codeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		cell := s.store.AddCell(*req.Code)
		c.JSON(http.StatusCreated, gin.H{"cell": cell})
	})

	api.GET("/cells/:id", func(c *gin.Context) {
		cell, err := s.store.Cell(c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"cell": cell})
	})

	api.PUT("/cells/:id/code", func(c *gin.Context) {
		var req codeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		id := c.Param("id")
		if err := s.store.UpdateCode(id, *req.Code); err != nil {
			writeError(c, err)
			return
		}
		cell, err := s.store.Cell(id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"cell": cell})
	})

	api.POST("/cells/:id/execute", func(c *gin.Context) {
		id := c.Param("id")
		if err := s.exec.Start(s.runCtx, id); err != nil {
			writeError(c, err)
			return
		}
		cell, err := s.store.Cell(id)
		if err != nil {
			writeError(c, err)
			return
		}
		log.Info().Str("cell", id).Msg("execution started")
		c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "cell": cell})
	})

	api.GET("/kernel", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"kernel":  s.store.Connection(),
			"pending": s.exec.Pending(),
		})
	})

	api.POST("/kernel/connect", func(c *gin.Context) {
		if err := s.exec.Connect(c.Request.Context()); err != nil {
			c.JSON(http.StatusBadGateway, gin.H{
				"error":  err.Error(),
				"kernel": s.store.Connection(),
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"kernel": s.store.Connection()})
	})
}

// authorize rejects requests without a valid API token once one is configured.
func (s *Server) authorize() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.auth == nil {
			c.Next()
			return
		}
		token, ok := auth.TokenFromHeader(c.GetHeader("Authorization"))
		if !ok || s.auth.Validate(token) != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": auth.ErrUnauthorized.Error()})
			return
		}
		c.Next()
	}
}

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, notebook.ErrCellNotFound):
		status = http.StatusNotFound
	case errors.Is(err, notebook.ErrCellActive):
		status = http.StatusConflict
	case errors.Is(err, executor.ErrNoKernel):
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
