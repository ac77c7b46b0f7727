// Package dashboard serves a small diagnostics HTTP API over the
// session store.
package dashboard

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/trestle/internal/project"
	"github.com/zulandar/trestle/internal/session"
)

// StartOpts holds configuration for the dashboard server.
type StartOpts struct {
	Store    *session.Store
	Registry *project.Registry
	Port     int
	Out      io.Writer
}

// Start launches the dashboard HTTP server. It blocks until ctx is
// cancelled, then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Store == nil {
		return fmt.Errorf("dashboard: session store is required")
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, opts.Store, opts.Registry)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", opts.Port),
		Handler: router,
	}

	// Graceful shutdown on context cancellation.
	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Dashboard running at http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}

func registerRoutes(router *gin.Engine, store *session.Store, registry *project.Registry) {
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
	})

	router.GET("/api/sessions", func(c *gin.Context) {
		sessions, err := store.GetAll()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		out := make([]gin.H, 0, len(sessions))
		for _, s := range sessions {
			out = append(out, gin.H{
				"channelId":   s.ChannelID,
				"sessionId":   s.SessionID,
				"projectName": s.ProjectName,
				"updatedAt":   s.UpdatedAt,
			})
		}
		c.JSON(http.StatusOK, gin.H{"sessions": out})
	})

	router.GET("/api/sessions/:channel/saved", func(c *gin.Context) {
		saved, err := store.ListSaved(c.Param("channel"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		out := make([]gin.H, 0, len(saved))
		for _, s := range saved {
			out = append(out, gin.H{
				"label":       s.Label,
				"sessionId":   s.SessionID,
				"projectName": s.ProjectName,
				"savedAt":     s.SavedAt,
			})
		}
		c.JSON(http.StatusOK, gin.H{"saved": out})
	})

	router.GET("/api/projects", func(c *gin.Context) {
		out := []gin.H{}
		if registry != nil {
			for _, p := range registry.All() {
				out = append(out, gin.H{
					"name":           p.Name,
					"channelId":      p.ChannelID,
					"model":          p.Model,
					"permissionMode": p.PermissionMode,
				})
			}
		}
		c.JSON(http.StatusOK, gin.H{"projects": out})
	})
}
