// Package statusapi serves a small read-only HTTP view of a running keith
// daemon.
package statusapi

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/keith/internal/journal"
	"github.com/zulandar/keith/internal/models"
	"github.com/zulandar/keith/internal/telegraph"
)

const shutdownTimeout = 5 * time.Second

// StatusSource reports the daemon's current state.
type StatusSource interface {
	Status() telegraph.Status
}

// TurnLister lists journaled turns, newest first.
type TurnLister interface {
	Recent(ctx context.Context, f journal.Filter) ([]models.Turn, error)
}

// StartOpts holds configuration for the status server.
type StartOpts struct {
	Source   StatusSource
	Turns    TurnLister // optional; nil disables /turns
	Port     int
	Listener net.Listener // optional; overrides Port
	Out      io.Writer
}

// Start launches the status HTTP server. It blocks until ctx is cancelled,
// then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Source == nil {
		return fmt.Errorf("statusapi: status source is required")
	}
	ln := opts.Listener
	if ln == nil {
		if opts.Port <= 0 {
			return fmt.Errorf("statusapi: port is required")
		}
		var err error
		ln, err = net.Listen("tcp", fmt.Sprintf(":%d", opts.Port))
		if err != nil {
			return fmt.Errorf("statusapi: listen: %w", err)
		}
	}

	srv := &http.Server{
		Handler:           newRouter(opts),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Status endpoint at http://%s/status\n", ln.Addr())
	}

	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("statusapi: %w", err)
	}
	return nil
}

func newRouter(opts StartOpts) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", handleHealth(opts.Source))
	router.GET("/status", handleStatus(opts.Source))
	router.GET("/turns", handleTurns(opts.Turns))
	return router
}

func handleHealth(src StatusSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		s := src.Status()
		code := http.StatusOK
		if !s.Connected {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{"ok": s.Connected, "platform": s.Platform})
	}
}

func handleStatus(src StatusSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, src.Status())
	}
}

func handleTurns(turns TurnLister) gin.HandlerFunc {
	return func(c *gin.Context) {
		if turns == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "journal is disabled"})
			return
		}
		f := journal.Filter{
			ChannelID: c.Query("channel"),
			Kind:      c.Query("kind"),
		}
		if v := c.Query("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
				return
			}
			f.Limit = n
		}
		list, err := turns.Recent(c.Request.Context(), f)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"turns": list, "count": len(list)})
	}
}
