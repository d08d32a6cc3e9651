// Package httpserver exposes the compositor over a JSON HTTP API.
package httpserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/networkbuster/compositor/internal/compositor"
	"github.com/networkbuster/compositor/internal/model"
	"github.com/networkbuster/compositor/internal/tailer"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = "127.0.0.1:3000"

const (
	defaultRecent = 10
	defaultCount  = 50
	maxCount      = 1000
)

// Watcher is the tailer surface used by the watch endpoints.
type Watcher interface {
	AddWatchPath(path string) error
	RemoveWatchPath(path string) bool
	WatchedPaths() []string
	Stats() model.TailStats
}

// Deps groups what the API serves. Tailer, History and Registry are optional.
// POST /api/export only writes inside ExportDir; without one it is disabled.
//
// The API has no authentication. Anyone who reaches it can tail files the
// process can read, so it binds to loopback unless configured otherwise.
type Deps struct {
	Compositor *compositor.Compositor
	Tailer     Watcher
	History    model.HistoryQuerier
	Registry   prometheus.Gatherer
	ExportDir  string
}

// Server provides the HTTP API.
type Server struct {
	addr      string
	deps      Deps
	server    *http.Server
	listener  net.Listener
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
}

// NewServer creates a new HTTP API server.
func NewServer(addr string, deps Deps) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:      addr,
		deps:      deps,
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
	}
}

// Handler returns the gin engine with every route registered.
func (s *Server) Handler() http.Handler {
	return s.routes()
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	api := r.Group("/api")
	api.GET("/health", s.handleHealth)
	api.GET("/stats", s.handleStats)
	api.GET("/snapshot", s.handleSnapshot)
	api.GET("/events", s.handleEvents)
	api.GET("/distribution", s.handleDistribution)
	api.GET("/sources", s.handleSources)
	api.POST("/sources/:name/enable", s.handleSourceToggle(true))
	api.POST("/sources/:name/disable", s.handleSourceToggle(false))
	api.POST("/export", s.handleExport)
	api.GET("/watch", s.handleWatchList)
	api.POST("/watch", s.handleWatchAdd)
	api.DELETE("/watch", s.handleWatchRemove)
	api.POST("/clear", s.handleClear)
	api.GET("/history", s.handleHistory)

	gatherer := s.deps.Registry
	if gatherer == nil {
		gatherer = s.deps.Compositor.Metrics().Registry()
	}
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	return r
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)

	s.server = &http.Server{
		Handler:           s.routes(),
		BaseContext:       func(_ net.Listener) context.Context { return s.ctx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = listener
	s.startTime = time.Now()

	go s.server.Serve(listener)
	return nil
}

// Addr returns the bound address once started, or the configured one.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	s.cancel()
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func queryInt(c *gin.Context, key string, def int) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": key + " must be a non-negative integer"})
		return 0, false
	}
	return min(n, maxCount), true
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"uptime":       time.Since(s.startTime).String(),
		"running":      s.deps.Compositor.Running(),
		"total_events": s.deps.Compositor.Stats().TotalEvents,
	})
}

func (s *Server) handleStats(c *gin.Context) {
	resp := gin.H{"compositor": s.deps.Compositor.Stats()}
	if s.deps.Tailer != nil {
		resp["tailer"] = s.deps.Tailer.Stats()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleSnapshot(c *gin.Context) {
	recent, ok := queryInt(c, "recent", defaultRecent)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.deps.Compositor.Snapshot(recent))
}

func (s *Server) handleEvents(c *gin.Context) {
	count, ok := queryInt(c, "count", defaultCount)
	if !ok {
		return
	}
	events := s.deps.Compositor.RecentEvents(count, c.Query("source"), c.Query("type"))
	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

func (s *Server) handleDistribution(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Compositor.TypeDistribution())
}

func (s *Server) handleSources(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Compositor.SourcesSummary())
}

func (s *Server) handleSourceToggle(enable bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")
		src, ok := s.deps.Compositor.Source(name)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown source " + name})
			return
		}
		if enable {
			src.Enable()
		} else {
			src.Disable()
		}
		c.JSON(http.StatusOK, gin.H{"name": name, "enabled": src.Enabled()})
	}
}

func (s *Server) handleExport(c *gin.Context) {
	var req struct {
		Path   string `json:"path" binding:"required"`
		Format string `json:"format"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body or missing path field"})
		return
	}
	if s.deps.ExportDir == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "export directory is not configured"})
		return
	}
	path, ok := exportPath(s.deps.ExportDir, req.Path)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "path must be a relative name inside the export directory"})
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	n, err := s.deps.Compositor.Export(path, req.Format)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, compositor.ErrUnknownFormat) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": path, "written": n})
}

// exportPath resolves name under dir. Absolute names and names that climb
// out of dir are rejected.
func exportPath(dir, name string) (string, bool) {
	if !filepath.IsLocal(name) {
		return "", false
	}
	return filepath.Join(dir, name), true
}

type watchRequest struct {
	Path string `json:"path" binding:"required"`
}

func (s *Server) requireTailer(c *gin.Context) bool {
	if s.deps.Tailer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "log tailer is disabled"})
		return false
	}
	return true
}

func (s *Server) handleWatchList(c *gin.Context) {
	if !s.requireTailer(c) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"paths": s.deps.Tailer.WatchedPaths()})
}

func (s *Server) handleWatchAdd(c *gin.Context) {
	if !s.requireTailer(c) {
		return
	}
	var req watchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body or missing path field"})
		return
	}
	if err := s.deps.Tailer.AddWatchPath(req.Path); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, tailer.ErrPathNotFound) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"paths": s.deps.Tailer.WatchedPaths()})
}

func (s *Server) handleWatchRemove(c *gin.Context) {
	if !s.requireTailer(c) {
		return
	}
	var req watchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body or missing path field"})
		return
	}
	if !s.deps.Tailer.RemoveWatchPath(req.Path) {
		c.JSON(http.StatusNotFound, gin.H{"error": "path is not watched"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"paths": s.deps.Tailer.WatchedPaths()})
}

func (s *Server) handleClear(c *gin.Context) {
	s.deps.Compositor.Clear()
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}

func (s *Server) handleHistory(c *gin.Context) {
	if s.deps.History == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event store is disabled"})
		return
	}
	limit, ok := queryInt(c, "limit", defaultRecent)
	if !ok {
		return
	}

	total, err := s.deps.History.TotalEventCount()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to count stored events"})
		return
	}
	bySource, err := s.deps.History.CountsBySource()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to group stored events by source"})
		return
	}
	byType, err := s.deps.History.CountsByType()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to group stored events by type"})
		return
	}
	recent, err := s.deps.History.RecentStoredEvents(limit, c.Query("source"), c.Query("type"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read stored events"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"total_events": total,
		"by_source":    bySource,
		"by_type":      byType,
		"recent":       recent,
	})
}
