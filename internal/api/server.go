package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"hightrade/internal/command"
	"hightrade/internal/ledger"
	"hightrade/internal/logger"
	"hightrade/internal/metrics"
	"hightrade/internal/orchestrator"
)

// Server is the JSON status surface and the ingress for chat-transport
// commands. It reads through the orchestrator's accessors; it never touches
// the store as a writer.
type Server struct {
	orch   *orchestrator.Orchestrator
	ledger *ledger.Ledger
	queue  *command.Queue
	http   *http.Server
	start  time.Time
}

func NewServer(addr string, orch *orchestrator.Orchestrator, led *ledger.Ledger, queue *command.Queue) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{orch: orch, ledger: led, queue: queue, start: time.Now()}

	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", s.health)
	r.GET("/status", s.status)
	r.GET("/portfolio", s.portfolio)
	r.GET("/defcon", s.defcon)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	r.POST("/command", s.postCommand)

	s.http = &http.Server{Addr: addr, Handler: r}
	return s
}

// Start serves until ctx ends; shutdown is graceful.
func (s *Server) Start(ctx context.Context) {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = s.http.Shutdown(shutdownCtx)
	}()
	logger.Infof("status api listening on %s", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Errorf("status api stopped: %v", err)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"ok":     true,
		"uptime": time.Since(s.start).Truncate(time.Second).String(),
		"mode":   s.orch.State().Mode,
	})
}

func (s *Server) status(c *gin.Context) {
	st := s.orch.State()
	snap := s.orch.Snapshot()
	open, _ := s.ledger.ListOpen(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"mode":               st.Mode,
		"broker_mode":        st.BrokerMode,
		"cycle_interval_sec": st.CycleInterval,
		"cycle_count":        st.CycleCount,
		"last_cycle_start":   st.LastCycleStart,
		"defcon":             s.orch.Defcon(),
		"vix":                snap.VIX,
		"stale":              snap.Stale,
		"open_positions":     len(open),
	})
}

func (s *Server) portfolio(c *gin.Context) {
	perf, err := s.ledger.Performance(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	open, err := s.ledger.ListOpen(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"performance": perf, "open": open})
}

func (s *Server) defcon(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"level": s.orch.Defcon()})
}

type commandRequest struct {
	Verb string   `json:"verb" binding:"required"`
	Args []string `json:"args"`
}

// postCommand feeds the in-process command channel, the same path the chat
// transport uses. Delivery is accepted, not yet applied.
func (s *Server) postCommand(c *gin.Context) {
	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !command.KnownVerb(req.Verb) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown verb", "code": command.CodeUnknownVerb})
		return
	}
	cmd := command.Command{
		ID:         uuid.NewString(),
		Verb:       req.Verb,
		Args:       req.Args,
		ReceivedAt: time.Now().UTC(),
	}
	if err := s.queue.Submit(c.Request.Context(), cmd); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": cmd.ID})
}
