// Package httpapi exposes a Router over HTTP with gin.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/petrijr/hexflow/internal/persistence"
	"github.com/petrijr/hexflow/pkg/api"
)

// TokenCookie caches the workflow token in the browser. It is never read
// back; the query parameter is authoritative.
const TokenCookie = "workflow_token"

// Options configures the HTTP surface.
type Options struct {
	Router api.Router
	// Store backs /stats. Optional.
	Store persistence.SessionStore
	// Metrics is included in /stats when set.
	Metrics *api.BasicMetrics
	// Cookie enables the convenience token cookie on /start.
	Cookie bool
	Logger zerolog.Logger
}

type handler struct {
	router  api.Router
	store   persistence.SessionStore
	metrics *api.BasicMetrics
	cookie  bool
	log     zerolog.Logger
}

// NewEngine builds the gin engine serving the router endpoints.
func NewEngine(opts Options) *gin.Engine {
	h := &handler{
		router:  opts.Router,
		store:   opts.Store,
		metrics: opts.Metrics,
		cookie:  opts.Cookie,
		log:     opts.Logger,
	}

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type"}

	r := gin.New()
	r.Use(accessLog(h.log), recovery(h.log), cors.New(corsConfig))

	r.GET("/", h.index)
	r.GET("/status", h.status)
	r.GET("/start", h.start)
	r.GET("/next", h.next)
	r.POST("/next", h.next)
	r.GET("/dag", h.dag)
	r.GET("/sessions/:token", h.session)
	r.GET("/stats", h.stats)
	return r
}

// NewServer wraps engine in an http.Server listening on addr.
func NewServer(addr string, engine *gin.Engine) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Serve runs srv until ctx is cancelled, then shuts it down gracefully.
func Serve(ctx context.Context, srv *http.Server, logger zerolog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info().Msg("http server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

func (h *handler) index(c *gin.Context) {
	summary, err := h.router.Describe()
	if err != nil {
		c.String(http.StatusOK, "hexflow: No workflow loaded")
		return
	}
	c.String(http.StatusOK, "hexflow: Running workflow %q", summary.Name)
}

func (h *handler) status(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}

func (h *handler) start(c *gin.Context) {
	tr, err := h.router.Start(c.Request.Context())
	if err != nil {
		h.writeError(c, err, "", "")
		return
	}
	if h.cookie {
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(TokenCookie, tr.Session.WorkflowToken, 0, "/", "", false, true)
	}
	c.Redirect(http.StatusFound, tr.RedirectURL)
}

func (h *handler) next(c *gin.Context) {
	req, err := readAdvance(c)
	if err != nil {
		c.String(http.StatusBadRequest, "Malformed form submission")
		return
	}

	tr, err := h.router.Advance(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err, req.From, req.Token)
		return
	}
	if tr.Completed {
		c.String(http.StatusOK, "Workflow completed! Token: %s", tr.Session.WorkflowToken)
		return
	}
	c.Redirect(http.StatusFound, tr.RedirectURL)
}

func (h *handler) dag(c *gin.Context) {
	summary, err := h.router.Describe()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No workflow loaded"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *handler) session(c *gin.Context) {
	token := c.Param("token")
	rec, err := h.router.Session(c.Request.Context(), token)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, newSessionView(rec))
	case errors.Is(err, api.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Workflow session not found: " + token})
	default:
		h.log.Error().Err(err).Str("token", token).Msg("session lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

func (h *handler) stats(c *gin.Context) {
	body := gin.H{}
	if h.store != nil {
		stats, err := h.store.Stats(c.Request.Context())
		if err != nil {
			h.log.Error().Err(err).Msg("store stats failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}
		body["sessions"] = stats
	}
	if h.metrics != nil {
		body["metrics"] = h.metrics.Snapshot()
	}
	c.JSON(http.StatusOK, body)
}

// writeError maps router errors onto plain-text responses. Storage failures
// are logged with their cause and answered without internals.
func (h *handler) writeError(c *gin.Context, err error, from, token string) {
	var unknown *api.UnknownAppError
	switch {
	case errors.Is(err, api.ErrNoWorkflowLoaded):
		c.String(http.StatusBadRequest, "No workflow loaded")
	case errors.Is(err, api.ErrNoEntryPoint):
		c.String(http.StatusBadRequest, "No entry point defined in workflow")
	case errors.Is(err, api.ErrMissingParameter):
		if from == "" {
			c.String(http.StatusBadRequest, `Missing "from" parameter`)
		} else {
			c.String(http.StatusBadRequest, "Missing workflow_token")
		}
	case errors.As(err, &unknown):
		c.String(http.StatusBadRequest, "App %s not found", unknown.App)
	case errors.Is(err, api.ErrSessionNotFound):
		c.String(http.StatusNotFound, "Workflow session not found: %s", token)
	case errors.Is(err, api.ErrVersionConflict):
		c.String(http.StatusConflict, "Workflow session was updated concurrently, please resubmit")
	default:
		h.log.Error().Err(err).Str("from", from).Str("token", token).Msg("request failed")
		c.String(http.StatusInternalServerError, "Internal server error")
	}
}
