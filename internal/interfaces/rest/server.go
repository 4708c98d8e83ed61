// Package rest exposes the protocol over HTTP. Every mutating endpoint acts
// as the authenticated token actor; service-level role checks stay in the
// domain and surface here as 403s.
package rest

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"quantillon/internal/application/service"
	"quantillon/internal/domain"
	domainservice "quantillon/internal/domain/service"
)

type ServerDeps struct {
	Listen    string
	JWTSecret string

	Oracle   *service.Oracle
	Vault    *service.Vault
	Hedger   *service.HedgerPool
	Users    *service.UserPool
	Stq      *service.StQEURO
	Yield    *service.YieldShift
	Gov      *service.Governance
	Timelock *service.Timelock
	Access   *domainservice.AccessControl
	Params   *domainservice.ParamStore
}

type Server struct {
	deps ServerDeps
	http *http.Server
}

func NewServer(deps ServerDeps) *Server {
	s := &Server{deps: deps}
	s.http = &http.Server{
		Addr:              deps.Listen,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Router builds the gin engine. Split out from Run so tests can drive it
// with httptest.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api/v1")
	api.Use(JWTAuth(s.deps.JWTSecret))

	s.mountVault(api)
	s.mountHedger(api)
	s.mountPools(api)
	s.mountGovernance(api)

	api.GET("/params", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.deps.Params.All())
	})

	// Pause and breaker control have no service-side actor check, so the
	// emergency role is enforced on the token here.
	admin := api.Group("/admin")
	admin.Use(RequireTokenRole(domainservice.RoleEmergency))
	admin.POST("/pause/:component", s.setPaused(true))
	admin.POST("/unpause/:component", s.setPaused(false))
	admin.POST("/oracle/reset", func(c *gin.Context) {
		s.deps.Oracle.ResetBreaker()
		log.Info().Str("actor", actorFrom(c)).Msg("oracle breaker reset")
		c.JSON(http.StatusOK, s.deps.Oracle.Status())
	})
	admin.POST("/oracle/trip", func(c *gin.Context) {
		var req struct {
			Reason string `json:"reason"`
		}
		_ = c.ShouldBindJSON(&req)
		s.deps.Oracle.TripBreaker(req.Reason)
		log.Warn().Str("actor", actorFrom(c)).Str("reason", req.Reason).Msg("oracle breaker tripped")
		c.JSON(http.StatusOK, s.deps.Oracle.Status())
	})

	return r
}

func (s *Server) setPaused(paused bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		component := c.Param("component")
		s.deps.Access.SetPaused(component, paused)
		log.Warn().
			Str("actor", actorFrom(c)).
			Str("component", component).
			Bool("paused", paused).
			Msg("pause state changed")
		c.JSON(http.StatusOK, gin.H{"component": component, "paused": paused})
	}
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("listen", s.http.Addr).Msg("api server listening")
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.http.Shutdown(shutCtx)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("http request")
	}
}

// httpStatus maps domain failures onto HTTP codes. Anything unrecognized is
// a plain bad request.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrAlreadyExists), errors.Is(err, domain.ErrAlreadyVoted):
		return http.StatusConflict
	case errors.Is(err, domain.ErrWouldExceedLimit):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrPaused), errors.Is(err, domain.ErrPriceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

func abortErr(c *gin.Context, err error) {
	c.AbortWithStatusJSON(httpStatus(err), gin.H{"error": err.Error()})
}
