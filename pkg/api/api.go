// SPDX-FileCopyrightText: 2026 Kalypss
//
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sort"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Kalypss/PortFolio/pkg/abuse"
	"github.com/Kalypss/PortFolio/pkg/apiresponses"
	"github.com/Kalypss/PortFolio/pkg/audit"
	"github.com/Kalypss/PortFolio/pkg/authz"
	"github.com/Kalypss/PortFolio/pkg/config"
	"github.com/Kalypss/PortFolio/pkg/gateway"
	"github.com/Kalypss/PortFolio/pkg/metrics"
	"github.com/Kalypss/PortFolio/pkg/system"
	"github.com/Kalypss/PortFolio/pkg/token"
	"github.com/Kalypss/PortFolio/pkg/utils"
	"github.com/Kalypss/PortFolio/pkg/version"
)

// Dependencies are the components the operator routes act on.
type Dependencies struct {
	Gateway  *gateway.Gateway
	Tokens   *token.Authority
	Gate     *authz.Gate
	Blocker  *abuse.Blocker
	Recorder *audit.Recorder
}

type Server struct {
	gin       *gin.Engine
	config    config.Config
	deps      Dependencies
	log       *zap.SugaredLogger
	startedAt time.Time
}

func NewServer(log *zap.Logger, cfg config.Config, deps Dependencies) (*Server, error) {
	if deps.Gateway == nil || deps.Tokens == nil || deps.Gate == nil || deps.Blocker == nil || deps.Recorder == nil {
		return nil, errors.New("api server requires the gateway, token authority, gate, blocker and recorder")
	}
	if !cfg.Log.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	// An empty list disables X-Forwarded-For handling so that clients cannot
	// pick their own IP.
	if err := engine.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		return nil, fmt.Errorf("invalid trusted proxies: %w", err)
	}

	s := &Server{
		gin:       engine,
		config:    cfg,
		deps:      deps,
		log:       log.Sugar().Named("api"),
		startedAt: time.Now(),
	}

	engine.Use(
		ginzap.Ginzap(log, time.RFC3339, true),
		ginzap.CustomRecoveryWithZap(log, true, recoverWithJSON),
		securityHeaders(),
	)
	if origins := cfg.Gateway.AllowedOrigins; len(origins) > 0 {
		engine.Use(cors.New(cors.Config{
			AllowOriginFunc:  func(origin string) bool { return utils.MatchOriginAny(origins, origin) },
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Authorization", "Content-Type", gateway.APIKeyHeader},
			ExposeHeaders:    []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}
	engine.Use(
		system.RequestLogger(s.log),
		deps.Gateway.Middleware(),
	)

	engine.GET("/health", s.health)
	engine.GET("/metrics", gin.WrapH(metrics.MetricsHandler()))

	api := engine.Group("/api")
	api.GET("/limits", s.limits)
	api.POST("/auth/revoke", s.revoke)

	admin := api.Group("/admin")
	admin.GET("/blocked", s.listBlocked)
	admin.DELETE("/blocked/:ip", s.unblock)

	if cfg.Server.UpstreamURL != "" {
		proxy, err := s.newUpstreamProxy(cfg.Server.UpstreamURL)
		if err != nil {
			return nil, err
		}
		engine.NoRoute(proxyTo(proxy))
	} else {
		engine.NoRoute(s.notFound)
	}

	return s, nil
}

// Handler returns the gin engine. Tests serve it through httptest.
func (s *Server) Handler() http.Handler {
	return s.gin
}

// Listen serves until ctx is cancelled, then shuts down gracefully within
// the configured shutdown timeout.
func (s *Server) Listen(ctx context.Context) error {
	sc := s.config.Server
	srv := &http.Server{
		Addr:              sc.ListenAddress,
		Handler:           s.gin,
		ReadHeaderTimeout: sc.ReadHeaderTimeout,
		ReadTimeout:       sc.ReadTimeout,
		WriteTimeout:      sc.WriteTimeout,
		IdleTimeout:       sc.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infow("Starting gateway server", "address", sc.ListenAddress, "tls", sc.TLSCertFile != "", "upstream", sc.UpstreamURL)
		var err error
		if sc.TLSCertFile != "" && sc.TLSKeyFile != "" {
			err = srv.ListenAndServeTLS(sc.TLSCertFile, sc.TLSKeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("gateway server: %w", err)
	case <-ctx.Done():
	}

	s.log.Infow("Shutting down gateway server", "timeout", sc.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), sc.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down gateway server: %w", err)
	}
	return nil
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains; preload")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("X-XSS-Protection", "0")
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		h.Del("X-Powered-By")
		c.Next()
	}
}

// recoverWithJSON answers a panicking handler with the sanitized 500 body.
// An aborted proxy response is passed on so net/http drops the connection.
func recoverWithJSON(c *gin.Context, err any) {
	if err == http.ErrAbortHandler {
		panic(err)
	}
	apiresponses.RespondInternalError(c, "handle request", fmt.Errorf("panic: %v", err), nil)
	c.Abort()
}

type ginContextKey struct{}

// proxyTo forwards the request upstream. The gin context travels on the
// request context so the proxy error handler can answer through it.
func proxyTo(proxy *httputil.ReverseProxy) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := context.WithValue(c.Request.Context(), ginContextKey{}, c)
		proxy.ServeHTTP(c.Writer, c.Request.WithContext(ctx))
	}
}

func (s *Server) newUpstreamProxy(raw string) (*httputil.ReverseProxy, error) {
	target, err := url.Parse(raw)
	if err != nil || target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("invalid upstream URL %q", raw)
	}
	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ModifyResponse = func(resp *http.Response) error {
		resp.Header.Del("X-Powered-By")
		return nil
	}
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		s.log.Warnw("Upstream request failed", "path", r.URL.Path, "error", err)
		if c, ok := r.Context().Value(ginContextKey{}).(*gin.Context); ok {
			apiresponses.RespondBadGateway(c, "upstream unavailable")
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	}
	return proxy, nil
}

func (s *Server) notFound(c *gin.Context) {
	s.deps.Recorder.Emit(c.Request.Context(), audit.EventRouteNotFound, nil)
	apiresponses.RespondNotFoundSimple(c, fmt.Sprintf("route %s %s does not exist", c.Request.Method, c.Request.URL.Path))
}

type healthResponse struct {
	Status        string  `json:"status"`
	Timestamp     string  `json:"timestamp"`
	UptimeSeconds float64 `json:"uptime"`
	Environment   string  `json:"environment"`
	Version       string  `json:"version"`
}

func (s *Server) health(c *gin.Context) {
	apiresponses.RespondOK(c, healthResponse{
		Status:        "OK",
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		UptimeSeconds: time.Since(s.startedAt).Seconds(),
		Environment:   s.config.Environment,
		Version:       version.Version,
	})
}

type limitResponse struct {
	Class         abuse.Class `json:"class"`
	WindowSeconds int64       `json:"windowSeconds"`
	Max           int         `json:"max"`
}

func (s *Server) limits(c *gin.Context) {
	out := make([]limitResponse, 0, len(s.config.RateLimits))
	for class, l := range s.config.RateLimits {
		out = append(out, limitResponse{Class: class, WindowSeconds: int64(l.Window.Seconds()), Max: l.Max})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Class < out[j].Class })
	apiresponses.RespondOK(c, out)
}

type revokeRequest struct {
	Token string `json:"token"`
}

// revoke invalidates the caller's own token, or the token in the body when
// the caller is an admin.
func (s *Server) revoke(c *gin.Context) {
	ctx := c.Request.Context()
	log := system.EnrichReqLoggerWithAuth(c, system.GetReqLogger(c, s.log))

	var req revokeRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		apiresponses.RespondBadRequest(c, "invalid JSON body")
		return
	}

	target := req.Token
	if target != "" {
		if err := s.deps.Gate.Authorize(ctx, token.PrincipalFrom(ctx), authz.RoleAdmin); err != nil {
			apiresponses.AbortWithDenial(c, err, s.config.Production())
			return
		}
	} else {
		target = c.GetHeader(token.AuthHeaderKey)
	}

	if err := s.deps.Tokens.Revoke(ctx, target); err != nil {
		log.Debugw("Token revocation rejected", "error", err)
		apiresponses.RespondBadRequest(c, "token could not be revoked")
		return
	}
	log.Infow("Token revoked", "own", req.Token == "")
	apiresponses.RespondOK(c, gin.H{"revoked": true})
}

func (s *Server) listBlocked(c *gin.Context) {
	blocked := s.deps.Blocker.Blocked()
	if blocked == nil {
		blocked = []abuse.BlockedClient{}
	}
	apiresponses.RespondOK(c, blocked)
}

func (s *Server) unblock(c *gin.Context) {
	ip := c.Param("ip")
	if !s.deps.Blocker.Unblock(c.Request.Context(), ip) {
		apiresponses.RespondNotFound(c, "blocked client", ip)
		return
	}
	system.EnrichReqLoggerWithAuth(c, system.GetReqLogger(c, s.log)).Infow("Client unblocked by operator", "client", ip)
	apiresponses.RespondNoContent(c)
}
