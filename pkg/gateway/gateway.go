// SPDX-FileCopyrightText: 2026 Kalypss
//
// SPDX-License-Identifier: Apache-2.0

// Package gateway composes the token authority, authorization gate, abuse
// controls and alert aggregator into the per-request security pipeline.
package gateway

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Kalypss/PortFolio/pkg/abuse"
	"github.com/Kalypss/PortFolio/pkg/alert"
	"github.com/Kalypss/PortFolio/pkg/audit"
	"github.com/Kalypss/PortFolio/pkg/authz"
	"github.com/Kalypss/PortFolio/pkg/denial"
	"github.com/Kalypss/PortFolio/pkg/metrics"
	"github.com/Kalypss/PortFolio/pkg/token"
	"github.com/Kalypss/PortFolio/pkg/utils"
)

const (
	APIKeyHeader = "X-Api-Key"

	tracerName = "github.com/Kalypss/PortFolio/pkg/gateway"
)

// Config holds the pipeline settings that do not belong to a component.
type Config struct {
	MaxBodyBytes   int64    `yaml:"maxBodyBytes"`
	AllowedOrigins []string `yaml:"allowedOrigins"`
	APIKeys        []string `yaml:"apiKeys"`

	// SlowRequestThreshold is the handler duration above which a request is
	// logged as slow. Zero disables the check.
	SlowRequestThreshold time.Duration `yaml:"slowRequestThreshold"`

	// Production hides the detail of authentication failures in responses.
	Production bool `yaml:"-"`
}

// DefaultConfig returns the default pipeline settings.
func DefaultConfig() Config {
	return Config{
		MaxBodyBytes:         10 << 20,
		SlowRequestThreshold: 5 * time.Second,
	}
}

// Components are the collaborators the pipeline delegates to. Alerts and
// SlowDown may be nil.
type Components struct {
	Tokens   *token.Authority
	Gate     *authz.Gate
	Limiter  *abuse.RateLimiter
	SlowDown *abuse.SlowDown
	Blocker  *abuse.Blocker
	Alerts   *alert.Aggregator
	Recorder *audit.Recorder
}

// Request is the transport-independent view of an inbound request.
type Request struct {
	Method string
	Path   string
	// RawPath is the path as sent, still percent-encoded. Empty when the
	// caller has no raw form.
	RawPath string
	Header  http.Header
	Query   url.Values

	// ContentLength is -1 when unknown.
	ContentLength int64

	// TransferEncoding lists the transfer codings. net/http moves the
	// Transfer-Encoding header here and drops it from Header.
	TransferEncoding []string

	ClientIP  string
	UserAgent string
	RequestID string
	Policy    Policy
}

// Decision is the result of a request that passed every check.
type Decision struct {
	Policy    Policy
	Principal *token.Principal

	// RateLimit is the state of the most constrained class, nil when the
	// route is not rate limited.
	RateLimit *abuse.Info

	// Delay is the slow-down wait to apply after the handler completes.
	Delay time.Duration
}

// Gateway runs the security pipeline.
type Gateway struct {
	cfg    Config
	c      Components
	routes Routes
	tracer trace.Tracer
	log    *zap.SugaredLogger
}

// Option customises a Gateway.
type Option func(*Gateway)

// WithRoutes replaces the default route table.
func WithRoutes(routes Routes) Option {
	return func(g *Gateway) { g.routes = routes }
}

// WithTracer sets the tracer used for pipeline spans.
func WithTracer(t trace.Tracer) Option {
	return func(g *Gateway) { g.tracer = t }
}

// New creates a Gateway. Tokens, Gate, Limiter and Blocker are required.
func New(cfg Config, c Components, log *zap.SugaredLogger, opts ...Option) (*Gateway, error) {
	if c.Tokens == nil || c.Gate == nil || c.Limiter == nil || c.Blocker == nil {
		return nil, errors.New("gateway requires a token authority, gate, rate limiter and blocker")
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultConfig().MaxBodyBytes
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	g := &Gateway{
		cfg:    cfg,
		c:      c,
		routes: DefaultRoutes(),
		tracer: otel.Tracer(tracerName),
		log:    log.Named("gateway"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Routes returns the route table.
func (g *Gateway) Routes() Routes {
	return g.routes
}

// Evaluate runs the pipeline for req. Checks run in a fixed order and the
// first failure wins: client blocking, path and framing integrity, rate
// limits, input screening, authentication, authorization. The returned error is always a
// *denial.Error.
func (g *Gateway) Evaluate(ctx context.Context, req *Request) (*Decision, error) {
	start := time.Now()
	defer func() { metrics.GatewayEvaluationDuration.Observe(time.Since(start).Seconds()) }()

	ctx = audit.WithClient(ctx, audit.ClientInfo{
		IP:        req.ClientIP,
		UserAgent: req.UserAgent,
		Method:    req.Method,
		Path:      req.Path,
		RequestID: req.RequestID,
	})
	ctx, span := g.tracer.Start(ctx, "gateway.evaluate", trace.WithAttributes(
		attribute.String("client.ip", req.ClientIP),
		attribute.String("http.method", req.Method),
		attribute.String("http.path", req.Path),
		attribute.String("gateway.policy", req.Policy.Name),
	))
	defer span.End()

	d, err := g.evaluate(ctx, req)
	if err != nil {
		de := denial.From(err)
		g.deny(ctx, req, de)
		span.SetAttributes(
			attribute.String("gateway.outcome", "deny"),
			attribute.String("gateway.code", string(de.Code)),
		)
		span.SetStatus(codes.Error, string(de.Code))
		return nil, de
	}

	metrics.GatewayDecisions.WithLabelValues("allow", "").Inc()
	span.SetAttributes(attribute.String("gateway.outcome", "allow"))
	if d.Principal != nil {
		span.SetAttributes(attribute.String("gateway.subject", d.Principal.Subject))
	}
	return d, nil
}

func (g *Gateway) evaluate(ctx context.Context, req *Request) (*Decision, error) {
	p := req.Policy
	d := &Decision{Policy: p}

	if g.c.Blocker.IsBlocked(req.ClientIP) {
		g.c.Recorder.Emit(ctx, audit.EventBlockedClientRequest, map[string]interface{}{"ip": req.ClientIP})
		return nil, denial.ErrClientBlocked
	}
	if p.Protected {
		if _, blocked := g.c.Blocker.Track(ctx, req.ClientIP); blocked {
			return nil, denial.ErrClientBlocked
		}
	}

	if ambiguousPath(req.Path, req.RawPath) {
		g.c.Recorder.Emit(ctx, audit.EventAmbiguousPath, map[string]interface{}{"rawPath": req.RawPath})
		return nil, denial.ErrAmbiguousPath
	}

	if err := g.checkFraming(ctx, req); err != nil {
		return nil, err
	}

	if err := g.checkRateLimits(ctx, req, d); err != nil {
		return nil, err
	}

	if err := g.screen(ctx, req); err != nil {
		return nil, err
	}

	if p.CheckOrigin {
		if err := g.checkOrigin(ctx, req); err != nil {
			return nil, err
		}
	}
	if p.RequireAPIKey {
		if err := g.checkAPIKey(ctx, req); err != nil {
			return nil, err
		}
	}

	switch p.Auth {
	case AuthRequired:
		principal, err := g.c.Tokens.Verify(ctx, req.Header.Get(token.AuthHeaderKey))
		if err != nil {
			return nil, err
		}
		d.Principal = principal
	case AuthOptional:
		if h := req.Header.Get(token.AuthHeaderKey); h != "" {
			if principal, err := g.c.Tokens.Verify(ctx, h); err == nil {
				d.Principal = principal
			}
		}
	}

	if len(p.Roles) > 0 {
		if err := g.c.Gate.Authorize(ctx, d.Principal, p.Roles...); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func (g *Gateway) checkFraming(ctx context.Context, req *Request) error {
	hasLength := req.Header.Get("Content-Length") != "" || req.ContentLength > 0
	hasChunked := len(req.TransferEncoding) > 0 || req.Header.Get("Transfer-Encoding") != ""
	if hasLength && hasChunked {
		g.c.Recorder.Emit(ctx, audit.EventRequestSmuggling, map[string]interface{}{
			"contentLength":    req.ContentLength,
			"transferEncoding": strings.Join(req.TransferEncoding, ","),
		})
		return denial.ErrBadRequestFraming
	}
	if req.ContentLength > g.cfg.MaxBodyBytes {
		g.c.Recorder.Emit(ctx, audit.EventPayloadTooLarge, map[string]interface{}{
			"contentLength": req.ContentLength,
			"maxBytes":      g.cfg.MaxBodyBytes,
		})
		return denial.ErrPayloadTooLarge
	}
	return nil
}

func (g *Gateway) checkRateLimits(ctx context.Context, req *Request, d *Decision) error {
	classes := req.Policy.Classes
	if !req.Policy.SkipGlobal {
		classes = append([]abuse.Class{abuse.ClassGlobal}, classes...)
	}
	for _, class := range classes {
		info, err := g.c.Limiter.Allow(req.ClientIP, class)
		if err != nil {
			var de *denial.Error
			if errors.As(err, &de) && de.Code == denial.CodeRateLimitExceeded {
				g.c.Recorder.Emit(ctx, audit.EventRateLimitExceeded, map[string]interface{}{
					"class":      string(class),
					"limit":      info.Limit,
					"retryAfter": de.RetryAfterSeconds(),
				})
			}
			return err
		}
		if d.RateLimit == nil || info.Remaining < d.RateLimit.Remaining {
			i := info
			d.RateLimit = &i
		}
	}

	if !req.Policy.SkipGlobal && g.c.SlowDown != nil {
		d.Delay = g.c.SlowDown.Delay(req.ClientIP)
	}
	return nil
}

func (g *Gateway) screen(ctx context.Context, req *Request) error {
	if name, ok := injectedHeader(req.Header); ok {
		g.c.Recorder.Emit(ctx, audit.EventHeaderInjection, map[string]interface{}{"header": strings.ToLower(name)})
		return denial.ErrHeaderInjection
	}
	if key, ok := nosqlQueryParam(req.Query); ok {
		g.c.Recorder.Emit(ctx, audit.EventNoSQLInjection, map[string]interface{}{"param": key})
		return denial.ErrNoSQLInjection
	}
	if isScanner(req.UserAgent) {
		g.c.Recorder.Emit(ctx, audit.EventMaliciousBot, map[string]interface{}{"userAgent": req.UserAgent})
		return denial.ErrMaliciousUserAgent
	}
	if found := presentSuspiciousHeaders(req.Header); len(found) > 0 {
		g.c.Recorder.Emit(ctx, audit.EventSuspiciousHeaders, map[string]interface{}{"headers": found})
	}
	return nil
}

func (g *Gateway) checkOrigin(ctx context.Context, req *Request) error {
	origin := req.Header.Get("Origin")
	if origin == "" {
		if ref, err := url.Parse(req.Header.Get("Referer")); err == nil && ref.Host != "" {
			origin = ref.Scheme + "://" + ref.Host
		}
	}
	if origin == "" {
		g.c.Recorder.Emit(ctx, audit.EventOriginMissing, nil)
		return denial.ErrMissingOrigin
	}
	if !utils.MatchOriginAny(g.cfg.AllowedOrigins, origin) {
		g.c.Recorder.Emit(ctx, audit.EventOriginRejected, map[string]interface{}{"origin": origin})
		return denial.ErrOriginRejected
	}
	return nil
}

func (g *Gateway) checkAPIKey(ctx context.Context, req *Request) error {
	key := req.Header.Get(APIKeyHeader)
	if key == "" {
		g.c.Recorder.Emit(ctx, audit.EventAPIKeyMissing, nil)
		return denial.ErrMissingAPIKey
	}
	valid := 0
	for _, k := range g.cfg.APIKeys {
		valid |= subtle.ConstantTimeCompare([]byte(key), []byte(k))
	}
	if valid != 1 {
		g.c.Recorder.Emit(ctx, audit.EventAPIKeyInvalid, map[string]interface{}{"keyFingerprint": audit.Fingerprint(key)})
		return denial.ErrInvalidAPIKey
	}
	return nil
}

// deny accounts for a refused request. The component that refused it has
// already recorded its security event.
func (g *Gateway) deny(ctx context.Context, req *Request, de *denial.Error) {
	metrics.GatewayDecisions.WithLabelValues("deny", string(de.Code)).Inc()

	if de.Code == denial.CodeInternal {
		g.log.Errorw("Gateway evaluation failed", "ip", req.ClientIP, "path", req.Path, "error", de)
		g.c.Recorder.Emit(ctx, audit.EventInternalFailure, map[string]interface{}{"error": de.Error()})
		return
	}
	g.log.Debugw("Request denied", "ip", req.ClientIP, "path", req.Path, "policy", req.Policy.Name, "code", de.Code)

	if g.c.Alerts == nil {
		return
	}
	if kind := KindForCode(de.Code); kind != alert.KindUnknown {
		g.c.Alerts.RecordEvent(ctx, kind, map[string]interface{}{
			"ip":   req.ClientIP,
			"path": req.Path,
			"code": string(de.Code),
		})
	}
}

// KindForCode maps a denial code to the alert kind it feeds. Internal
// errors map to KindUnknown and never raise alerts.
func KindForCode(code denial.Code) alert.Kind {
	switch code {
	case denial.CodeClientBlocked:
		return alert.KindBlockedIP
	case denial.CodeHeaderInjection, denial.CodeNoSQLInjection, denial.CodeAmbiguousPath:
		return alert.KindInjectionAttempt
	case denial.CodeRateLimitExceeded:
		return alert.KindRateLimitHit
	case denial.CodeMissingToken, denial.CodeMalformedToken, denial.CodeRevokedToken,
		denial.CodeExpiredToken, denial.CodeInvalidSignatureClaims, denial.CodeUnauthenticated:
		return alert.KindAuthFailure
	case denial.CodeInsufficientPrivileges:
		return alert.KindPrivilegeEscalation
	case denial.CodeBadRequestFraming:
		return alert.KindRequestSmuggling
	case denial.CodePayloadTooLarge:
		return alert.KindPayloadTooLarge
	case denial.CodeMissingOrigin, denial.CodeOriginRejected:
		return alert.KindOriginRejected
	case denial.CodeMissingAPIKey, denial.CodeInvalidAPIKey:
		return alert.KindAPIKeyRejected
	case denial.CodeMaliciousUserAgent:
		return alert.KindMaliciousBot
	default:
		return alert.KindUnknown
	}
}
