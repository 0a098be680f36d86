// SPDX-FileCopyrightText: 2026 Kalypss
//
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Kalypss/PortFolio/pkg/apiresponses"
	"github.com/Kalypss/PortFolio/pkg/audit"
	"github.com/Kalypss/PortFolio/pkg/metrics"
	"github.com/Kalypss/PortFolio/pkg/system"
	"github.com/Kalypss/PortFolio/pkg/token"
)

const requestIDHeader = "X-Request-Id"

// Middleware returns the gin middleware that runs the pipeline in front of
// every handler.
func (g *Gateway) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		req := g.requestFrom(c)
		d, err := g.Evaluate(c.Request.Context(), req)
		if err != nil {
			apiresponses.AbortWithDenial(c, err, g.cfg.Production)
			return
		}

		ctx := audit.WithClient(c.Request.Context(), audit.ClientInfo{
			IP:        req.ClientIP,
			UserAgent: req.UserAgent,
			Method:    req.Method,
			Path:      req.Path,
			RequestID: req.RequestID,
		})
		if d.Principal != nil {
			c.Set(token.PrincipalContextKey, d.Principal)
			ctx = token.WithPrincipal(ctx, d.Principal)
		}
		c.Request = c.Request.WithContext(ctx)
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, g.cfg.MaxBodyBytes)
		}

		if rl := d.RateLimit; rl != nil {
			c.Header("X-RateLimit-Limit", strconv.Itoa(rl.Limit))
			c.Header("X-RateLimit-Remaining", strconv.Itoa(rl.Remaining))
			c.Header("X-RateLimit-Reset", strconv.FormatInt(rl.ResetAt.Unix(), 10))
		}

		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		if d.Delay > 0 {
			g.applyDelay(c, d.Delay)
		}
		if t := g.cfg.SlowRequestThreshold; t > 0 && elapsed > t {
			log := system.EnrichReqLoggerWithAuth(c, system.GetReqLogger(c, g.log))
			log.Warnw("Slow request", "method", req.Method, "status", c.Writer.Status(), "duration", elapsed)
			g.c.Recorder.Emit(ctx, audit.EventSlowRequest, map[string]interface{}{
				"durationMs": elapsed.Milliseconds(),
				"status":     c.Writer.Status(),
			})
		}
	}
}

// applyDelay waits for delay unless the client goes away first.
func (g *Gateway) applyDelay(c *gin.Context, delay time.Duration) {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		metrics.SlowDownDelay.Observe(delay.Seconds())
		g.c.Recorder.Emit(c.Request.Context(), audit.EventSlowDownApplied, map[string]interface{}{
			"delayMs": delay.Milliseconds(),
		})
	case <-c.Request.Context().Done():
	}
}

func (g *Gateway) requestFrom(c *gin.Context) *Request {
	r := c.Request
	requestID := r.Header.Get(requestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header(requestIDHeader, requestID)

	return &Request{
		Method:           r.Method,
		Path:             r.URL.Path,
		RawPath:          r.URL.EscapedPath(),
		Header:           r.Header,
		Query:            r.URL.Query(),
		ContentLength:    r.ContentLength,
		TransferEncoding: r.TransferEncoding,
		ClientIP:         c.ClientIP(),
		UserAgent:        r.UserAgent(),
		RequestID:        requestID,
		Policy:           g.routes.Match(r.URL.Path),
	}
}
