// SPDX-FileCopyrightText: 2026 Kalypss
//
// SPDX-License-Identifier: Apache-2.0

// Package authz enforces role requirements on authenticated principals.
package authz

import (
	"context"
	"slices"

	"github.com/Kalypss/PortFolio/pkg/audit"
	"github.com/Kalypss/PortFolio/pkg/denial"
	"github.com/Kalypss/PortFolio/pkg/token"
)

// Well-known roles.
const (
	RoleAdmin  = "admin"
	RoleEditor = "editor"
	RoleGuest  = "guest"
)

// Gate checks principals against the roles a route allows. It keeps no state
// besides the recorder.
type Gate struct {
	recorder *audit.Recorder
}

// NewGate creates a Gate that records denials to recorder.
func NewGate(recorder *audit.Recorder) *Gate {
	return &Gate{recorder: recorder}
}

// Authorize returns nil when p holds one of allowedRoles. An empty
// allowedRoles admits any authenticated principal.
func (g *Gate) Authorize(ctx context.Context, p *token.Principal, allowedRoles ...string) error {
	if p == nil {
		g.recorder.Emit(ctx, audit.EventAuthzUnauthenticated, map[string]interface{}{
			"requiredRoles": allowedRoles,
		})
		return denial.ErrUnauthenticated
	}
	if len(allowedRoles) == 0 || slices.Contains(allowedRoles, p.Role) {
		return nil
	}

	e := g.recorder.NewEvent(ctx, audit.EventAuthzDenied)
	e.Subject = p.Subject
	e.Details = map[string]interface{}{
		"requiredRoles": allowedRoles,
		"actualRole":    p.Role,
	}
	g.recorder.Record(ctx, e)
	return denial.ErrInsufficientPrivileges
}
