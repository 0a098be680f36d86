// SPDX-FileCopyrightText: 2026 Kalypss
//
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"github.com/Kalypss/PortFolio/pkg/abuse"
	"github.com/Kalypss/PortFolio/pkg/authz"
	"github.com/Kalypss/PortFolio/pkg/utils"
)

// AuthMode selects how a route treats bearer tokens.
type AuthMode int

const (
	// AuthNone ignores the Authorization header.
	AuthNone AuthMode = iota
	// AuthOptional resolves a principal when a valid token is presented and
	// continues anonymously otherwise.
	AuthOptional
	// AuthRequired denies requests without a valid token.
	AuthRequired
)

func (m AuthMode) String() string {
	switch m {
	case AuthOptional:
		return "optional"
	case AuthRequired:
		return "required"
	default:
		return "none"
	}
}

// Policy is the set of checks applied to a route.
type Policy struct {
	Name string
	// Protected routes feed the suspicious-activity counter.
	Protected bool
	// SkipGlobal exempts the route from the global class and slow-down.
	SkipGlobal    bool
	Classes       []abuse.Class
	Auth          AuthMode
	Roles         []string
	CheckOrigin   bool
	RequireAPIKey bool
}

// Route binds a path pattern (see utils.MatchPath) to a policy.
type Route struct {
	Pattern string
	Policy  Policy
}

// Routes is an ordered route table; the first matching pattern wins.
type Routes []Route

// DefaultPolicy applies to paths no route matches.
var DefaultPolicy = Policy{Name: "default"}

// DefaultRoutes returns the built-in route table.
func DefaultRoutes() Routes {
	return Routes{
		{Pattern: "/health", Policy: Policy{Name: "health", SkipGlobal: true}},
		{Pattern: "/weather-icons/**", Policy: Policy{Name: "weather-icons", SkipGlobal: true}},
		{Pattern: "/metrics", Policy: Policy{Name: "metrics", SkipGlobal: true}},
		{Pattern: "/api/auth/revoke", Policy: Policy{
			Name:      "auth-revoke",
			Protected: true,
			Classes:   []abuse.Class{abuse.ClassStrict},
			Auth:      AuthRequired,
		}},
		{Pattern: "/api/admin/**", Policy: Policy{
			Name:      "admin",
			Protected: true,
			Classes:   []abuse.Class{abuse.ClassStrict},
			Auth:      AuthRequired,
			Roles:     []string{authz.RoleAdmin},
		}},
		{Pattern: "/api/github/**", Policy: Policy{
			Name:      "github",
			Protected: true,
			Classes:   []abuse.Class{abuse.ClassGitHub},
			Auth:      AuthOptional,
		}},
		{Pattern: "/api/weather/**", Policy: Policy{
			Name:      "weather",
			Protected: true,
			Classes:   []abuse.Class{abuse.ClassWeather},
			Auth:      AuthOptional,
		}},
		{Pattern: "/api/contact", Policy: Policy{
			Name:        "contact",
			Protected:   true,
			Classes:     []abuse.Class{abuse.ClassStrict},
			CheckOrigin: true,
		}},
		{Pattern: "/api/**", Policy: Policy{Name: "api", Protected: true, Auth: AuthOptional}},
	}
}

// Match returns the policy of the first route matching path. The path is
// cleaned and lowercased first; patterns are written in lower case.
func (r Routes) Match(path string) Policy {
	path = utils.CanonicalPath(path)
	for _, route := range r {
		if utils.MatchPath(route.Pattern, path) {
			return route.Policy
		}
	}
	return DefaultPolicy
}
