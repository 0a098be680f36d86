// SPDX-FileCopyrightText: 2026 Kalypss
//
// SPDX-License-Identifier: Apache-2.0

// Package token issues, verifies and revokes the HS256 bearer tokens that
// authenticate gateway requests.
package token

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/Kalypss/PortFolio/pkg/audit"
	"github.com/Kalypss/PortFolio/pkg/denial"
	"github.com/Kalypss/PortFolio/pkg/metrics"
)

const (
	AuthHeaderKey = "Authorization"
	bearerPrefix  = "Bearer "
)

// signingMethod is the only accepted algorithm.
var signingMethod = jwt.SigningMethodHS256

// Config holds the signing and claim settings.
type Config struct {
	Secret   string        `yaml:"secret"`
	Lifetime time.Duration `yaml:"lifetime"`
	Issuer   string        `yaml:"issuer"`
	Audience string        `yaml:"audience"`
}

// DefaultConfig returns the defaults for everything except the secret, which
// must always be provided.
func DefaultConfig() Config {
	return Config{
		Lifetime: time.Hour,
		Issuer:   "portfolio-backend",
		Audience: "portfolio-frontend",
	}
}

// Claims is the caller-supplied part of a token.
type Claims struct {
	Subject string
	Role    string
}

// Principal is the identity decoded from a verified token.
type Principal struct {
	Subject   string
	Role      string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Issuer    string
	Audience  []string
	TokenID   string
}

type tokenClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Authority issues and verifies tokens and owns the revocation set.
type Authority struct {
	cfg      Config
	key      []byte
	parser   *jwt.Parser
	revoked  *revocationSet
	clock    clock.PassiveClock
	recorder *audit.Recorder
	log      *zap.SugaredLogger
}

// Option customises an Authority.
type Option func(*Authority)

// WithRevocationStore persists revocations to store in addition to memory.
func WithRevocationStore(store RevocationStore) Option {
	return func(a *Authority) { a.revoked.store = store }
}

// WithLogger sets the logger.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(a *Authority) { a.log = log }
}

// New creates an Authority reading time from clk. It refuses to start without
// a secret so that a misconfigured key can never produce an authority that
// accepts tokens.
func New(cfg Config, recorder *audit.Recorder, clk clock.PassiveClock, opts ...Option) (*Authority, error) {
	if cfg.Secret == "" {
		return nil, errors.New("token signing secret is required")
	}
	if cfg.Lifetime <= 0 {
		return nil, fmt.Errorf("token lifetime must be positive, got %s", cfg.Lifetime)
	}
	if cfg.Issuer == "" || cfg.Audience == "" {
		return nil, errors.New("token issuer and audience are required")
	}

	if clk == nil {
		clk = clock.RealClock{}
	}
	a := &Authority{
		cfg: cfg,
		key: []byte(cfg.Secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{signingMethod.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
		revoked:  newRevocationSet(),
		clock:    clk,
		recorder: recorder,
		log:      zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.revoked.log = a.log
	return a, nil
}

// Config returns the authority's configuration with the secret removed.
func (a *Authority) Config() Config {
	c := a.cfg
	c.Secret = ""
	return c
}

// Issue signs a token for claims. It returns the token and its expiry.
func (a *Authority) Issue(ctx context.Context, claims Claims) (string, time.Time, error) {
	if claims.Subject == "" || claims.Role == "" {
		return "", time.Time{}, errors.New("subject and role are required")
	}
	now := a.clock.Now().UTC().Truncate(time.Second)
	exp := now.Add(a.cfg.Lifetime)

	tc := tokenClaims{
		Role: claims.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claims.Subject,
			Issuer:    a.cfg.Issuer,
			Audience:  jwt.ClaimStrings{a.cfg.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(signingMethod, tc).SignedString(a.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing token: %w", err)
	}

	metrics.TokensIssued.Inc()
	e := a.recorder.NewEvent(ctx, audit.EventTokenIssued)
	e.Subject = claims.Subject
	e.TokenFingerprint = audit.Fingerprint(signed)
	e.Details = map[string]interface{}{"role": claims.Role, "expiresAt": exp}
	a.recorder.Record(ctx, e)

	return signed, exp, nil
}

// Verify authenticates the value of an Authorization header. Every outcome
// records its own security event before returning.
func (a *Authority) Verify(ctx context.Context, authorization string) (*Principal, error) {
	if strings.TrimSpace(authorization) == "" {
		a.emit(ctx, audit.EventAuthMissingToken, "", "", nil)
		return nil, denial.ErrMissingToken
	}
	if !strings.HasPrefix(authorization, bearerPrefix) {
		a.emit(ctx, audit.EventAuthMalformedToken, "", "", map[string]interface{}{"reason": "missing bearer scheme"})
		return nil, denial.ErrMalformedToken
	}
	raw := strings.TrimSpace(authorization[len(bearerPrefix):])
	fp := audit.Fingerprint(raw)
	if raw == "" || strings.Count(raw, ".") != 2 {
		a.emit(ctx, audit.EventAuthMalformedToken, fp, "", map[string]interface{}{"reason": "not a compact JWS"})
		return nil, denial.ErrMalformedToken
	}

	if a.revoked.contains(hashToken(raw)) {
		a.emit(ctx, audit.EventAuthRevokedToken, fp, "", nil)
		return nil, denial.ErrRevokedToken
	}

	var tc tokenClaims
	_, err := a.parser.ParseWithClaims(raw, &tc, a.keyFunc)
	if err != nil {
		var ve *jwt.ValidationError
		if errors.As(err, &ve) && ve.Errors&jwt.ValidationErrorMalformed != 0 {
			a.emit(ctx, audit.EventAuthMalformedToken, fp, "", map[string]interface{}{"reason": "undecodable token"})
			return nil, denial.Wrap(denial.ErrMalformedToken, err)
		}
		a.emit(ctx, audit.EventAuthInvalidToken, fp, "", map[string]interface{}{"reason": err.Error()})
		return nil, denial.Wrap(denial.ErrInvalidSignatureClaims, err)
	}

	// The signature is valid from here on, so the claims can be trusted.
	if tc.ExpiresAt == nil || tc.IssuedAt == nil || tc.Subject == "" || tc.Role == "" {
		a.emit(ctx, audit.EventAuthInvalidToken, fp, tc.Subject, map[string]interface{}{"reason": "missing required claims"})
		return nil, denial.ErrInvalidSignatureClaims
	}
	if tc.Issuer != a.cfg.Issuer || !slices.Contains(tc.Audience, a.cfg.Audience) {
		a.emit(ctx, audit.EventAuthInvalidToken, fp, tc.Subject, map[string]interface{}{
			"reason":   "issuer or audience mismatch",
			"issuer":   tc.Issuer,
			"audience": []string(tc.Audience),
		})
		return nil, denial.ErrInvalidSignatureClaims
	}
	if !tc.ExpiresAt.Time.After(a.clock.Now()) {
		a.emit(ctx, audit.EventAuthExpiredToken, fp, tc.Subject, map[string]interface{}{"expiredAt": tc.ExpiresAt.Time})
		return nil, denial.ErrExpiredToken
	}

	p := &Principal{
		Subject:   tc.Subject,
		Role:      tc.Role,
		IssuedAt:  tc.IssuedAt.Time,
		ExpiresAt: tc.ExpiresAt.Time,
		Issuer:    tc.Issuer,
		Audience:  tc.Audience,
		TokenID:   tc.ID,
	}
	a.emit(ctx, audit.EventAuthSuccess, fp, p.Subject, map[string]interface{}{"role": p.Role})
	return p, nil
}

func (a *Authority) keyFunc(t *jwt.Token) (interface{}, error) {
	if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
	}
	if len(a.key) == 0 {
		return nil, errors.New("signing key not configured")
	}
	return a.key, nil
}

// Revoke adds token to the revocation set. An optional "Bearer " prefix is
// stripped. Entries are kept until the token's own expiry has passed.
func (a *Authority) Revoke(ctx context.Context, token string) error {
	raw := rawToken(token)
	if raw == "" {
		return denial.ErrMissingToken
	}

	// The expiry is only used to bound how long the entry is kept, so it is
	// read without verifying the signature. Tokens without a readable expiry
	// are stored with a zero expiry and dropped on the next sweep; Verify
	// rejects them anyway.
	var expiresAt time.Time
	var tc tokenClaims
	if _, _, err := a.parser.ParseUnverified(raw, &tc); err == nil && tc.ExpiresAt != nil {
		expiresAt = tc.ExpiresAt.Time
	}

	a.revoked.add(ctx, hashToken(raw), expiresAt)
	metrics.RevokedTokens.Set(float64(a.revoked.len()))

	e := a.recorder.NewEvent(ctx, audit.EventTokenRevoked)
	e.Subject = tc.Subject
	e.TokenFingerprint = audit.Fingerprint(raw)
	e.Details = map[string]interface{}{"expiresAt": expiresAt}
	a.recorder.Record(ctx, e)
	return nil
}

// IsRevoked reports whether token is in the revocation set.
func (a *Authority) IsRevoked(token string) bool {
	return a.revoked.contains(hashToken(rawToken(token)))
}

// RevokedCount returns the size of the revocation set.
func (a *Authority) RevokedCount() int {
	return a.revoked.len()
}

// Sweep removes revocations whose token has already expired.
func (a *Authority) Sweep() int {
	n := a.revoked.sweep(a.clock.Now())
	metrics.RevokedTokens.Set(float64(a.revoked.len()))
	return n
}

// Restore loads persisted revocations into memory.
func (a *Authority) Restore(ctx context.Context) (int, error) {
	n, err := a.revoked.restore(ctx, a.clock.Now())
	metrics.RevokedTokens.Set(float64(a.revoked.len()))
	return n, err
}

func (a *Authority) emit(ctx context.Context, t audit.EventType, fingerprint, subject string, details map[string]interface{}) {
	e := a.recorder.NewEvent(ctx, t)
	e.TokenFingerprint = fingerprint
	e.Subject = subject
	e.Details = details
	a.recorder.Record(ctx, e)
}

// rawToken strips surrounding whitespace and an optional bearer scheme. A
// bare scheme yields "".
func rawToken(token string) string {
	token = strings.TrimSpace(token)
	if token == strings.TrimSpace(bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(token, bearerPrefix))
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
