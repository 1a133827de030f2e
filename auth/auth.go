// Package auth provides join authorization for session proxies. The
// TokenJoinGate validates a signed join token carried as a user property,
// binding the token's subject to the requested user name.
package auth

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/quillmesh/collab-server-go/serverproxy"
)

// TokenProperty is the user property that carries the join token.
const TokenProperty = "token"

// TokenJoinGate rejects remote user joins that do not present a valid
// token. Local joins originate from the server itself and are always
// allowed.
type TokenJoinGate struct {
	log    *slog.Logger
	key    []byte
	issuer string
	leeway time.Duration
}

// GateConfig configures a TokenJoinGate.
type GateConfig struct {
	// Key is the HMAC signing key tokens must be signed with.
	Key []byte
	// Issuer, when set, is required as the token's iss claim.
	Issuer string
	// Leeway tolerates clock skew when validating time claims. Defaults
	// to 30 seconds.
	Leeway time.Duration
	// Logger receives rejection diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

// NewTokenJoinGate returns a gate validating HS256 join tokens.
func NewTokenJoinGate(cfg GateConfig) (*TokenJoinGate, error) {
	if len(cfg.Key) == 0 {
		return nil, fmt.Errorf("auth: signing key is required")
	}
	leeway := cfg.Leeway
	if leeway == 0 {
		leeway = 30 * time.Second
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &TokenJoinGate{
		log:    log,
		key:    cfg.Key,
		issuer: cfg.Issuer,
		leeway: leeway,
	}, nil
}

// Check reports whether the join attempt must be rejected. It is meant to
// be registered with SessionProxy.OnRejectUserJoin.
func (g *TokenJoinGate) Check(a serverproxy.JoinAttempt) bool {
	if a.Connection == nil {
		return false
	}

	name, _ := a.Props.Lookup("name")
	tok, ok := a.Props.Lookup(TokenProperty)
	if !ok {
		g.log.Info("auth.reject",
			slog.String("name", name.String()),
			slog.String("reason", "no token"),
		)
		return true
	}

	subject, err := g.verify(tok.String())
	if err != nil {
		g.log.Info("auth.reject",
			slog.String("name", name.String()),
			slog.String("err", err.Error()),
		)
		return true
	}
	if subject != name.String() {
		g.log.Info("auth.reject",
			slog.String("name", name.String()),
			slog.String("reason", "subject mismatch"),
			slog.String("subject", subject),
		)
		return true
	}
	return false
}

// verify parses the token and returns its subject.
func (g *TokenJoinGate) verify(raw string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(g.leeway),
	}
	if g.issuer != "" {
		opts = append(opts, jwt.WithIssuer(g.issuer))
	}

	parsed, err := jwt.Parse(raw, func(*jwt.Token) (any, error) {
		return g.key, nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("invalid join token: %w", err)
	}

	subject, err := parsed.Claims.GetSubject()
	if err != nil || subject == "" {
		return "", fmt.Errorf("join token has no subject")
	}
	return subject, nil
}

// MintToken signs a join token for the given user name, valid for ttl.
// The signing key and issuer must match the gate's configuration.
func MintToken(key []byte, issuer, name string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": name,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if issuer != "" {
		claims["iss"] = issuer
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(key)
}
