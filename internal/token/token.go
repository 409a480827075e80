// Package token implements LSNP's advisory capability tokens: issue,
// validate, bind-check, and persistent revocation.
package token

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Scope is one of the fixed capability scopes a token may carry.
type Scope string

const (
	ScopeBroadcast Scope = "broadcast"
	ScopeChat      Scope = "chat"
	ScopeFile      Scope = "file"
	ScopeGame      Scope = "game"
	ScopeGroup     Scope = "group"
	ScopeFollow    Scope = "follow"
)

// DefaultTTL returns the default lifetime for a scope.
func DefaultTTL(s Scope) time.Duration {
	switch s {
	case ScopeBroadcast, ScopeFollow:
		return time.Hour
	case ScopeChat:
		return 2 * time.Hour
	case ScopeFile:
		return 4 * time.Hour
	case ScopeGame:
		return 3 * time.Hour
	case ScopeGroup:
		return 24 * time.Hour
	default:
		return time.Hour
	}
}

// ScopeForType returns the scope required by a message TYPE, and whether
// that TYPE requires a token at all.
func ScopeForType(msgType string) (Scope, bool) {
	switch msgType {
	case "POST", "LIKE":
		return ScopeBroadcast, true
	case "DM", "REVOKE":
		return ScopeChat, true
	case "FOLLOW", "UNFOLLOW":
		return ScopeFollow, true
	case "FILE_OFFER", "FILE_CHUNK":
		return ScopeFile, true
	case "TICTACTOE_INVITE", "TICTACTOE_MOVE", "TICTACTOE_RESULT":
		return ScopeGame, true
	case "GROUP_CREATE", "GROUP_UPDATE", "GROUP_MESSAGE":
		return ScopeGroup, true
	default:
		// PING, PROFILE, ACK, FILE_RECEIVED, and the tic-tac-toe resync
		// messages carry no token.
		return "", false
	}
}

// Issue mints "user_id|expiry_unix|scope" for userID with the scope's
// default TTL when ttl is 0, or the explicit ttl otherwise (a negative
// ttl yields an already-expired token).
func Issue(userID string, scope Scope, ttl time.Duration) string {
	if ttl == 0 {
		ttl = DefaultTTL(scope)
	}
	expiry := time.Now().Add(ttl).Unix()
	return fmt.Sprintf("%s|%d|%s", userID, expiry, scope)
}

// Parsed is a decoded token's three fields.
type Parsed struct {
	UserID string
	Expiry int64
	Scope  Scope
}

// Parse splits a token string into its three pipe-delimited fields.
func Parse(tok string) (Parsed, bool) {
	parts := strings.Split(tok, "|")
	if len(parts) != 3 {
		return Parsed{}, false
	}
	expiry, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Parsed{}, false
	}
	return Parsed{UserID: parts[0], Expiry: expiry, Scope: Scope(parts[2])}, true
}

// Service validates and revokes tokens; revocation is persisted via the
// injected Store.
type Service struct {
	store *Store
}

// NewService binds a Service to a persistent revocation Store.
func NewService(store *Store) *Service {
	return &Service{store: store}
}

// Validate reports whether tok is well-formed, unrevoked, unexpired, and
// carries expectedScope.
func (s *Service) Validate(tok string, expectedScope Scope) bool {
	p, ok := Parse(tok)
	if !ok {
		return false
	}
	if p.Scope != expectedScope {
		return false
	}
	if time.Now().Unix() >= p.Expiry {
		return false
	}
	if s.store.IsRevoked(tok) {
		return false
	}
	return true
}

// BindCheck reports whether tok's embedded user_id IP matches sourceIP.
func BindCheck(tok, sourceIP string) bool {
	p, ok := Parse(tok)
	if !ok {
		return false
	}
	at := strings.IndexByte(p.UserID, '@')
	if at < 0 {
		return false
	}
	rest := p.UserID[at+1:]
	colon := strings.LastIndexByte(rest, ':')
	embeddedIP := rest
	if colon >= 0 {
		embeddedIP = rest[:colon]
	}
	return embeddedIP == sourceIP
}

// Revoke adds tok to the persistent revoked set. A revoked token stays
// revoked forever, independent of expiry.
func (s *Service) Revoke(tok string) error {
	return s.store.Revoke(tok)
}
