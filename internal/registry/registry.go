// Package registry tracks known peers, keyed by canonical user_id.
package registry

import (
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Avatar is an optional profile picture carried on PROFILE frames.
type Avatar struct {
	MimeType string
	Data     []byte
}

// Peer is one known node on the subnet.
type Peer struct {
	UserID          string
	IP              string
	Port            int
	DisplayName     string
	LastSeen        time.Time
	LastProfileSent time.Time
	Avatar          *Avatar
}

// Registry is the process-wide peer table. All access is guarded by mu;
// compound read operations (e.g. List) hold the lock for their duration.
type Registry struct {
	mu    sync.RWMutex
	peers map[string]*Peer
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{peers: make(map[string]*Peer)}
}

// Canonicalize rewrites a possibly-partial user_id ("alice" or
// "alice@10.0.0.5") to canonical "user@ip:port" form using the supplied
// fallback IP/port when the user_id doesn't carry its own.
func Canonicalize(userID, fallbackIP string, fallbackPort int) string {
	name, ip, port := split(userID)
	if ip == "" {
		ip = fallbackIP
	}
	if port == 0 {
		port = fallbackPort
	}
	return name + "@" + ip + ":" + strconv.Itoa(port)
}

// split breaks a user_id into (username, ip, port); ip/port are "" / 0 if
// absent from the string.
func split(userID string) (name, ip string, port int) {
	at := strings.IndexByte(userID, '@')
	if at < 0 {
		return userID, "", 0
	}
	name = userID[:at]
	rest := userID[at+1:]
	colon := strings.LastIndexByte(rest, ':')
	if colon < 0 {
		return name, rest, 0
	}
	ip = rest[:colon]
	p, err := strconv.Atoi(rest[colon+1:])
	if err != nil {
		return name, rest, 0
	}
	return name, ip, p
}

// EmbeddedIP returns the IP address embedded in a user_id's @ip:port
// suffix, or "" if the user_id carries none.
func EmbeddedIP(userID string) string {
	_, ip, _ := split(userID)
	return ip
}

// Upsert records an inbound frame's source: creates the peer on first
// contact, otherwise updates IP/last_seen (and display name if supplied).
// port is taken from the user_id when present, else sourcePort ("port
// from user_id wins").
func (r *Registry) Upsert(userID, sourceIP string, sourcePort int, displayName string) *Peer {
	canonical := Canonicalize(userID, sourceIP, sourcePort)
	_, _, embeddedPort := split(userID)
	port := sourcePort
	if embeddedPort != 0 {
		port = embeddedPort
	}
	// The stored IP is always the UDP source address, never the claimed
	// embedded one — the embedded IP is only used by the token service's
	// bind_check.
	ip := sourceIP

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.peers[canonical]
	if !ok {
		p = &Peer{UserID: canonical}
		r.peers[canonical] = p
		slog.Info("peer discovered", "user_id", canonical, "ip", ip, "port", port)
	}
	p.IP = ip
	p.Port = port
	if displayName != "" {
		p.DisplayName = displayName
	}
	p.LastSeen = time.Now()
	return p
}

// SetAvatar attaches/updates the avatar for a known peer.
func (r *Registry) SetAvatar(userID string, a Avatar) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.peers[userID]; ok {
		p.Avatar = &a
	}
}

// MarkProfileSent stamps last_profile_sent to now for userID.
func (r *Registry) MarkProfileSent(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.peers[userID]; ok {
		p.LastProfileSent = time.Now()
	}
}

// Get returns the peer for userID, or nil if unknown.
func (r *Registry) Get(userID string) *Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.peers[userID]; ok {
		cp := *p
		return &cp
	}
	return nil
}

// List returns a snapshot of all known peers, optionally excluding one
// user_id (e.g. the local node).
func (r *Registry) List(excludeUserID string) []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Peer, 0, len(r.peers))
	for id, p := range r.peers {
		if id == excludeUserID {
			continue
		}
		out = append(out, *p)
	}
	return out
}

// Remove deletes a peer (explicit admin action only — never called from
// the dispatch path).
func (r *Registry) Remove(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.peers, userID)
}

// Stale returns peers whose last_seen exceeds the given age, for
// operator-visible liveness logging. It never removes anything.
func (r *Registry) Stale(age time.Duration) []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cutoff := time.Now().Add(-age)
	var out []Peer
	for _, p := range r.peers {
		if p.LastSeen.Before(cutoff) {
			out = append(out, *p)
		}
	}
	return out
}
