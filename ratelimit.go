package main

import (
	"sync"

	"golang.org/x/time/rate"
)

// perPeerRate bounds how many frames per second a single source IP may
// feed into the dispatcher. Peers on this protocol are unauthenticated
// LAN strangers with no join handshake, so the dispatcher needs its own
// flood guard rather than relying on the registry or token service to
// do it.
const (
	perPeerRateLimit = 20.0 // frames/sec
	perPeerBurst     = 40
)

// peerLimiter hands out one golang.org/x/time/rate.Limiter per source IP,
// creating it lazily on first contact.
type peerLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newPeerLimiter() *peerLimiter {
	return &peerLimiter{limiters: make(map[string]*rate.Limiter)}
}

// Allow reports whether a frame from sourceIP may proceed right now.
func (p *peerLimiter) Allow(sourceIP string) bool {
	p.mu.Lock()
	l, ok := p.limiters[sourceIP]
	if !ok {
		l = rate.NewLimiter(rate.Limit(perPeerRateLimit), perPeerBurst)
		p.limiters[sourceIP] = l
	}
	p.mu.Unlock()
	return l.Allow()
}
