package main

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/Solenad/mp-csnetwk-group4/internal/events"
	"github.com/Solenad/mp-csnetwk-group4/internal/filetransfer"
	"github.com/Solenad/mp-csnetwk-group4/internal/game"
	"github.com/Solenad/mp-csnetwk-group4/internal/group"
	"github.com/Solenad/mp-csnetwk-group4/internal/registry"
	"github.com/Solenad/mp-csnetwk-group4/internal/reliable"
	"github.com/Solenad/mp-csnetwk-group4/internal/token"
)

// mockBroadcaster implements broadcastSender: it captures every frame
// instead of touching a real network interface.
type mockBroadcaster struct {
	mu   sync.Mutex
	sent [][]byte
	ip   string
}

func (m *mockBroadcaster) Send(data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	m.mu.Lock()
	m.sent = append(m.sent, cp)
	m.mu.Unlock()
	return nil
}

func (m *mockBroadcaster) LocalIP() string { return m.ip }

func (m *mockBroadcaster) last() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return nil
	}
	return m.sent[len(m.sent)-1]
}

func (m *mockBroadcaster) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// recordingSink captures every event handed to it, for assertions about
// what the dispatcher surfaced (or didn't).
type recordingSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingSink) Handle(e events.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recordingSink) all() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Event, len(r.events))
	copy(out, r.events)
	return out
}

// newTestNode builds a Node with every service live except the broadcast
// socket, which is a mock so tests never touch a real network interface.
func newTestNode(t *testing.T, name, ip string, port int) *Node {
	t.Helper()
	store, err := token.Open(filepath.Join(t.TempDir(), "revoked.json"))
	if err != nil {
		t.Fatalf("token.Open: %v", err)
	}
	return &Node{
		UserID:      fmt.Sprintf("%s@%s:%d", name, ip, port),
		DisplayName: name,
		Status:      "Online",
		LocalIP:     ip,
		Port:        port,
		Registry:    registry.New(),
		Tokens:      token.NewService(store),
		Games:       game.NewManager(),
		Groups:      group.NewManager(),
		Files:       filetransfer.NewManager(t.TempDir()),
		Reliable:    reliable.NewTracker(),
		Broadcaster: &mockBroadcaster{ip: ip},
		liked:       make(map[string]struct{}),
		followed:    make(map[string]struct{}),
		seenPost:    make(map[string]string),
	}
}
