package main

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/Solenad/mp-csnetwk-group4/internal/codec"
	"github.com/Solenad/mp-csnetwk-group4/internal/events"
	"github.com/Solenad/mp-csnetwk-group4/internal/filetransfer"
	"github.com/Solenad/mp-csnetwk-group4/internal/game"
	"github.com/Solenad/mp-csnetwk-group4/internal/group"
	"github.com/Solenad/mp-csnetwk-group4/internal/registry"
	"github.com/Solenad/mp-csnetwk-group4/internal/reliable"
	"github.com/Solenad/mp-csnetwk-group4/internal/token"
	"github.com/Solenad/mp-csnetwk-group4/internal/transport"
)

// Node is the command surface: every method an external CLI collaborator
// calls to originate outbound traffic. It also owns the small bits of
// process-wide mutable state that don't warrant their own internal/
// package (liked posts, followed users, the seen-posts cache LIKE
// commands resolve against), keeping those maps inline rather than
// splitting every concern into a subpackage.
type Node struct {
	UserID      string
	DisplayName string
	Status      string
	LocalIP     string
	Port        int

	Registry    *registry.Registry
	Tokens      *token.Service
	Games       *game.Manager
	Groups      *group.Manager
	Files       *filetransfer.Manager
	Reliable    *reliable.Tracker
	Listener    *transport.Listener
	Broadcaster broadcastSender

	Sink    events.Sink
	verbose atomic

	avatarMu   sync.Mutex
	avatarPath string

	socialMu sync.Mutex
	liked    map[string]struct{} // "author|timestamp" already liked
	followed map[string]struct{} // user_id set
	seenPost map[string]string   // timestamp -> author, for `like <ts>` lookups
}

// broadcastSender is the minimal interface a node needs to reach the
// subnet broadcast address, stored as an interface so tests can
// substitute a mock instead of a real *transport.Broadcaster bound to
// an actual network interface.
type broadcastSender interface {
	Send(data []byte) error
	LocalIP() string
}

// atomic is a tiny bool flag guarded by its own mutex; the `verbose
// on|off` toggle is read far more often than written so a RWMutex would
// be overkill for one bool.
type atomic struct {
	mu sync.Mutex
	v  bool
}

func (a *atomic) set(v bool) {
	a.mu.Lock()
	a.v = v
	a.mu.Unlock()
}

func (a *atomic) get() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.v
}

// NewNode wires every service together in construct-then-inject style.
func NewNode(displayName string, listener *transport.Listener, broadcaster broadcastSender, tokenStore *token.Store, destDir string) *Node {
	ip := broadcaster.LocalIP()
	userID := fmt.Sprintf("%s@%s:%d", displayName, ip, listener.Port)
	return &Node{
		UserID:      userID,
		DisplayName: displayName,
		Status:      "Online",
		LocalIP:     ip,
		Port:        listener.Port,
		Registry:    registry.New(),
		Tokens:      token.NewService(tokenStore),
		Games:       game.NewManager(),
		Groups:      group.NewManager(),
		Files:       filetransfer.NewManager(destDir),
		Reliable:    reliable.NewTracker(),
		Listener:    listener,
		Broadcaster: broadcaster,
		liked:       make(map[string]struct{}),
		followed:    make(map[string]struct{}),
		seenPost:    make(map[string]string),
	}
}

func (n *Node) SetVerbose(on bool) { n.verbose.set(on) }
func (n *Node) Verbose() bool      { return n.verbose.get() }

func newMessageID() string {
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

// stampedBroadcast builds a frame, issues a fresh token for scope, and
// sends it to the subnet broadcast address.
func (n *Node) stampedBroadcast(typ string, scope token.Scope, fields map[string]string) error {
	f := codec.New(typ)
	f.Set("USER_ID", n.UserID)
	f.Set("TIMESTAMP", fmt.Sprintf("%d", time.Now().Unix()))
	f.Set("MESSAGE_ID", newMessageID())
	for k, v := range fields {
		f.Set(k, v)
	}
	f.Set("TOKEN", token.Issue(n.UserID, scope, 0))

	data, err := codec.Encode(f)
	if err != nil {
		return err
	}
	if err := n.Broadcaster.Send(data); err != nil {
		return err
	}
	return nil
}

// WhoAmI reports this node's own identity line.
func (n *Node) WhoAmI() string {
	return fmt.Sprintf("%s (display=%q, listening on %d)", n.UserID, n.DisplayName, n.Port)
}

// Peers lists known peers, optionally excluding self.
func (n *Node) Peers(excludeSelf bool) []registry.Peer {
	exclude := ""
	if excludeSelf {
		exclude = n.UserID
	}
	return n.Registry.List(exclude)
}

// SendPost broadcasts a POST.
func (n *Node) SendPost(content string) error {
	return n.stampedBroadcast("POST", token.ScopeBroadcast, map[string]string{"CONTENT": content})
}

// Hello sends an immediate PROFILE+PING pair, for the `send hello` command.
func (n *Node) Hello() error {
	if err := n.SendProfile(); err != nil {
		return err
	}
	return n.SendPing()
}

// SendProfile implements presence.FrameSender.
func (n *Node) SendProfile() error {
	f := codec.New("PROFILE")
	f.Set("USER_ID", n.UserID)
	f.Set("DISPLAY_NAME", n.DisplayName)
	f.Set("STATUS", n.Status)
	f.Set("PORT", fmt.Sprintf("%d", n.Port))

	n.avatarMu.Lock()
	path := n.avatarPath
	n.avatarMu.Unlock()
	if path != "" {
		if mime, data, err := loadAvatar(path); err == nil {
			f.Set("AVATAR_TYPE", mime)
			f.Set("AVATAR_ENCODING", "base64")
			f.Set("AVATAR_DATA", base64.StdEncoding.EncodeToString(data))
		} else {
			log.Printf("[presence] avatar %s: %v", path, err)
		}
	}

	data, err := codec.Encode(f)
	if err != nil {
		return err
	}
	return n.Broadcaster.Send(data)
}

// SendPing implements presence.FrameSender.
func (n *Node) SendPing() error {
	f := codec.New("PING")
	f.Set("USER_ID", n.UserID)
	data, err := codec.Encode(f)
	if err != nil {
		return err
	}
	return n.Broadcaster.Send(data)
}

const maxAvatarBytes = 20 * 1024

func loadAvatar(path string) (mime string, data []byte, err error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", nil, err
	}
	if info.Size() > maxAvatarBytes {
		return "", nil, fmt.Errorf("avatar too large (%d bytes, limit %d)", info.Size(), maxAvatarBytes)
	}
	data, err = os.ReadFile(path)
	if err != nil {
		return "", nil, err
	}
	return filetransfer.GuessMIME(path), data, nil
}

// SetAvatar records the avatar path used on subsequent PROFILE sends. A
// path that does not exist is a command failure; reading the file and the
// size check are deferred to send time, so an oversized or unreadable
// file surfaces as a send-time warning.
func (n *Node) SetAvatar(path string) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	n.avatarMu.Lock()
	n.avatarPath = path
	n.avatarMu.Unlock()
	return nil
}

// findPeerByName resolves a display name to a peer's user_id by scanning
// the known peer list.
func (n *Node) findPeerByName(name string) *registry.Peer {
	for _, p := range n.Registry.List(n.UserID) {
		if p.DisplayName == name {
			cp := p
			return &cp
		}
	}
	return nil
}

// SendDM sends a DM reliably to the peer identified by display name.
func (n *Node) SendDM(toName, content string) error {
	peer := n.findPeerByName(toName)
	if peer == nil {
		return fmt.Errorf("unknown peer %q", toName)
	}
	f := codec.New("DM")
	f.Set("FROM", n.UserID)
	f.Set("TO", peer.UserID)
	f.Set("CONTENT", content)
	f.Set("TIMESTAMP", fmt.Sprintf("%d", time.Now().Unix()))
	msgID := newMessageID()
	f.Set("MESSAGE_ID", msgID)
	f.Set("TOKEN", token.Issue(n.UserID, token.ScopeChat, 0))

	data, err := codec.Encode(f)
	if err != nil {
		return err
	}
	ok := n.Reliable.Send(msgID, func() bool {
		return transport.Unicast(peer.IP, peer.Port, data)
	})
	if !ok {
		return fmt.Errorf("delivery failed: %s", toName)
	}
	return nil
}

// Follow/Unfollow send the corresponding frame and update the local
// followed-users set on success.
func (n *Node) Follow(toName string) error   { return n.followAction(toName, "FOLLOW") }
func (n *Node) Unfollow(toName string) error { return n.followAction(toName, "UNFOLLOW") }

func (n *Node) followAction(toName, typ string) error {
	peer := n.findPeerByName(toName)
	if peer == nil {
		return fmt.Errorf("unknown peer %q", toName)
	}
	f := codec.New(typ)
	f.Set("FROM", n.UserID)
	f.Set("TO", peer.UserID)
	f.Set("TIMESTAMP", fmt.Sprintf("%d", time.Now().Unix()))
	f.Set("MESSAGE_ID", newMessageID())
	f.Set("TOKEN", token.Issue(n.UserID, token.ScopeFollow, 0))

	data, err := codec.Encode(f)
	if err != nil {
		return err
	}
	if !transport.Unicast(peer.IP, peer.Port, data) {
		return fmt.Errorf("send to %s failed", toName)
	}

	n.socialMu.Lock()
	if typ == "FOLLOW" {
		n.followed[peer.UserID] = struct{}{}
	} else {
		delete(n.followed, peer.UserID)
	}
	n.socialMu.Unlock()
	return nil
}

// recordSeenPost lets the dispatcher register a post's (timestamp,
// author) pair so a later `like <ts>` command can resolve the author.
func (n *Node) recordSeenPost(timestamp, author string) {
	n.socialMu.Lock()
	n.seenPost[timestamp] = author
	n.socialMu.Unlock()
}

// Like broadcasts LIKE or UNLIKE for a previously seen post timestamp.
func (n *Node) Like(timestamp string, unlike bool) error {
	n.socialMu.Lock()
	author, ok := n.seenPost[timestamp]
	key := author + "|" + timestamp
	_, already := n.liked[key]
	n.socialMu.Unlock()
	if !ok {
		return fmt.Errorf("no known post at timestamp %s", timestamp)
	}
	if unlike && !already {
		return fmt.Errorf("post %s was not liked", timestamp)
	}
	if !unlike && already {
		return fmt.Errorf("post %s already liked", timestamp)
	}

	action := "LIKE"
	if unlike {
		action = "UNLIKE"
	}
	err := n.stampedBroadcast("LIKE", token.ScopeBroadcast, map[string]string{
		"TO":             author,
		"POST_TIMESTAMP": timestamp,
		"ACTION":         action,
	})
	if err != nil {
		return err
	}

	n.socialMu.Lock()
	if unlike {
		delete(n.liked, key)
	} else {
		n.liked[key] = struct{}{}
	}
	n.socialMu.Unlock()
	return nil
}

// Revoke revokes a token this node previously issued.
func (n *Node) Revoke(tok string) error {
	return n.Tokens.Revoke(tok)
}
