package main

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/Solenad/mp-csnetwk-group4/internal/codec"
	"github.com/Solenad/mp-csnetwk-group4/internal/events"
	"github.com/Solenad/mp-csnetwk-group4/internal/game"
	"github.com/Solenad/mp-csnetwk-group4/internal/token"
	"github.com/Solenad/mp-csnetwk-group4/internal/transport"
)

func datagramFor(f codec.Frame, sourceIP string, sourcePort int) transport.Datagram {
	data, err := codec.Encode(f)
	if err != nil {
		panic(err)
	}
	return transport.Datagram{Data: data, SourceIP: sourceIP, SourcePort: sourcePort}
}

func TestDispatchSelfEchoSuppressed(t *testing.T) {
	n := newTestNode(t, "alice", "10.0.0.5", 50999)
	sink := &recordingSink{}
	n.Sink = sink
	d := NewDispatcher(n)

	f := codec.New("POST")
	f.Set("USER_ID", n.UserID)
	f.Set("CONTENT", "talking to myself")
	f.Set("TOKEN", token.Issue(n.UserID, token.ScopeBroadcast, 0))

	d.HandleDatagram(datagramFor(f, "10.0.0.5", 50999))

	if len(sink.all()) != 0 {
		t.Fatalf("expected self-echo to be dropped, got %d events", len(sink.all()))
	}
	if n.Registry.Get(n.UserID) != nil {
		t.Fatal("self-echo should never reach peer upsert")
	}
}

func TestDispatchRevokeShortCircuits(t *testing.T) {
	n := newTestNode(t, "alice", "10.0.0.5", 50999)
	d := NewDispatcher(n)

	bobID := "bob@10.0.0.6:51000"
	tok := token.Issue(bobID, token.ScopeBroadcast, 0)
	if !n.Tokens.Validate(tok, token.ScopeBroadcast) {
		t.Fatal("token should validate before revocation")
	}

	rev := codec.New("REVOKE")
	rev.Set("USER_ID", bobID)
	rev.Set("TOKEN", tok)
	d.HandleDatagram(datagramFor(rev, "10.0.0.6", 51000))

	if n.Tokens.Validate(tok, token.ScopeBroadcast) {
		t.Fatal("token should be revoked after REVOKE frame")
	}
	// REVOKE never reaches peer upsert.
	if n.Registry.Get(bobID) != nil {
		t.Fatal("REVOKE must short-circuit before peer upsert")
	}
}

func TestDispatchRejectsBadScopeAndBindCheck(t *testing.T) {
	n := newTestNode(t, "alice", "10.0.0.5", 50999)
	sink := &recordingSink{}
	n.Sink = sink
	d := NewDispatcher(n)

	bobID := "bob@10.0.0.6:51000"

	// Wrong scope for POST (needs broadcast, not chat).
	wrongScope := codec.New("POST")
	wrongScope.Set("USER_ID", bobID)
	wrongScope.Set("CONTENT", "hi")
	wrongScope.Set("TOKEN", token.Issue(bobID, token.ScopeChat, 0))
	d.HandleDatagram(datagramFor(wrongScope, "10.0.0.6", 51000))

	// Right scope, but token's embedded IP doesn't match the datagram's
	// source IP (bind_check failure).
	badBind := codec.New("POST")
	badBind.Set("USER_ID", bobID)
	badBind.Set("CONTENT", "hi")
	badBind.Set("TOKEN", token.Issue(bobID, token.ScopeBroadcast, 0))
	d.HandleDatagram(datagramFor(badBind, "10.0.0.99", 51000))

	if len(sink.all()) != 0 {
		t.Fatalf("expected both frames rejected, got %d events", len(sink.all()))
	}
	if n.Registry.Get(bobID) != nil {
		t.Fatal("a rejected frame must never reach peer upsert")
	}
}

func TestDispatchPostThenLikeRoundTrip(t *testing.T) {
	n := newTestNode(t, "alice", "10.0.0.5", 50999)
	sink := &recordingSink{}
	n.Sink = sink
	d := NewDispatcher(n)

	bobID := "bob@10.0.0.6:51000"
	post := codec.New("POST")
	post.Set("USER_ID", bobID)
	post.Set("TIMESTAMP", "111")
	post.Set("CONTENT", "hello")
	post.Set("TOKEN", token.Issue(bobID, token.ScopeBroadcast, 0))
	d.HandleDatagram(datagramFor(post, "10.0.0.6", 51000))

	found := false
	for _, e := range sink.all() {
		if e.Kind == events.KindPost {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a KindPost event")
	}

	if err := n.Like("111", false); err != nil {
		t.Fatalf("Like: %v", err)
	}
	mb := n.Broadcaster.(*mockBroadcaster)
	lf, err := codec.Decode(mb.last())
	if err != nil {
		t.Fatalf("decode LIKE frame: %v", err)
	}
	if lf["TO"] != bobID || lf["ACTION"] != "LIKE" {
		t.Fatalf("unexpected LIKE frame: %+v", lf)
	}
}

func TestDispatchAckWakesReliableSend(t *testing.T) {
	n := newTestNode(t, "alice", "10.0.0.5", 50999)
	d := NewDispatcher(n)

	msgID := "cafebabe"
	done := make(chan bool, 1)
	go func() {
		done <- n.Reliable.Send(msgID, func() bool { return true })
	}()

	ack := codec.New("ACK")
	ack.Set("USER_ID", "bob@10.0.0.6:51000")
	ack.Set("MESSAGE_ID", msgID)
	d.HandleDatagram(datagramFor(ack, "10.0.0.6", 51000))

	select {
	case ok := <-done:
		if !ok {
			t.Fatal("expected reliable send to report success once ACK arrived")
		}
	case <-time.After(time.Second):
		t.Fatal("reliable send did not wake up on ACK within 1s")
	}
}

func TestDispatchFileOfferAndReassembly(t *testing.T) {
	n := newTestNode(t, "alice", "10.0.0.5", 50999)
	sink := &recordingSink{}
	n.Sink = sink
	d := NewDispatcher(n)

	bobID := "bob@10.0.0.6:51000"
	offer := codec.New("FILE_OFFER")
	offer.Set("USER_ID", bobID)
	offer.Set("FILEID", "f1")
	offer.Set("FILENAME", "note.txt")
	offer.Set("FILESIZE", "10")
	offer.Set("FILETYPE", "text/plain")
	offer.Set("TOKEN", token.Issue(bobID, token.ScopeFile, 0))
	d.HandleDatagram(datagramFor(offer, "10.0.0.6", 51000))
	n.Files.Accept("f1")

	content := []byte("0123456789")
	chunks := [][]byte{content[:5], content[5:]}
	// Deliver out of order, mirroring the order-independence requirement.
	order := []int{1, 0}
	for _, idx := range order {
		chunk := codec.New("FILE_CHUNK")
		chunk.Set("USER_ID", bobID)
		chunk.Set("FILEID", "f1")
		chunk.Set("CHUNK_INDEX", strconv.Itoa(idx))
		chunk.Set("TOTAL_CHUNKS", "2")
		chunk.Set("DATA", base64.StdEncoding.EncodeToString(chunks[idx]))
		chunk.Set("TOKEN", token.Issue(bobID, token.ScopeFile, 0))
		d.HandleDatagram(datagramFor(chunk, "10.0.0.6", 51000))
	}

	done := false
	for _, e := range sink.all() {
		if e.Kind == events.KindFileDone {
			done = true
		}
	}
	if !done {
		t.Fatal("expected a KindFileDone event once all chunks arrived")
	}
	if _, err := os.Stat(filepath.Join(n.Files.DestDir(), "note.txt")); err != nil {
		t.Fatalf("expected reassembled file on disk: %v", err)
	}
}

func TestDispatchGameMoveOrderingAndResync(t *testing.T) {
	n := newTestNode(t, "alice", "10.0.0.5", 50999)
	d := NewDispatcher(n)

	bobID := "bob@10.0.0.6:51000"
	n.Games.Create("g1", bobID, n.UserID, game.SymbolX)

	applyMove := func(turn, pos int, symbol string) {
		mv := codec.New("TICTACTOE_MOVE")
		mv.Set("USER_ID", bobID)
		mv.Set("GAMEID", "g1")
		mv.Set("TURN", strconv.Itoa(turn))
		mv.Set("POSITION", strconv.Itoa(pos))
		mv.Set("SYMBOL", symbol)
		mv.Set("MESSAGE_ID", "m"+strconv.Itoa(turn))
		mv.Set("TOKEN", token.Issue(bobID, token.ScopeGame, 0))
		d.HandleDatagram(datagramFor(mv, "10.0.0.6", 51000))
	}

	// Turn 1 applied normally.
	applyMove(1, 0, "X")
	g := n.Games.Get("g1")
	if g.Turn != 2 {
		t.Fatalf("expected turn to advance to 2, got %d", g.Turn)
	}

	// Duplicate resend of turn 1: must not advance state further.
	applyMove(1, 0, "X")
	if n.Games.Get("g1").Turn != 2 {
		t.Fatal("duplicate move must not advance turn")
	}

	// Turn 3 arrives before turn 2: missing history, board must stay put.
	applyMove(3, 4, "X")
	if n.Games.Get("g1").Turn != 2 {
		t.Fatal("out-of-order move must not be applied ahead of its turn")
	}

	// A move for an unregistered game must not panic and must not create one.
	ghost := codec.New("TICTACTOE_MOVE")
	ghost.Set("USER_ID", bobID)
	ghost.Set("GAMEID", "no-such-game")
	ghost.Set("TURN", "1")
	ghost.Set("POSITION", "0")
	ghost.Set("SYMBOL", "X")
	ghost.Set("TOKEN", token.Issue(bobID, token.ScopeGame, 0))
	d.HandleDatagram(datagramFor(ghost, "10.0.0.6", 51000))
	if n.Games.Get("no-such-game") != nil {
		t.Fatal("an unknown game must never be created by an inbound move")
	}
}

func TestDispatchStateResponseResyncsLocalGame(t *testing.T) {
	n := newTestNode(t, "alice", "10.0.0.5", 50999)
	sink := &recordingSink{}
	n.Sink = sink
	d := NewDispatcher(n)

	bobID := "bob@10.0.0.6:51000"
	n.Games.Create("g1", bobID, n.UserID, game.SymbolX)
	n.Registry.Upsert(bobID, "10.0.0.6", 51000, "bob")

	resp := codec.New("TICTACTOE_STATE_RESPONSE")
	resp.Set("USER_ID", bobID)
	resp.Set("GAMEID", "g1")
	resp.Set("TURN", "4")
	resp.Set("BOARD", "X,,,,,O,,X,")
	d.HandleDatagram(datagramFor(resp, "10.0.0.6", 51000))

	g := n.Games.Get("g1")
	if g.Turn != 4 {
		t.Fatalf("Turn after resync = %d, want 4", g.Turn)
	}
	if g.Board[0] != game.SymbolX || g.Board[5] != game.SymbolO || g.Board[7] != game.SymbolX {
		t.Fatalf("Board after resync = %v, want overwritten from the response", g.Board)
	}

	found := false
	for _, e := range sink.all() {
		if e.Kind == events.KindGameMove {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a KindGameMove event surfacing the resync")
	}
}

func TestDispatchMoveRequestTriggersStateRequest(t *testing.T) {
	n := newTestNode(t, "alice", "10.0.0.5", 50999)
	d := NewDispatcher(n)

	bobID := "bob@10.0.0.6:51000"
	n.Games.Create("g1", bobID, n.UserID, game.SymbolX)
	n.Registry.Upsert(bobID, "10.0.0.6", 51000, "bob")

	req := codec.New("TICTACTOE_MOVE_REQUEST")
	req.Set("USER_ID", bobID)
	req.Set("GAMEID", "g1")
	req.Set("FROM_TURN", "1")
	req.Set("TO_TURN", "2")

	// Must not panic and must not touch local game state; the actual
	// reply (a TICTACTOE_STATE_REQUEST back to bob) is fire-and-forget
	// over UDP, so there's nothing further to assert here beyond safety.
	d.HandleDatagram(datagramFor(req, "10.0.0.6", 51000))
	if n.Games.Get("g1").Turn != 1 {
		t.Fatal("a move request must never itself mutate game state")
	}
}

func TestDispatchGroupMembershipGating(t *testing.T) {
	n := newTestNode(t, "alice", "10.0.0.5", 50999)
	sink := &recordingSink{}
	n.Sink = sink
	d := NewDispatcher(n)

	creator := "bob@10.0.0.6:51000"
	create := codec.New("GROUP_CREATE")
	create.Set("USER_ID", creator)
	create.Set("GROUP_ID", "g1")
	create.Set("GROUP_NAME", "friends")
	create.Set("MEMBERS", n.UserID)
	create.Set("TOKEN", token.Issue(creator, token.ScopeGroup, 0))
	d.HandleDatagram(datagramFor(create, "10.0.0.6", 51000))

	if !n.Groups.IsMember("g1", n.UserID) {
		t.Fatal("expected alice to be a member after GROUP_CREATE named her")
	}

	// A non-member trying to message the group must be dropped silently.
	outsider := "carol@10.0.0.7:51000"
	msg := codec.New("GROUP_MESSAGE")
	msg.Set("USER_ID", outsider)
	msg.Set("GROUP_ID", "g1")
	msg.Set("CONTENT", "sneaky")
	msg.Set("TOKEN", token.Issue(outsider, token.ScopeGroup, 0))
	d.HandleDatagram(datagramFor(msg, "10.0.0.7", 51000))

	for _, e := range sink.all() {
		if e.Kind == events.KindGroupMsg {
			t.Fatal("a non-member's GROUP_MESSAGE must never be surfaced")
		}
	}

	// Only the creator may update membership; a non-creator's update is
	// rejected and must not mutate membership.
	badUpdate := codec.New("GROUP_UPDATE")
	badUpdate.Set("USER_ID", outsider)
	badUpdate.Set("GROUP_ID", "g1")
	badUpdate.Set("REMOVE", n.UserID)
	badUpdate.Set("TOKEN", token.Issue(outsider, token.ScopeGroup, 0))
	d.HandleDatagram(datagramFor(badUpdate, "10.0.0.7", 51000))

	if !n.Groups.IsMember("g1", n.UserID) {
		t.Fatal("a non-creator's GROUP_UPDATE must not remove members")
	}
}
