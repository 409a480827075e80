package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Solenad/mp-csnetwk-group4/internal/codec"
)

func TestWhoAmIAndPeers(t *testing.T) {
	n := newTestNode(t, "alice", "10.0.0.5", 50999)
	if got := n.WhoAmI(); !strings.Contains(got, n.UserID) {
		t.Fatalf("WhoAmI() = %q, want it to contain %q", got, n.UserID)
	}

	n.Registry.Upsert("bob@10.0.0.6:51000", "10.0.0.6", 51000, "bob")
	n.Registry.Upsert(n.UserID, n.LocalIP, n.Port, n.DisplayName)

	all := n.Peers(false)
	if len(all) != 2 {
		t.Fatalf("Peers(false) = %d peers, want 2", len(all))
	}
	others := n.Peers(true)
	if len(others) != 1 || others[0].DisplayName != "bob" {
		t.Fatalf("Peers(true) = %+v, want just bob", others)
	}
}

func TestSendPostBroadcasts(t *testing.T) {
	n := newTestNode(t, "alice", "10.0.0.5", 50999)
	mb := n.Broadcaster.(*mockBroadcaster)

	if err := n.SendPost("hello LAN"); err != nil {
		t.Fatalf("SendPost: %v", err)
	}
	if mb.count() != 1 {
		t.Fatalf("expected 1 broadcast, got %d", mb.count())
	}
	f, err := codec.Decode(mb.last())
	if err != nil {
		t.Fatalf("decode broadcast frame: %v", err)
	}
	if f.Type() != "POST" || f["CONTENT"] != "hello LAN" {
		t.Fatalf("unexpected frame: %+v", f)
	}
}

func TestHelloSendsProfileThenPing(t *testing.T) {
	n := newTestNode(t, "alice", "10.0.0.5", 50999)
	mb := n.Broadcaster.(*mockBroadcaster)

	if err := n.Hello(); err != nil {
		t.Fatalf("Hello: %v", err)
	}
	if mb.count() != 2 {
		t.Fatalf("expected PROFILE+PING, got %d frames", mb.count())
	}
}

func TestSendDMUnknownPeer(t *testing.T) {
	n := newTestNode(t, "alice", "10.0.0.5", 50999)
	if err := n.SendDM("nobody", "hi"); err == nil {
		t.Fatal("expected error sending DM to an unknown peer")
	}
}

func TestFollowUnfollowTracksLocalState(t *testing.T) {
	n := newTestNode(t, "alice", "10.0.0.5", 50999)
	n.Registry.Upsert("bob@127.0.0.1:51000", "127.0.0.1", 51000, "bob")

	if err := n.Follow("bob"); err != nil {
		t.Fatalf("Follow: %v", err)
	}
	if _, ok := n.followed["bob@127.0.0.1:51000"]; !ok {
		t.Fatal("expected bob in followed set after Follow")
	}

	if err := n.Unfollow("bob"); err != nil {
		t.Fatalf("Unfollow: %v", err)
	}
	if _, ok := n.followed["bob@127.0.0.1:51000"]; ok {
		t.Fatal("expected bob removed from followed set after Unfollow")
	}
}

func TestLikeRequiresSeenPost(t *testing.T) {
	n := newTestNode(t, "alice", "10.0.0.5", 50999)
	if err := n.Like("12345", false); err == nil {
		t.Fatal("expected error liking a post never seen")
	}

	n.recordSeenPost("12345", "bob@10.0.0.6:51000")
	if err := n.Like("12345", false); err != nil {
		t.Fatalf("Like: %v", err)
	}
	if err := n.Like("12345", false); err == nil {
		t.Fatal("expected error on double-like")
	}
	if err := n.Like("12345", true); err != nil {
		t.Fatalf("Unlike: %v", err)
	}
	if err := n.Like("12345", true); err == nil {
		t.Fatal("expected error unliking a post that is not liked")
	}
}

func TestSetAvatarRejectsMissingFile(t *testing.T) {
	n := newTestNode(t, "alice", "10.0.0.5", 50999)
	if err := n.SetAvatar("/no/such/file.png"); err == nil {
		t.Fatal("expected error for a missing avatar path")
	}

	path := filepath.Join(t.TempDir(), "avatar.png")
	if err := os.WriteFile(path, []byte("not really a png but small"), 0o644); err != nil {
		t.Fatalf("write avatar fixture: %v", err)
	}
	if err := n.SetAvatar(path); err != nil {
		t.Fatalf("SetAvatar: %v", err)
	}

	mb := n.Broadcaster.(*mockBroadcaster)
	if err := n.SendProfile(); err != nil {
		t.Fatalf("SendProfile: %v", err)
	}
	f, err := codec.Decode(mb.last())
	if err != nil {
		t.Fatalf("decode profile frame: %v", err)
	}
	if f["AVATAR_DATA"] == "" {
		t.Fatal("expected PROFILE frame to embed avatar data")
	}
}

func TestRevokeDelegatesToTokenService(t *testing.T) {
	n := newTestNode(t, "alice", "10.0.0.5", 50999)
	tok := n.UserID + "|9999999999|broadcast"
	if !n.Tokens.Validate(tok, "broadcast") {
		t.Fatal("token should validate before revocation")
	}
	if err := n.Revoke(tok); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if n.Tokens.Validate(tok, "broadcast") {
		t.Fatal("token should no longer validate after Revoke")
	}
}

func TestFileAcceptRejectUnknownFile(t *testing.T) {
	n := newTestNode(t, "alice", "10.0.0.5", 50999)
	if err := n.FileAccept("nope"); err == nil {
		t.Fatal("expected error accepting an unknown file id")
	}
}

func TestGroupCreateUnknownMember(t *testing.T) {
	n := newTestNode(t, "alice", "10.0.0.5", 50999)
	if err := n.GroupCreate("g1", "friends", []string{"ghost"}); err == nil {
		t.Fatal("expected error creating a group with an unknown member")
	}
}

func TestGroupMessageRequiresMembership(t *testing.T) {
	n := newTestNode(t, "alice", "10.0.0.5", 50999)
	n.Groups.Create("g1", "friends", "someone-else@10.0.0.9:51000", nil)
	if err := n.GroupMessage("g1", "hi"); err == nil {
		t.Fatal("expected error messaging a group alice is not a member of")
	}
}
