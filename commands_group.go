package main

import (
	"fmt"
	"strings"

	"github.com/Solenad/mp-csnetwk-group4/internal/codec"
	"github.com/Solenad/mp-csnetwk-group4/internal/token"
	"github.com/Solenad/mp-csnetwk-group4/internal/transport"
)

// GroupCreate seeds a local group and unicasts GROUP_CREATE to every
// named member.
func (n *Node) GroupCreate(groupID, name string, memberNames []string) error {
	members := make([]string, 0, len(memberNames))
	for _, mn := range memberNames {
		p := n.findPeerByName(mn)
		if p == nil {
			return fmt.Errorf("unknown peer %q", mn)
		}
		members = append(members, p.UserID)
	}
	n.Groups.Create(groupID, name, n.UserID, members)

	f := codec.New("GROUP_CREATE")
	f.Set("FROM", n.UserID)
	f.Set("GROUP_ID", groupID)
	f.Set("GROUP_NAME", name)
	f.Set("MEMBERS", strings.Join(members, ","))
	f.Set("MESSAGE_ID", newMessageID())
	f.Set("TOKEN", token.Issue(n.UserID, token.ScopeGroup, 0))

	data, err := codec.Encode(f)
	if err != nil {
		return err
	}
	for _, memberID := range members {
		if peer := n.Registry.Get(memberID); peer != nil {
			transport.Unicast(peer.IP, peer.Port, data)
		}
	}
	return nil
}

// GroupUpdate adds/removes members; only the creator may call this
// successfully (enforced both locally and by every remote member's own
// dispatcher).
func (n *Node) GroupUpdate(groupID string, addNames, removeNames []string) error {
	add, err := n.resolveUserIDs(addNames)
	if err != nil {
		return err
	}
	remove, err := n.resolveUserIDs(removeNames)
	if err != nil {
		return err
	}
	if err := n.Groups.Update(groupID, n.UserID, add, remove); err != nil {
		return err
	}

	f := codec.New("GROUP_UPDATE")
	f.Set("FROM", n.UserID)
	f.Set("GROUP_ID", groupID)
	f.Set("ADD", strings.Join(add, ","))
	f.Set("REMOVE", strings.Join(remove, ","))
	f.Set("MESSAGE_ID", newMessageID())
	f.Set("TOKEN", token.Issue(n.UserID, token.ScopeGroup, 0))

	data, err := codec.Encode(f)
	if err != nil {
		return err
	}
	for _, memberID := range n.Groups.Members(groupID) {
		if peer := n.Registry.Get(memberID); peer != nil {
			transport.Unicast(peer.IP, peer.Port, data)
		}
	}
	return nil
}

// GroupMessage sends content to every other member of groupID; the local
// node must itself be a member.
func (n *Node) GroupMessage(groupID, content string) error {
	if !n.Groups.IsMember(groupID, n.UserID) {
		return fmt.Errorf("not a member of group %q", groupID)
	}
	f := codec.New("GROUP_MESSAGE")
	f.Set("FROM", n.UserID)
	f.Set("GROUP_ID", groupID)
	f.Set("CONTENT", content)
	f.Set("MESSAGE_ID", newMessageID())
	f.Set("TOKEN", token.Issue(n.UserID, token.ScopeGroup, 0))

	data, err := codec.Encode(f)
	if err != nil {
		return err
	}
	for _, memberID := range n.Groups.Members(groupID) {
		if memberID == n.UserID {
			continue
		}
		if peer := n.Registry.Get(memberID); peer != nil {
			transport.Unicast(peer.IP, peer.Port, data)
		}
	}
	return nil
}

func (n *Node) resolveUserIDs(names []string) ([]string, error) {
	out := make([]string, 0, len(names))
	for _, name := range names {
		p := n.findPeerByName(name)
		if p == nil {
			return nil, fmt.Errorf("unknown peer %q", name)
		}
		out = append(out, p.UserID)
	}
	return out, nil
}
