package main

import (
	"encoding/base64"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/Solenad/mp-csnetwk-group4/internal/codec"
	"github.com/Solenad/mp-csnetwk-group4/internal/events"
	"github.com/Solenad/mp-csnetwk-group4/internal/filetransfer"
	"github.com/Solenad/mp-csnetwk-group4/internal/game"
	"github.com/Solenad/mp-csnetwk-group4/internal/registry"
	"github.com/Solenad/mp-csnetwk-group4/internal/token"
	"github.com/Solenad/mp-csnetwk-group4/internal/transport"
)

// Dispatcher runs the full inbound pipeline for every datagram: one
// exported entry point, one switch over TYPE, each case self-contained.
// Every peer is an unauthenticated stranger on the LAN, so every TYPE
// that requires a token passes a scope/bind_check gate before any state
// is touched.
type Dispatcher struct {
	node    *Node
	limiter *peerLimiter
}

// NewDispatcher binds a Dispatcher to the node whose state it mutates.
func NewDispatcher(node *Node) *Dispatcher {
	return &Dispatcher{node: node, limiter: newPeerLimiter()}
}

// HandleDatagram implements the full inbound pipeline. It never panics
// past this boundary: one malformed or malicious peer must not take the
// node down.
func (d *Dispatcher) HandleDatagram(dg transport.Datagram) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[dispatch] recovered panic handling datagram from %s: %v", dg.SourceIP, r)
		}
	}()

	if !d.limiter.Allow(dg.SourceIP) {
		if d.node.Verbose() {
			log.Printf("[dispatch] rate limit exceeded for %s, dropping", dg.SourceIP)
		}
		return
	}

	f, err := codec.Decode(dg.Data)
	if err != nil {
		if d.node.Verbose() {
			log.Printf("[dispatch] malformed frame from %s:%d: %v", dg.SourceIP, dg.SourcePort, err)
		}
		return
	}

	userID := f.UserID()
	if userID == "" {
		if d.node.Verbose() {
			log.Printf("[dispatch] frame from %s:%d missing USER_ID/FROM", dg.SourceIP, dg.SourcePort)
		}
		return
	}

	canonical := registry.Canonicalize(userID, dg.SourceIP, dg.SourcePort)
	if canonical == d.node.UserID {
		return // self-echo suppression
	}

	typ := f.Type()

	if typ == "REVOKE" {
		tok := f["TOKEN"]
		if err := d.node.Tokens.Revoke(tok); err != nil {
			log.Printf("[dispatch] revoke failed: %v", err)
		}
		return
	}

	if scope, required := token.ScopeForType(typ); required {
		tok := f["TOKEN"]
		if !d.node.Tokens.Validate(tok, scope) {
			if d.node.Verbose() {
				log.Printf("[dispatch] invalid token for %s from %s", typ, canonical)
			}
			return
		}
		if !token.BindCheck(tok, dg.SourceIP) {
			if d.node.Verbose() {
				log.Printf("[dispatch] bind_check failed for %s from %s (source %s)", typ, canonical, dg.SourceIP)
			}
			return
		}
	}

	displayName := f["DISPLAY_NAME"]
	peer := d.node.Registry.Upsert(userID, dg.SourceIP, dg.SourcePort, displayName)

	ev := d.dispatchByType(typ, f, peer, dg)
	if d.node.Sink != nil && ev.Kind != "" {
		d.node.Sink.Handle(ev)
	}
}

func (d *Dispatcher) dispatchByType(typ string, f codec.Frame, peer *registry.Peer, dg transport.Datagram) events.Event {
	switch typ {
	case "PROFILE":
		return d.handleProfile(f, peer)
	case "PING":
		return d.handlePing(f, peer)
	case "POST":
		return d.handlePost(f, peer)
	case "DM":
		return d.handleDM(f, peer)
	case "ACK":
		return d.handleAck(f, peer)
	case "FOLLOW":
		return d.handleFollow(f, peer)
	case "UNFOLLOW":
		return d.handleUnfollow(f, peer)
	case "LIKE":
		return d.handleLike(f, peer)
	case "FILE_OFFER":
		return d.handleFileOffer(f, peer)
	case "FILE_CHUNK":
		return d.handleFileChunk(f, peer)
	case "FILE_RECEIVED":
		return d.handleFileReceived(f, peer)
	case "TICTACTOE_INVITE":
		return d.handleGameInvite(f, peer)
	case "TICTACTOE_MOVE":
		return d.handleGameMove(f, peer)
	case "TICTACTOE_RESULT":
		return d.handleGameResult(f, peer)
	case "TICTACTOE_STATE_REQUEST":
		return d.handleStateRequest(f, peer)
	case "TICTACTOE_STATE_RESPONSE":
		return d.handleStateResponse(f, peer)
	case "TICTACTOE_MOVE_REQUEST":
		return d.handleMoveRequest(f, peer)
	case "GROUP_CREATE":
		return d.handleGroupCreate(f, peer)
	case "GROUP_UPDATE":
		return d.handleGroupUpdate(f, peer)
	case "GROUP_MESSAGE":
		return d.handleGroupMessage(f, peer)
	default:
		log.Printf("[dispatch] unhandled TYPE %q from %s", typ, peer.UserID)
		return events.Event{}
	}
}

func summary(kind events.Kind, from, text string) events.Event {
	return events.Event{Kind: kind, From: from, Summary: fmt.Sprintf("%s: %s", from, text), Fields: nil}
}

func verbose(kind events.Kind, from string, f codec.Frame) events.Event {
	fields := make(map[string]string, len(f))
	for k, v := range f {
		fields[k] = v
	}
	return events.Event{Kind: kind, From: from, Summary: string(kind) + " from " + from, Fields: fields}
}

func eventFor(verboseMode bool, kind events.Kind, from, text string, f codec.Frame) events.Event {
	if verboseMode {
		return verbose(kind, from, f)
	}
	return summary(kind, from, text)
}

func (d *Dispatcher) handleProfile(f codec.Frame, peer *registry.Peer) events.Event {
	if status := f["STATUS"]; status != "" {
		_ = status // display-only; peer.DisplayName already updated by Upsert
	}
	if avatarData := f["AVATAR_DATA"]; avatarData != "" {
		data, err := base64.StdEncoding.DecodeString(avatarData)
		if err == nil {
			d.node.Registry.SetAvatar(peer.UserID, registry.Avatar{MimeType: f["AVATAR_TYPE"], Data: data})
		}
	}
	return eventFor(d.node.Verbose(), events.KindProfile, peer.UserID, f["DISPLAY_NAME"]+": "+f["STATUS"], f)
}

func (d *Dispatcher) handlePing(f codec.Frame, peer *registry.Peer) events.Event {
	// Respond to any inbound PING with our own PROFILE.
	if err := d.node.SendProfile(); err != nil {
		log.Printf("[dispatch] ping-response profile send failed: %v", err)
	}
	return eventFor(d.node.Verbose(), events.KindPing, peer.UserID, "ping", f)
}

func (d *Dispatcher) handlePost(f codec.Frame, peer *registry.Peer) events.Event {
	ts := f["TIMESTAMP"]
	if ts == "" {
		ts = f["MESSAGE_ID"]
	}
	d.node.recordSeenPost(ts, peer.UserID)
	return eventFor(d.node.Verbose(), events.KindPost, peer.UserID, f["CONTENT"], f)
}

// handleDM sends the ACK only after the frame is accepted at the
// application layer, never on mere receipt.
func (d *Dispatcher) handleDM(f codec.Frame, peer *registry.Peer) events.Event {
	d.sendAck(peer, f["MESSAGE_ID"])
	return eventFor(d.node.Verbose(), events.KindDM, peer.UserID, f["CONTENT"], f)
}

func (d *Dispatcher) sendAck(peer *registry.Peer, messageID string) {
	ack := codec.New("ACK")
	ack.Set("USER_ID", d.node.UserID)
	ack.Set("MESSAGE_ID", messageID)
	ack.Set("STATUS", "RECEIVED")
	data, err := codec.Encode(ack)
	if err != nil {
		log.Printf("[dispatch] ack encode: %v", err)
		return
	}
	transport.Unicast(peer.IP, peer.Port, data)
}

func (d *Dispatcher) handleAck(f codec.Frame, peer *registry.Peer) events.Event {
	d.node.Reliable.Ack(f["MESSAGE_ID"])
	return events.Event{} // internal plumbing; nothing user-visible
}

func (d *Dispatcher) handleFollow(f codec.Frame, peer *registry.Peer) events.Event {
	return eventFor(d.node.Verbose(), events.KindFollow, peer.UserID, "followed you", f)
}

func (d *Dispatcher) handleUnfollow(f codec.Frame, peer *registry.Peer) events.Event {
	return eventFor(d.node.Verbose(), events.KindUnfollow, peer.UserID, "unfollowed you", f)
}

func (d *Dispatcher) handleLike(f codec.Frame, peer *registry.Peer) events.Event {
	action := f["ACTION"]
	return eventFor(d.node.Verbose(), events.KindLike, peer.UserID, action+" your post "+f["POST_TIMESTAMP"], f)
}

func (d *Dispatcher) handleFileOffer(f codec.Frame, peer *registry.Peer) events.Event {
	size, _ := strconv.ParseInt(f["FILESIZE"], 10, 64)
	// Accept/reject is a local UI decision; the offer is recorded as
	// pending until the command surface's FileAccept/FileReject decides
	// it, but chunks are still buffered while pending so a fast sender
	// doesn't race ahead of the user and lose data.
	d.node.Files.Offer(f["FILEID"], peer.UserID, f["FILENAME"], size, f["FILETYPE"])
	return eventFor(d.node.Verbose(), events.KindFileOffer, peer.UserID,
		fmt.Sprintf("offers file %q (%d bytes, id=%s)", f["FILENAME"], size, f["FILEID"]), f)
}

func (d *Dispatcher) handleFileChunk(f codec.Frame, peer *registry.Peer) events.Event {
	index, _ := strconv.Atoi(f["CHUNK_INDEX"])
	total, _ := strconv.Atoi(f["TOTAL_CHUNKS"])
	data, err := base64.StdEncoding.DecodeString(f["DATA"])
	if err != nil {
		return events.Event{}
	}

	result, err := d.node.Files.ApplyChunk(f["FILEID"], index, total, data)
	if err != nil {
		d.sendFileReceived(peer, f["FILEID"], "ERROR")
		return eventFor(d.node.Verbose(), events.KindFileDone, peer.UserID, "file write failed: "+err.Error(), f)
	}
	if result == filetransfer.ChunkCompleted {
		d.sendFileReceived(peer, f["FILEID"], "COMPLETE")
		return eventFor(d.node.Verbose(), events.KindFileDone, peer.UserID, "file "+f["FILEID"]+" received", f)
	}
	return events.Event{}
}

func (d *Dispatcher) sendFileReceived(peer *registry.Peer, fileID, status string) {
	fr := codec.New("FILE_RECEIVED")
	fr.Set("USER_ID", d.node.UserID)
	fr.Set("FILEID", fileID)
	fr.Set("STATUS", status)
	data, err := codec.Encode(fr)
	if err != nil {
		log.Printf("[dispatch] file_received encode: %v", err)
		return
	}
	transport.Unicast(peer.IP, peer.Port, data)
}

func (d *Dispatcher) handleFileReceived(f codec.Frame, peer *registry.Peer) events.Event {
	d.node.Files.FinishOutbound(f["FILEID"])
	return eventFor(d.node.Verbose(), events.KindFileDone, peer.UserID,
		"file "+f["FILEID"]+" delivery "+f["STATUS"], f)
}

func (d *Dispatcher) handleGameInvite(f codec.Frame, peer *registry.Peer) events.Event {
	inviterSymbol := game.Symbol(f["SYMBOL"])
	if inviterSymbol == "" {
		inviterSymbol = game.SymbolX
	}
	d.node.Games.Create(f["GAMEID"], peer.UserID, d.node.UserID, inviterSymbol)
	return eventFor(d.node.Verbose(), events.KindGameInvite, peer.UserID, "invited you to tic-tac-toe ("+f["GAMEID"]+")", f)
}

func (d *Dispatcher) handleGameMove(f codec.Frame, peer *registry.Peer) events.Event {
	gameID := f["GAMEID"]
	turn, _ := strconv.Atoi(f["TURN"])
	pos, _ := strconv.Atoi(f["POSITION"])
	symbol := game.Symbol(f["SYMBOL"])

	outcome, g := d.node.Games.ApplyMove(gameID, peer.UserID, turn, pos, symbol)
	switch outcome {
	case game.MoveUnknownGame:
		d.sendStateRequest(peer, gameID)
		return events.Event{}
	case game.MoveBadSymbol:
		if d.node.Verbose() {
			log.Printf("[dispatch] rejecting move from %s: symbol %q doesn't match its assignment in game %s", peer.UserID, symbol, gameID)
		}
		return events.Event{}
	case game.MoveDuplicate:
		d.sendAck(peer, f["MESSAGE_ID"])
		return events.Event{}
	case game.MoveMissingHistory:
		d.sendMoveRequest(peer, gameID, g.Turn, turn-1)
		return events.Event{}
	case game.MoveApplied:
		d.sendAck(peer, f["MESSAGE_ID"])
		if result, line := game.CheckWinner(g.Board); result != "" {
			d.broadcastResult(g, peer, result, line)
		}
		return eventFor(d.node.Verbose(), events.KindGameMove, peer.UserID,
			fmt.Sprintf("played %s at %d in game %s", symbol, pos, gameID), f)
	}
	return events.Event{}
}

func (d *Dispatcher) sendStateRequest(peer *registry.Peer, gameID string) {
	f := codec.New("TICTACTOE_STATE_REQUEST")
	f.Set("USER_ID", d.node.UserID)
	f.Set("GAMEID", gameID)
	data, err := codec.Encode(f)
	if err != nil {
		return
	}
	transport.Unicast(peer.IP, peer.Port, data)
}

func (d *Dispatcher) sendMoveRequest(peer *registry.Peer, gameID string, fromTurn, toTurn int) {
	f := codec.New("TICTACTOE_MOVE_REQUEST")
	f.Set("USER_ID", d.node.UserID)
	f.Set("GAMEID", gameID)
	f.Set("FROM_TURN", strconv.Itoa(fromTurn))
	f.Set("TO_TURN", strconv.Itoa(toTurn))
	data, err := codec.Encode(f)
	if err != nil {
		return
	}
	transport.Unicast(peer.IP, peer.Port, data)
}

func (d *Dispatcher) broadcastResult(g *game.Game, peer *registry.Peer, result string, line []int) {
	lineStr := ""
	if line != nil {
		parts := make([]string, len(line))
		for i, v := range line {
			parts[i] = strconv.Itoa(v)
		}
		lineStr = strings.Join(parts, ",")
	}
	f := codec.New("TICTACTOE_RESULT")
	f.Set("USER_ID", d.node.UserID)
	f.Set("GAMEID", g.ID)
	f.Set("RESULT", result)
	f.Set("WINNING_LINE", lineStr)
	f.Set("MESSAGE_ID", newMessageID())
	f.Set("TOKEN", token.Issue(d.node.UserID, token.ScopeGame, 0))
	data, err := codec.Encode(f)
	if err != nil {
		log.Printf("[dispatch] result encode: %v", err)
		return
	}
	transport.Unicast(peer.IP, peer.Port, data)
	d.node.Games.Delete(g.ID)
}

func (d *Dispatcher) handleGameResult(f codec.Frame, peer *registry.Peer) events.Event {
	gameID := f["GAMEID"]
	d.node.Games.Delete(gameID)
	return eventFor(d.node.Verbose(), events.KindGameResult, peer.UserID,
		"game "+gameID+" result: "+f["RESULT"], f)
}

func (d *Dispatcher) handleStateRequest(f codec.Frame, peer *registry.Peer) events.Event {
	g := d.node.Games.Get(f["GAMEID"])
	if g == nil {
		return events.Event{}
	}
	resp := codec.New("TICTACTOE_STATE_RESPONSE")
	resp.Set("USER_ID", d.node.UserID)
	resp.Set("GAMEID", g.ID)
	resp.Set("TURN", strconv.Itoa(g.Turn))
	board := make([]string, 9)
	for i, s := range g.Board {
		board[i] = string(s)
	}
	resp.Set("BOARD", strings.Join(board, ","))
	data, err := codec.Encode(resp)
	if err != nil {
		return events.Event{}
	}
	transport.Unicast(peer.IP, peer.Port, data)
	return events.Event{}
}

// parseBoard turns a 9-cell comma-joined BOARD field back into a board
// array; empty cells round-trip as empty strings, so this can't reuse
// splitCSV (which drops empty fields).
func parseBoard(s string) ([9]game.Symbol, error) {
	var board [9]game.Symbol
	parts := strings.Split(s, ",")
	if len(parts) != 9 {
		return board, fmt.Errorf("dispatch: expected 9 board cells, got %d", len(parts))
	}
	for i, p := range parts {
		board[i] = game.Symbol(p)
	}
	return board, nil
}

func (d *Dispatcher) handleStateResponse(f codec.Frame, peer *registry.Peer) events.Event {
	turn, err := strconv.Atoi(f["TURN"])
	if err != nil {
		return events.Event{}
	}
	board, err := parseBoard(f["BOARD"])
	if err != nil {
		if d.node.Verbose() {
			log.Printf("[dispatch] bad state response for game %s from %s: %v", f["GAMEID"], peer.UserID, err)
		}
		return events.Event{}
	}
	if d.node.Games.ApplyState(f["GAMEID"], turn, board) == nil {
		return events.Event{}
	}
	return eventFor(d.node.Verbose(), events.KindGameMove, peer.UserID, "resynced game "+f["GAMEID"], f)
}

func (d *Dispatcher) handleMoveRequest(f codec.Frame, peer *registry.Peer) events.Event {
	// The peer is asking us to resend moves fromTurn..toTurn. Our local
	// game state doesn't keep move history beyond the board, only which
	// turns have already been applied, so the best we can do is point
	// the peer back at a full state sync.
	d.sendStateRequest(peer, f["GAMEID"])
	return events.Event{}
}

func (d *Dispatcher) handleGroupCreate(f codec.Frame, peer *registry.Peer) events.Event {
	members := splitCSV(f["MEMBERS"])
	d.node.Groups.Create(f["GROUP_ID"], f["GROUP_NAME"], peer.UserID, members)
	return eventFor(d.node.Verbose(), events.KindGroupCreate, peer.UserID,
		"created group "+f["GROUP_NAME"], f)
}

func (d *Dispatcher) handleGroupUpdate(f codec.Frame, peer *registry.Peer) events.Event {
	add := splitCSV(f["ADD"])
	remove := splitCSV(f["REMOVE"])
	if err := d.node.Groups.Update(f["GROUP_ID"], peer.UserID, add, remove); err != nil {
		if d.node.Verbose() {
			log.Printf("[dispatch] group update rejected: %v", err)
		}
		return events.Event{}
	}
	return eventFor(d.node.Verbose(), events.KindGroupUpdate, peer.UserID,
		"updated group "+f["GROUP_ID"], f)
}

func (d *Dispatcher) handleGroupMessage(f codec.Frame, peer *registry.Peer) events.Event {
	groupID := f["GROUP_ID"]
	if !d.node.Groups.IsMember(groupID, peer.UserID) {
		if d.node.Verbose() {
			log.Printf("[dispatch] dropping group message from non-member %s in group %s", peer.UserID, groupID)
		}
		return events.Event{}
	}
	return eventFor(d.node.Verbose(), events.KindGroupMsg, peer.UserID, f["CONTENT"], f)
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
