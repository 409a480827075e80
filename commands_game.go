package main

import (
	"fmt"
	"strconv"

	"github.com/Solenad/mp-csnetwk-group4/internal/codec"
	"github.com/Solenad/mp-csnetwk-group4/internal/game"
	"github.com/Solenad/mp-csnetwk-group4/internal/token"
	"github.com/Solenad/mp-csnetwk-group4/internal/transport"
)

// TTTInvite starts a tic-tac-toe game against toName, choosing symbol X
// for the local side. gameID defaults to a fresh one when empty.
func (n *Node) TTTInvite(toName, gameID string) error {
	peer := n.findPeerByName(toName)
	if peer == nil {
		return fmt.Errorf("unknown peer %q", toName)
	}
	if gameID == "" {
		gameID = game.NewGameID()
	}
	n.Games.Create(gameID, n.UserID, peer.UserID, game.SymbolX)

	f := codec.New("TICTACTOE_INVITE")
	f.Set("FROM", n.UserID)
	f.Set("TO", peer.UserID)
	f.Set("GAMEID", gameID)
	f.Set("SYMBOL", string(game.SymbolX))
	f.Set("MESSAGE_ID", newMessageID())
	f.Set("TOKEN", token.Issue(n.UserID, token.ScopeGame, 0))

	data, err := codec.Encode(f)
	if err != nil {
		return err
	}
	if !transport.Unicast(peer.IP, peer.Port, data) {
		return fmt.Errorf("invite to %s failed", toName)
	}
	return nil
}

// TTTMove plays a local move in gameID, sending it reliably and reverting
// the tentative board state on delivery failure.
func (n *Node) TTTMove(gameID string, position int) error {
	g := n.Games.Get(gameID)
	if g == nil {
		return fmt.Errorf("no such game %q", gameID)
	}
	opponentID := g.Opponent(n.UserID)
	peer := n.Registry.Get(opponentID)
	if peer == nil {
		return fmt.Errorf("opponent %q is not a known peer", opponentID)
	}
	symbol, ok := g.Players[n.UserID]
	if !ok {
		return fmt.Errorf("not a player in game %q", gameID)
	}

	turn, err := n.Games.PlayLocalMove(gameID, n.UserID, position)
	if err != nil {
		return err
	}

	msgID := newMessageID()
	f := codec.New("TICTACTOE_MOVE")
	f.Set("FROM", n.UserID)
	f.Set("TO", peer.UserID)
	f.Set("GAMEID", gameID)
	f.Set("TURN", strconv.Itoa(turn))
	f.Set("POSITION", strconv.Itoa(position))
	f.Set("SYMBOL", string(symbol))
	f.Set("MESSAGE_ID", msgID)
	f.Set("TOKEN", token.Issue(n.UserID, token.ScopeGame, 0))

	data, err := codec.Encode(f)
	if err != nil {
		n.Games.UndoMove(gameID, position)
		return err
	}

	ok2 := n.Reliable.Send(msgID, func() bool {
		return transport.Unicast(peer.IP, peer.Port, data)
	})
	if !ok2 {
		n.Games.UndoMove(gameID, position)
		return fmt.Errorf("move delivery failed, reverted")
	}
	return nil
}
