package main

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/Solenad/mp-csnetwk-group4/internal/codec"
	"github.com/Solenad/mp-csnetwk-group4/internal/filetransfer"
	"github.com/Solenad/mp-csnetwk-group4/internal/registry"
	"github.com/Solenad/mp-csnetwk-group4/internal/token"
	"github.com/Solenad/mp-csnetwk-group4/internal/transport"
)

// FileSend offers path to the peer named toName and starts sending its
// chunks: offer first, chunks follow without waiting for an explicit
// per-chunk ACK.
func (n *Node) FileSend(toName, path string) error {
	peer := n.findPeerByName(toName)
	if peer == nil {
		return fmt.Errorf("unknown peer %q", toName)
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	out, err := filetransfer.NewOutbound(path, peer.UserID)
	if err != nil {
		return err
	}
	n.Files.TrackOutbound(out)

	offer := codec.New("FILE_OFFER")
	offer.Set("FROM", n.UserID)
	offer.Set("TO", peer.UserID)
	offer.Set("FILEID", out.FileID)
	offer.Set("FILENAME", filepath.Base(path))
	offer.Set("FILESIZE", strconv.FormatInt(info.Size(), 10))
	offer.Set("FILETYPE", filetransfer.GuessMIME(path))
	offer.Set("TIMESTAMP", fmt.Sprintf("%d", time.Now().Unix()))
	offer.Set("TOKEN", token.Issue(n.UserID, token.ScopeFile, 0))

	data, err := codec.Encode(offer)
	if err != nil {
		return err
	}
	if !transport.Unicast(peer.IP, peer.Port, data) {
		return fmt.Errorf("offer to %s failed", toName)
	}

	go n.sendChunks(peer, out)
	return nil
}

// sendChunks streams every chunk of an outbound transfer with no ordering
// or pacing between them; it runs on its own goroutine so FileSend
// returns as soon as the offer is away.
func (n *Node) sendChunks(peer *registry.Peer, out *filetransfer.Outbound) {
	for {
		idx, ok := n.Files.NextOutboundChunk(out.FileID)
		if !ok {
			return
		}
		data, err := out.Chunk(idx)
		if err != nil {
			return
		}
		chunk := codec.New("FILE_CHUNK")
		chunk.Set("FROM", n.UserID)
		chunk.Set("FILEID", out.FileID)
		chunk.Set("CHUNK_INDEX", strconv.Itoa(idx))
		chunk.Set("TOTAL_CHUNKS", strconv.Itoa(out.TotalChunks))
		chunk.Set("CHUNK_SIZE", strconv.Itoa(len(data)))
		chunk.Set("DATA", base64.StdEncoding.EncodeToString(data))
		chunk.Set("TOKEN", token.Issue(n.UserID, token.ScopeFile, 0))

		encoded, err := codec.Encode(chunk)
		if err != nil {
			continue
		}
		transport.Unicast(peer.IP, peer.Port, encoded)
	}
}

// FileAccept accepts a pending inbound offer.
func (n *Node) FileAccept(fileID string) error {
	return n.Files.Accept(fileID)
}

// FileReject rejects a pending inbound offer; its future chunks are
// silently dropped.
func (n *Node) FileReject(fileID string) error {
	n.Files.Reject(fileID)
	return nil
}
