// Package filetransfer implements the FILE_OFFER/FILE_CHUNK/FILE_RECEIVED
// state machine: chunked sends, order-independent chunk collection, and
// atomic reassembly.
package filetransfer

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"sync"
)

// ChunkSize is the raw (pre-base64) size of every chunk but the last.
const ChunkSize = 1024

// NewFileID returns a random 4-byte hex file identifier.
func NewFileID() (string, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("filetransfer: generate file id: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}

// GuessMIME returns the MIME type for path's extension, defaulting to
// application/octet-stream when unknown.
func GuessMIME(path string) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return "application/octet-stream"
}

// Outbound tracks one file this node is sending.
type Outbound struct {
	FileID      string
	Recipient   string
	Path        string
	ChunkSize   int
	TotalChunks int
	NextChunk   int
}

// NewOutbound prepares an Outbound transfer descriptor for path, without
// reading the file yet (Chunk reads lazily).
func NewOutbound(path, recipient string) (*Outbound, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("filetransfer: stat %s: %w", path, err)
	}
	id, err := NewFileID()
	if err != nil {
		return nil, err
	}
	total := int((info.Size() + ChunkSize - 1) / ChunkSize)
	if total == 0 {
		total = 1
	}
	return &Outbound{
		FileID:      id,
		Recipient:   recipient,
		Path:        path,
		ChunkSize:   ChunkSize,
		TotalChunks: total,
	}, nil
}

// Chunk reads the idx'th chunk from disk.
func (o *Outbound) Chunk(idx int) ([]byte, error) {
	f, err := os.Open(o.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, o.ChunkSize)
	n, err := f.ReadAt(buf, int64(idx)*int64(o.ChunkSize))
	if err != nil && n == 0 {
		return nil, err
	}
	return buf[:n], nil
}

// Inbound tracks one file another node is sending to this one.
type Inbound struct {
	FileID      string
	From        string
	Filename    string
	Filesize    int64
	Filetype    string
	Accepted    bool
	Rejected    bool
	chunks      map[int][]byte
	totalChunks int
}

// Manager owns all in-flight inbound and outbound transfers.
type Manager struct {
	mu       sync.Mutex
	inbound  map[string]*Inbound
	outbound map[string]*Outbound
	destDir  string
}

// NewManager returns a Manager that writes completed files under destDir.
func NewManager(destDir string) *Manager {
	return &Manager{
		inbound:  make(map[string]*Inbound),
		outbound: make(map[string]*Outbound),
		destDir:  destDir,
	}
}

// DestDir returns the directory completed inbound transfers are written to.
func (m *Manager) DestDir() string { return m.destDir }

// Offer registers an inbound FILE_OFFER as pending: neither accepted nor
// rejected yet. Chunks may arrive before the local user decides (they race
// over the LAN ahead of the `file accept`/`file reject` command), so a
// pending offer still buffers them — only an explicit Reject discards
// future chunks.
func (m *Manager) Offer(fileID, from, filename string, filesize int64, filetype string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inbound[fileID] = &Inbound{
		FileID:   fileID,
		From:     from,
		Filename: filename,
		Filesize: filesize,
		Filetype: filetype,
		chunks:   make(map[int][]byte),
	}
}

// TrackOutbound registers a send in progress for NextOutboundChunk
// bookkeeping until FinishOutbound drops it. Chunks are not retried.
func (m *Manager) TrackOutbound(o *Outbound) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outbound[o.FileID] = o
}

// ErrNotFound is returned when a chunk or receipt refers to an unknown
// file ID.
var ErrNotFound = fmt.Errorf("filetransfer: unknown file id")

// Chunk result describes what happened to an applied chunk.
type ChunkResult int

const (
	ChunkIgnored ChunkResult = iota
	ChunkAccepted
	ChunkCompleted
)

// ApplyChunk stores one chunk. Chunks for unknown or rejected file_ids are
// silently dropped (ChunkIgnored). When the last chunk completing the set
// arrives, the file is reassembled to disk and ChunkCompleted is returned.
func (m *Manager) ApplyChunk(fileID string, index, total int, data []byte) (ChunkResult, error) {
	m.mu.Lock()
	in, ok := m.inbound[fileID]
	if !ok || in.Rejected {
		m.mu.Unlock()
		return ChunkIgnored, nil
	}
	in.chunks[index] = data
	in.totalChunks = total
	complete := len(in.chunks) == total
	m.mu.Unlock()

	if !complete {
		return ChunkAccepted, nil
	}
	if err := m.reassemble(in); err != nil {
		return ChunkAccepted, err
	}
	return ChunkCompleted, nil
}

// reassemble concatenates chunks 0..N-1 in order and writes them to
// destDir/filename via a temp-file-then-rename, so a crash mid-write never
// leaves a half-written destination file.
func (m *Manager) reassemble(in *Inbound) error {
	if err := os.MkdirAll(m.destDir, 0o755); err != nil {
		return fmt.Errorf("filetransfer: create dest dir: %w", err)
	}

	tmp, err := os.CreateTemp(m.destDir, ".recv-*.tmp")
	if err != nil {
		return fmt.Errorf("filetransfer: create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	m.mu.Lock()
	total := in.totalChunks
	for i := 0; i < total; i++ {
		if _, err := tmp.Write(in.chunks[i]); err != nil {
			m.mu.Unlock()
			tmp.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("filetransfer: write chunk %d: %w", i, err)
		}
	}
	m.mu.Unlock()

	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("filetransfer: close temp file: %w", err)
	}

	dest := filepath.Join(m.destDir, in.Filename)
	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("filetransfer: move into place: %w", err)
	}

	slog.Info("file transfer complete", "file_id", in.FileID, "filename", in.Filename, "bytes", in.Filesize)
	m.mu.Lock()
	delete(m.inbound, in.FileID)
	m.mu.Unlock()
	return nil
}

// Reject marks fileID's future chunks to be discarded.
func (m *Manager) Reject(fileID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if in, ok := m.inbound[fileID]; ok {
		in.Accepted = false
		in.Rejected = true
	}
}

// Accept flips a pending offer to accepted without disturbing any chunks
// already buffered for it (chunks may race ahead of the user's decision).
func (m *Manager) Accept(fileID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.inbound[fileID]
	if !ok {
		return ErrNotFound
	}
	in.Accepted = true
	in.Rejected = false
	return nil
}

// NextOutboundChunk returns the next chunk index to send and advances the
// cursor, or ok=false once all chunks have been sent.
func (m *Manager) NextOutboundChunk(fileID string) (idx int, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, exists := m.outbound[fileID]
	if !exists || o.NextChunk >= o.TotalChunks {
		return 0, false
	}
	idx = o.NextChunk
	o.NextChunk++
	return idx, true
}

// FinishOutbound drops bookkeeping for a send that's done (acked via
// FILE_RECEIVED or abandoned).
func (m *Manager) FinishOutbound(fileID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.outbound, fileID)
}
