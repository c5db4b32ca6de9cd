package vectorstore

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/hyperjump/bottlematch/internal/storage"
	"github.com/hyperjump/bottlematch/pkg/utils"
)

// snapshotMagic starts every index snapshot. The layout after it is little endian:
// dimension (4), n (4), then per slot: idLen (4), id bytes, vector (dimension*4 bytes).
var snapshotMagic = []byte("BMIDX\x00\x01\x00")

// PersistIndex writes the index and its slot order to path in one atomic replace.
// Metadata is not included; it lives in the backend.
func (s *Store) PersistIndex(path string) error {
	if path == "" {
		return storageError("persist index", errors.New("empty path"))
	}
	s.mu.RLock()
	data, err := s.encodeSnapshotLocked()
	n := len(s.ids)
	s.mu.RUnlock()
	if err != nil {
		return internalError("encode snapshot", err)
	}
	if err := storage.WriteFileAtomic(path, data); err != nil {
		return storageError("persist index", err)
	}
	s.logger.Debug("index persisted", zap.String("path", path), zap.Int("entries", n))
	return nil
}

func (s *Store) encodeSnapshotLocked() ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(snapshotMagic)
	_ = binary.Write(&buf, binary.LittleEndian, uint32(s.dim))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(s.ids)))
	for slot, id := range s.ids {
		vec, err := s.index.Vector(slot)
		if err != nil {
			return nil, err
		}
		_ = binary.Write(&buf, binary.LittleEndian, uint32(len(id)))
		buf.WriteString(id)
		buf.Write(storage.EncodeEmbedding(vec))
	}
	return buf.Bytes(), nil
}

// RestoreIndex replaces the index and slot mapping with the snapshot at path. A missing
// file is not an error and leaves the store unchanged. Metadata is untouched; call
// ReloadMetadata to pair it with the backend.
func (s *Store) RestoreIndex(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return storageError("restore index", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return storageError("restore index", err)
	}

	ids, vecs, err := s.decodeSnapshot(bufio.NewReader(f), info.Size())
	if err != nil {
		return err
	}
	idx, err := s.buildIndex(vecs)
	if err != nil {
		return internalError("build index", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.swapIndexLocked(idx, ids)
	s.logger.Debug("index restored", zap.String("path", path), zap.Int("entries", len(ids)))
	return nil
}

// snapshotHeaderSize is the magic plus the dimension and count fields.
var snapshotHeaderSize = int64(len(snapshotMagic)) + 8

// decodeSnapshot reads a snapshot of size bytes. Counts and lengths from the file are
// checked against the bytes that remain before anything is allocated for them.
func (s *Store) decodeSnapshot(r io.Reader, size int64) ([]string, [][]float32, error) {
	corrupt := func(what string, err error) error {
		return storageError("restore index", fmt.Errorf("corrupt snapshot (%s): %w", what, err))
	}

	magic := make([]byte, len(snapshotMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, nil, corrupt("header", err)
	}
	if !bytes.Equal(magic, snapshotMagic) {
		return nil, nil, corrupt("header", errors.New("bad magic"))
	}
	var dim, n uint32
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return nil, nil, corrupt("dimensions", err)
	}
	if int(dim) != s.dim {
		return nil, nil, dimensionError(int(dim), s.dim, "")
	}
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, nil, corrupt("count", err)
	}

	vecBytes := int64(s.dim) * 4
	remaining := size - snapshotHeaderSize
	if int64(n) > remaining/(4+vecBytes) {
		return nil, nil, corrupt("count", fmt.Errorf("%d entries do not fit in %d bytes", n, remaining))
	}

	ids := make([]string, 0, n)
	vecs := make([][]float32, 0, n)
	seen := make(map[string]struct{}, n)
	buf := make([]byte, vecBytes)
	for i := uint32(0); i < n; i++ {
		var idLen uint32
		if err := binary.Read(r, binary.LittleEndian, &idLen); err != nil {
			return nil, nil, corrupt("id length", err)
		}
		remaining -= 4 + vecBytes
		if int64(idLen) > remaining {
			return nil, nil, corrupt("id length", fmt.Errorf("id of %d bytes exceeds the %d bytes left", idLen, remaining))
		}
		remaining -= int64(idLen)
		idBytes := make([]byte, idLen)
		if _, err := io.ReadFull(r, idBytes); err != nil {
			return nil, nil, corrupt("id", err)
		}
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, nil, corrupt("vector", err)
		}
		id := string(idBytes)
		if _, dup := seen[id]; dup {
			return nil, nil, corrupt("ids", fmt.Errorf("duplicate id %q", id))
		}
		seen[id] = struct{}{}
		raw, _ := storage.DecodeEmbedding(buf)
		vec, ok := utils.NormalizedCopy(raw)
		if !ok {
			return nil, nil, degenerateError(id)
		}
		ids = append(ids, id)
		vecs = append(vecs, vec)
	}
	return ids, vecs, nil
}
