package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hyperjump/bottlematch/internal/models"
	"github.com/sbinet/npyio"
)

const embeddingExt = ".npy"

// DiskStorage keeps one NumPy .npy file per id under dir and the metadata table as a
// single JSON document. This is the layout the Python dataset tooling writes,
// so existing embedding directories load unchanged.
type DiskStorage struct {
	dir          string
	metadataPath string
}

// NewDiskStorage creates the embeddings directory and the metadata parent directory if needed.
func NewDiskStorage(embeddingsDir, metadataPath string) (*DiskStorage, error) {
	if err := os.MkdirAll(embeddingsDir, 0755); err != nil {
		return nil, fmt.Errorf("create embeddings dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(metadataPath), 0755); err != nil {
		return nil, fmt.Errorf("create metadata dir: %w", err)
	}
	return &DiskStorage{dir: embeddingsDir, metadataPath: metadataPath}, nil
}

// Type returns the backend identifier.
func (d *DiskStorage) Type() string { return "disk" }

// LoadMetadata reads the metadata document. A missing file yields an empty table.
func (d *DiskStorage) LoadMetadata(ctx context.Context) ([]models.Bottle, error) {
	data, err := os.ReadFile(d.metadataPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	bottles, err := DecodeMetadata(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", d.metadataPath, err)
	}
	return bottles, nil
}

// SaveMetadata rewrites the metadata document.
func (d *DiskStorage) SaveMetadata(ctx context.Context, bottles []models.Bottle) error {
	data, err := EncodeMetadata(bottles)
	if err != nil {
		return err
	}
	if err := WriteFileAtomic(d.metadataPath, data); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}

// ListEmbeddingIDs returns the ids of all .npy files, sorted.
func (d *DiskStorage) ListEmbeddingIDs(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list embeddings: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, embeddingExt) || strings.HasPrefix(name, ".") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, embeddingExt))
	}
	sort.Strings(ids)
	return ids, nil
}

// LoadEmbedding reads <id>.npy. float32 and float64 arrays are accepted; any shape is
// flattened.
func (d *DiskStorage) LoadEmbedding(ctx context.Context, id string) ([]float32, error) {
	path, err := d.embeddingPath(id)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("embedding %q: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("open embedding %q: %w", id, err)
	}
	defer f.Close()

	r, err := npyio.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("read npy header %q: %w", id, err)
	}
	switch r.Header.Descr.Type {
	case "<f4", "f4", "=f4":
		var vec []float32
		if err := r.Read(&vec); err != nil {
			return nil, fmt.Errorf("read embedding %q: %w", id, err)
		}
		return vec, nil
	case "<f8", "f8", "=f8":
		var wide []float64
		if err := r.Read(&wide); err != nil {
			return nil, fmt.Errorf("read embedding %q: %w", id, err)
		}
		vec := make([]float32, len(wide))
		for i, v := range wide {
			vec[i] = float32(v)
		}
		return vec, nil
	default:
		return nil, fmt.Errorf("embedding %q: unsupported dtype %q", id, r.Header.Descr.Type)
	}
}

// SaveEmbedding writes <id>.npy as a 1-D float32 array.
func (d *DiskStorage) SaveEmbedding(ctx context.Context, id string, vec []float32) error {
	path, err := d.embeddingPath(id)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(d.dir, ".tmp-*"+embeddingExt)
	if err != nil {
		return fmt.Errorf("create embedding %q: %w", id, err)
	}
	if err := npyio.Write(tmp, vec); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write embedding %q: %w", id, err)
	}
	if err := commitTemp(tmp, path); err != nil {
		return fmt.Errorf("write embedding %q: %w", id, err)
	}
	return nil
}

// DeleteEmbedding removes <id>.npy.
func (d *DiskStorage) DeleteEmbedding(ctx context.Context, id string) error {
	path, err := d.embeddingPath(id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete embedding %q: %w", id, err)
	}
	return nil
}

// Close is a no-op for DiskStorage.
func (d *DiskStorage) Close() error {
	return nil
}

func (d *DiskStorage) embeddingPath(id string) (string, error) {
	if err := ValidateID(id); err != nil {
		return "", err
	}
	return filepath.Join(d.dir, id+embeddingExt), nil
}

// WriteFileAtomic writes data to a temp file in the target directory and renames it into place.
func WriteFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	return commitTemp(tmp, path)
}

// commitTemp syncs and closes tmp, then renames it to path.
func commitTemp(tmp *os.File, path string) error {
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return nil
}

// DiskUsageBytes returns the total size in bytes of the given paths.
// Each path may be a file or a directory (recursively summed).
// Missing paths are skipped (contribute 0); errors during walk are returned.
func DiskUsageBytes(paths ...string) (int64, error) {
	var total int64
	for _, p := range paths {
		if p == "" {
			continue
		}
		info, err := os.Stat(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return 0, err
		}
		if info.IsDir() {
			n, err := dirSize(p)
			if err != nil {
				return 0, err
			}
			total += n
		} else {
			total += info.Size()
		}
	}
	return total, nil
}

func dirSize(dir string) (int64, error) {
	var total int64
	err := filepath.Walk(dir, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info != nil && !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total, err
}
