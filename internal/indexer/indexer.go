// Package indexer embeds bottle images and adds them to the vector store and name index.
package indexer

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/bottlematch/internal/embedding"
	"github.com/hyperjump/bottlematch/internal/fileid"
	"github.com/hyperjump/bottlematch/internal/keyword"
	"github.com/hyperjump/bottlematch/internal/models"
	"github.com/hyperjump/bottlematch/internal/vectorstore"
	"github.com/hyperjump/bottlematch/pkg/utils"
)

// DefaultExtensions are the image extensions ingested when none are configured.
var DefaultExtensions = []string{".jpg", ".jpeg", ".png"}

// Indexer embeds images and writes them through the vector store (which persists them)
// and the name index.
type Indexer struct {
	store     *vectorstore.Store
	embedder  embedding.Embedder
	names     *keyword.NameIndex // optional
	imagesDir string
	exts      []string
	workers   int
	logger    *zap.Logger
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a logger for debug output (file indexed, bottle deleted, etc.).
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) { idx.logger = l }
}

// WithImagesDir makes IndexFile copy source images into dir, where the server serves
// them under images/.
func WithImagesDir(dir string) IndexerOption {
	return func(idx *Indexer) { idx.imagesDir = dir }
}

// WithExtensions sets the image extensions accepted by IndexFile and IndexDirectory.
func WithExtensions(exts []string) IndexerOption {
	return func(idx *Indexer) {
		if len(exts) > 0 {
			idx.exts = exts
		}
	}
}

// WithWorkers sets how many images IndexDirectory embeds concurrently.
func WithWorkers(n int) IndexerOption {
	return func(idx *Indexer) {
		if n > 0 {
			idx.workers = n
		}
	}
}

// NewIndexer creates an indexer. names may be nil.
func NewIndexer(store *vectorstore.Store, embedder embedding.Embedder, names *keyword.NameIndex, opts ...IndexerOption) *Indexer {
	idx := &Indexer{
		store:    store,
		embedder: embedder,
		names:    names,
		exts:     DefaultExtensions,
		workers:  4,
	}
	for _, opt := range opts {
		opt(idx)
	}
	idx.logger = utils.OrNop(idx.logger)
	return idx
}

// IndexBottle adds or replaces a bottle from an API request. The embedding is taken as
// given or computed from the base64 image. An empty id gets a generated UUID.
func (idx *Indexer) IndexBottle(ctx context.Context, in *models.BottleInput) (models.Bottle, error) {
	if err := in.Validate(); err != nil {
		return models.Bottle{}, err
	}
	id := in.ID
	if id == "" {
		id = uuid.New().String()
	}
	vec := in.Embedding
	if in.Image != "" {
		data, err := DecodeBase64Image(in.Image)
		if err != nil {
			return models.Bottle{}, err
		}
		vec, err = idx.embedder.EmbedImage(ctx, data)
		if err != nil {
			return models.Bottle{}, fmt.Errorf("failed to embed image: %w", err)
		}
	}
	b := models.Bottle{ID: id, Name: in.Name, ImageURL: in.ImageURL}
	if err := idx.add(ctx, b, vec); err != nil {
		return models.Bottle{}, err
	}
	return b, nil
}

// IndexFile embeds an image file and adds it under the id and name derived from the
// file name. The image is copied into the images directory when one is configured.
func (idx *Indexer) IndexFile(ctx context.Context, path string) (models.Bottle, error) {
	idx.logger.Debug("indexer indexing file", zap.String("path", path))
	data, err := idx.readImage(path)
	if err != nil {
		return models.Bottle{}, err
	}
	vec, err := idx.embedder.EmbedImage(ctx, data)
	if err != nil {
		return models.Bottle{}, fmt.Errorf("failed to embed %s: %w", path, err)
	}
	return idx.addFile(ctx, path, vec)
}

func (idx *Indexer) addFile(ctx context.Context, path string, vec []float32) (models.Bottle, error) {
	b := models.Bottle{
		ID:       fileid.BottleID(path),
		Name:     fileid.BottleName(path),
		ImageURL: fileid.ImageURL(path),
	}
	if idx.imagesDir != "" {
		if err := copyImage(path, filepath.Join(idx.imagesDir, filepath.Base(path))); err != nil {
			return models.Bottle{}, fmt.Errorf("copy image: %w", err)
		}
	}
	if err := idx.add(ctx, b, vec); err != nil {
		return models.Bottle{}, err
	}
	idx.logger.Debug("indexer file indexed", zap.String("path", path), zap.String("id", b.ID))
	return b, nil
}

func (idx *Indexer) add(ctx context.Context, b models.Bottle, vec []float32) error {
	if _, err := idx.store.AddEntry(ctx, b.ID, vec, b.Name, b.ImageURL, true); err != nil {
		return err
	}
	if idx.names != nil {
		if err := idx.names.Index(ctx, b.ID, b.Name); err != nil {
			return fmt.Errorf("failed to index name: %w", err)
		}
	}
	return nil
}

// Report summarizes a directory ingestion.
type Report struct {
	Indexed []string    `json:"indexed"`
	Failed  []FileError `json:"failed,omitempty"`
}

// FileError is a per-file ingestion failure.
type FileError struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// IndexDirectory ingests every image directly inside dir. Images are embedded
// concurrently and then added in file name order, so slot assignment does not depend
// on scheduling. A file that fails is recorded in the report and does not stop the run.
func (idx *Indexer) IndexDirectory(ctx context.Context, dir string) (*Report, error) {
	paths, err := idx.listImages(dir)
	if err != nil {
		return nil, err
	}

	vecs := make([][]float32, len(paths))
	errs := make([]error, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(idx.workers)
	for i, p := range paths {
		i, p := i, p
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			data, err := idx.readImage(p)
			if err == nil {
				vecs[i], err = idx.embedder.EmbedImage(gctx, data)
			}
			errs[i] = err
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &Report{}
	for i, p := range paths {
		if errs[i] == nil {
			_, errs[i] = idx.addFile(ctx, p, vecs[i])
		}
		if errs[i] != nil {
			idx.logger.Warn("failed to index image", zap.String("path", p), zap.Error(errs[i]))
			report.Failed = append(report.Failed, FileError{Path: p, Error: errs[i].Error()})
			continue
		}
		report.Indexed = append(report.Indexed, fileid.BottleID(p))
	}
	return report, nil
}

// listImages returns the images directly inside dir, sorted by name.
func (idx *Indexer) listImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read directory: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") || !fileid.IsImage(e.Name(), idx.exts) {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

func (idx *Indexer) readImage(path string) ([]byte, error) {
	if !fileid.IsImage(path, idx.exts) {
		return nil, fmt.Errorf("extension %q not in allowed list", filepath.Ext(path))
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", path)
	}
	return os.ReadFile(path)
}

// DeleteBottle removes a bottle from the store, the backend and the name index.
func (idx *Indexer) DeleteBottle(ctx context.Context, id string) error {
	if err := idx.store.Remove(ctx, id, true); err != nil {
		return err
	}
	if idx.names != nil {
		if err := idx.names.Delete(ctx, id); err != nil {
			return fmt.Errorf("failed to delete from name index: %w", err)
		}
	}
	idx.logger.Debug("indexer bottle deleted", zap.String("id", id))
	return nil
}

// DeleteFile removes the bottle that was ingested from path. Unknown files are ignored.
func (idx *Indexer) DeleteFile(ctx context.Context, path string) error {
	err := idx.DeleteBottle(ctx, fileid.BottleID(path))
	if errors.Is(err, vectorstore.ErrNotFound) {
		return nil
	}
	return err
}

// Reload rebuilds the store from the backend and the name index from the store.
func (idx *Indexer) Reload(ctx context.Context) error {
	if err := idx.store.LoadAll(ctx); err != nil {
		return err
	}
	return idx.RebuildNames(ctx)
}

// RebuildNames re-indexes every bottle name held by the store.
func (idx *Indexer) RebuildNames(ctx context.Context) error {
	if idx.names == nil {
		return nil
	}
	return idx.names.Rebuild(ctx, idx.store.Bottles())
}

// DecodeBase64Image decodes a base64 image, accepting an optional data URL prefix
// ("data:image/jpeg;base64,...") as sent by browsers and the mobile client.
func DecodeBase64Image(s string) ([]byte, error) {
	if i := strings.Index(s, ","); i >= 0 && strings.HasPrefix(s, "data:") {
		s = s[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64 image: %v", models.ErrInvalidRequest, err)
	}
	return data, nil
}

func copyImage(src, dst string) error {
	srcAbs, _ := filepath.Abs(src)
	dstAbs, _ := filepath.Abs(dst)
	if srcAbs == dstAbs {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
