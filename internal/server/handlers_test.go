package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/hyperjump/bottlematch/internal/config"
	"github.com/hyperjump/bottlematch/internal/embedding"
	"github.com/hyperjump/bottlematch/internal/indexer"
	"github.com/hyperjump/bottlematch/internal/keyword"
	"github.com/hyperjump/bottlematch/internal/models"
	"github.com/hyperjump/bottlematch/internal/search"
	"github.com/hyperjump/bottlematch/internal/storage"
	"github.com/hyperjump/bottlematch/internal/vectorstore"
	"go.uber.org/zap"
)

type mockWatchService struct {
	dirs []string
}

func (m *mockWatchService) Directories() []string {
	return append([]string(nil), m.dirs...)
}

func (m *mockWatchService) AddDirectory(path string, _ bool) error {
	for _, d := range m.dirs {
		if d == path {
			return nil
		}
	}
	m.dirs = append(m.dirs, path)
	return nil
}

func (m *mockWatchService) RemoveDirectory(path string) error {
	for i, d := range m.dirs {
		if d == path {
			m.dirs = append(m.dirs[:i], m.dirs[i+1:]...)
			return nil
		}
	}
	return nil
}

type testEnv struct {
	srv     *Server
	handler http.Handler
	store   *vectorstore.Store
	cfg     *config.Config
}

func newTestEnv(t *testing.T, watch WatchService) *testEnv {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		Storage: config.StorageConfig{
			Backend:       config.BackendDisk,
			EmbeddingsDir: filepath.Join(dir, "embeddings"),
			MetadataPath:  filepath.Join(dir, "metadata.json"),
			IndexPath:     filepath.Join(dir, "index", "bottles.idx"),
			ImagesDir:     filepath.Join(dir, "images"),
		},
		Vector: config.VectorConfig{Dimensions: 4},
	}
	config.ApplyDefaults(cfg)

	backend, err := storage.NewBackend(&cfg.Storage, nil)
	if err != nil {
		t.Fatal(err)
	}
	store, err := vectorstore.New(4, vectorstore.WithStorage(backend))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	names, err := keyword.NewNameIndex()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = names.Close() })

	embedder := embedding.NewMockEmbedder(4)
	engine := search.NewEngine(store, embedder, names, &cfg.Search)
	idx := indexer.NewIndexer(store, embedder, names)
	srv := NewServer(engine, idx, store, cfg, zap.NewNop(), watch, "")
	return &testEnv{srv: srv, handler: srv.Router(), store: store, cfg: cfg}
}

func (e *testEnv) do(t *testing.T, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(data)
	}
	r := httptest.NewRequest(method, target, rd)
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, r)
	return w
}

func (e *testEnv) addBottle(t *testing.T, id, name string, vec []float32) {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/v1/bottles", models.BottleInput{ID: id, Name: name, Embedding: vec})
	if w.Code != http.StatusCreated {
		t.Fatalf("add %s: status %d, body %s", id, w.Code, w.Body.String())
	}
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func TestHandleRootAndHealth(t *testing.T) {
	env := newTestEnv(t, nil)
	if w := env.do(t, http.MethodGet, "/", nil); w.Code != http.StatusOK {
		t.Errorf("root: got %d", w.Code)
	}
	env.addBottle(t, "oban_14", "Oban 14", []float32{0, 0, 0, 1})
	w := env.do(t, http.MethodGet, "/health", nil)
	var out struct {
		Status  string `json:"status"`
		Entries int    `json:"entries"`
	}
	decode(t, w, &out)
	if out.Status != "ok" || out.Entries != 1 {
		t.Errorf("health: %+v", out)
	}
}

func TestBottleLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addBottle(t, "lagavulin_16", "Lagavulin 16", []float32{1, 0, 0, 0})
	env.addBottle(t, "talisker_10", "Talisker 10", []float32{0, 1, 0, 0})

	w := env.do(t, http.MethodGet, "/api/v1/bottles/lagavulin_16", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get: status %d", w.Code)
	}
	var b models.Bottle
	decode(t, w, &b)
	if b.Name != "Lagavulin 16" {
		t.Errorf("get: %+v", b)
	}

	w = env.do(t, http.MethodPost, "/api/v1/search", models.SearchRequest{Embedding: []float32{0.9, 0.1, 0, 0}, TopK: 1})
	if w.Code != http.StatusOK {
		t.Fatalf("search: status %d, body %s", w.Code, w.Body.String())
	}
	var resp models.IdentifyResponse
	decode(t, w, &resp)
	if len(resp.Matches) != 1 || resp.Matches[0].ID != "lagavulin_16" {
		t.Errorf("search matches: %+v", resp.Matches)
	}

	if w := env.do(t, http.MethodDelete, "/api/v1/bottles/lagavulin_16", nil); w.Code != http.StatusOK {
		t.Errorf("delete: status %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/api/v1/bottles/lagavulin_16", nil); w.Code != http.StatusNotFound {
		t.Errorf("get after delete: status %d", w.Code)
	}
	w = env.do(t, http.MethodDelete, "/api/v1/bottles/lagavulin_16", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("second delete: status %d", w.Code)
	}
	var errBody map[string]string
	decode(t, w, &errBody)
	if errBody["code"] != vectorstore.CodeNotFound {
		t.Errorf("second delete code: %v", errBody)
	}
}

func TestAddBottle_Rejections(t *testing.T) {
	env := newTestEnv(t, nil)
	tests := []struct {
		name string
		in   models.BottleInput
		code string
	}{
		{"missing name", models.BottleInput{ID: "x", Embedding: []float32{1, 0, 0, 0}}, ""},
		{"wrong dimension", models.BottleInput{ID: "x", Name: "X", Embedding: []float32{1, 0}}, vectorstore.CodeDimensionMismatch},
		{"zero vector", models.BottleInput{ID: "x", Name: "X", Embedding: []float32{0, 0, 0, 0}}, vectorstore.CodeDegenerateVector},
		{"path id", models.BottleInput{ID: "../x", Name: "X", Embedding: []float32{1, 0, 0, 0}}, vectorstore.CodeInvalidID},
		{"bad base64", models.BottleInput{ID: "x", Name: "X", Image: "!!!"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/v1/bottles", tt.in)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status %d, body %s", w.Code, w.Body.String())
			}
			var body map[string]string
			decode(t, w, &body)
			if body["code"] != tt.code {
				t.Errorf("code = %q, want %q", body["code"], tt.code)
			}
		})
	}
	if env.store.Size() != 0 {
		t.Errorf("store size = %d after rejections", env.store.Size())
	}
}

func TestHandleSearch_DimensionMismatch(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(t, http.MethodPost, "/api/v1/search", models.SearchRequest{Embedding: []float32{1, 0, 0}})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status %d", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/api/v1/search", map[string]int{"top_k": 3}); w.Code != http.StatusBadRequest {
		t.Errorf("empty embedding: status %d", w.Code)
	}
}

func TestHandleIdentify_Multipart(t *testing.T) {
	env := newTestEnv(t, nil)
	image := []byte("fake jpeg bytes for macallan")
	w := env.do(t, http.MethodPost, "/api/v1/bottles", models.BottleInput{
		ID:    "macallan_12",
		Name:  "Macallan 12",
		Image: base64.StdEncoding.EncodeToString(image),
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("add: status %d, body %s", w.Code, w.Body.String())
	}
	env.addBottle(t, "oban_14", "Oban 14", []float32{0, 0, 0, 1})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "photo.jpg")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = part.Write(image)
	_ = mw.Close()

	r := httptest.NewRequest(http.MethodPost, "/api/identify?top_k=1", &buf)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, r)
	if rec.Code != http.StatusOK {
		t.Fatalf("identify: status %d, body %s", rec.Code, rec.Body.String())
	}
	var resp models.IdentifyResponse
	decode(t, rec, &resp)
	if len(resp.Matches) != 1 || resp.Matches[0].ID != "macallan_12" {
		t.Fatalf("matches: %+v", resp.Matches)
	}
	if resp.Matches[0].Confidence < 0.999 {
		t.Errorf("confidence = %v, want ~1", resp.Matches[0].Confidence)
	}
}

func TestHandleIdentify_MissingFile(t *testing.T) {
	env := newTestEnv(t, nil)
	r := httptest.NewRequest(http.MethodPost, "/api/identify", bytes.NewReader(nil))
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, r)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status %d", w.Code)
	}
}

func TestHandleIdentifyBase64(t *testing.T) {
	env := newTestEnv(t, nil)
	image := []byte("glenfiddich photo")
	encoded := base64.StdEncoding.EncodeToString(image)
	if w := env.do(t, http.MethodPost, "/api/v1/bottles", models.BottleInput{ID: "glenfiddich_12", Name: "Glenfiddich 12", Image: encoded}); w.Code != http.StatusCreated {
		t.Fatalf("add: status %d", w.Code)
	}

	w := env.do(t, http.MethodPost, "/api/identify_base64", models.IdentifyBase64Request{Base64Image: "data:image/jpeg;base64," + encoded})
	if w.Code != http.StatusOK {
		t.Fatalf("status %d, body %s", w.Code, w.Body.String())
	}
	var resp models.IdentifyResponse
	decode(t, w, &resp)
	if len(resp.Matches) == 0 || resp.Matches[0].ID != "glenfiddich_12" {
		t.Errorf("matches: %+v", resp.Matches)
	}

	if w := env.do(t, http.MethodPost, "/api/identify_base64", models.IdentifyBase64Request{}); w.Code != http.StatusBadRequest {
		t.Errorf("empty image: status %d", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/api/identify_base64", models.IdentifyBase64Request{Base64Image: "%%%"}); w.Code != http.StatusBadRequest {
		t.Errorf("bad base64: status %d", w.Code)
	}
}

func TestUploadsOverLimit(t *testing.T) {
	env := newTestEnv(t, nil)
	env.cfg.Server.MaxUploadBytes = 1024
	big := bytes.Repeat([]byte{0xAB}, 64<<10)

	var form bytes.Buffer
	mw := multipart.NewWriter(&form)
	part, err := mw.CreateFormFile("file", "photo.jpg")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = part.Write(big)
	_ = mw.Close()

	b64, err := json.Marshal(models.IdentifyBase64Request{Base64Image: base64.StdEncoding.EncodeToString(big)})
	if err != nil {
		t.Fatal(err)
	}
	addBody, err := json.Marshal(models.BottleInput{Name: "Big", Image: base64.StdEncoding.EncodeToString(big)})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name        string
		target      string
		contentType string
		body        io.Reader
	}{
		{"multipart", "/api/identify", mw.FormDataContentType(), bytes.NewReader(form.Bytes())},
		{"multipart without length", "/api/identify", mw.FormDataContentType(), io.MultiReader(bytes.NewReader(form.Bytes()))},
		{"base64", "/api/identify_base64", "application/json", bytes.NewReader(b64)},
		{"base64 without length", "/api/identify_base64", "application/json", io.MultiReader(bytes.NewReader(b64))},
		{"add bottle without length", "/api/v1/bottles", "application/json", io.MultiReader(bytes.NewReader(addBody))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, tt.target, tt.body)
			r.Header.Set("Content-Type", tt.contentType)
			w := httptest.NewRecorder()
			env.handler.ServeHTTP(w, r)
			if w.Code != http.StatusRequestEntityTooLarge {
				t.Errorf("status %d, body %s", w.Code, w.Body.String())
			}
		})
	}
	if env.store.Size() != 0 {
		t.Errorf("oversized add changed the store: size %d", env.store.Size())
	}
}

func TestHandleIdentify_EmptyStore(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(t, http.MethodPost, "/api/identify_base64", models.IdentifyBase64Request{Base64Image: "aGVsbG8="})
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	var resp models.IdentifyResponse
	decode(t, w, &resp)
	if len(resp.Matches) != 0 {
		t.Errorf("matches: %+v", resp.Matches)
	}
}

func TestHandleListBottles(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addBottle(t, "lagavulin_16", "Lagavulin 16", []float32{1, 0, 0, 0})
	env.addBottle(t, "talisker_storm", "Talisker Storm", []float32{0, 1, 0, 0})

	w := env.do(t, http.MethodGet, "/api/bottles", nil)
	var all []models.BottleMatch
	decode(t, w, &all)
	if len(all) != 2 || all[0].ID != "lagavulin_16" || all[0].Confidence != models.ListingConfidence {
		t.Errorf("list all: %+v", all)
	}

	w = env.do(t, http.MethodGet, "/api/bottles?q=talisker", nil)
	var hits []models.BottleMatch
	decode(t, w, &hits)
	if len(hits) != 1 || hits[0].ID != "talisker_storm" {
		t.Errorf("query: %+v", hits)
	}

	w = env.do(t, http.MethodGet, "/api/bottles?q=talsikerr", nil)
	var none []models.BottleMatch
	if got := w.Header().Get(suggestionHeader); got != "talisker" {
		t.Errorf("suggestion header = %q", got)
	}
	decode(t, w, &none)
	if none == nil || len(none) != 0 {
		t.Errorf("misspelled query should return an empty array, got %v", none)
	}
}

func TestHandleStatus(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addBottle(t, "oban_14", "Oban 14", []float32{0, 0, 0, 1})
	w := env.do(t, http.MethodGet, "/api/v1/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	var out struct {
		Entries        int    `json:"entries"`
		Orphans        int    `json:"orphans"`
		IndexType      string `json:"index_type"`
		Dimensions     int    `json:"dimensions"`
		DiskUsageBytes *int64 `json:"disk_usage_bytes"`
	}
	decode(t, w, &out)
	if out.Entries != 1 || out.Orphans != 0 || out.Dimensions != 4 || out.IndexType == "" {
		t.Errorf("status: %+v", out)
	}
	if out.DiskUsageBytes == nil || *out.DiskUsageBytes < 1 {
		t.Errorf("disk_usage_bytes: %v", out.DiskUsageBytes)
	}
}

func TestSaveAndReloadIndex(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addBottle(t, "b", "B", []float32{0, 1, 0, 0})
	env.addBottle(t, "a", "A", []float32{1, 0, 0, 0})

	if w := env.do(t, http.MethodPost, "/api/v1/index/save", nil); w.Code != http.StatusOK {
		t.Fatalf("save: status %d, body %s", w.Code, w.Body.String())
	}
	if _, err := os.Stat(env.cfg.Storage.IndexPath); err != nil {
		t.Errorf("snapshot not written: %v", err)
	}

	w := env.do(t, http.MethodPost, "/api/v1/index/reload", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("reload: status %d, body %s", w.Code, w.Body.String())
	}
	if got := env.store.IDs(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("ids after reload = %v, want [a b]", got)
	}
	ok, err := env.store.MatchesStorage(context.Background())
	if err != nil || !ok {
		t.Errorf("MatchesStorage = %v, %v", ok, err)
	}
}

func TestServesCatalogImages(t *testing.T) {
	env := newTestEnv(t, nil)
	if err := os.MkdirAll(env.cfg.Storage.ImagesDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(env.cfg.Storage.ImagesDir, "oban.jpg"), []byte("jpeg"), 0600); err != nil {
		t.Fatal(err)
	}
	w := env.do(t, http.MethodGet, "/images/oban.jpg", nil)
	if w.Code != http.StatusOK || w.Body.String() != "jpeg" {
		t.Errorf("image: status %d body %q", w.Code, w.Body.String())
	}
}

func TestCORSHeaders(t *testing.T) {
	env := newTestEnv(t, nil)
	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	r.Header.Set("Origin", "http://example.test")
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, r)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestWatchDirectories(t *testing.T) {
	mock := &mockWatchService{dirs: []string{"/tmp/inbox"}}
	env := newTestEnv(t, mock)

	w := env.do(t, http.MethodGet, "/api/v1/watch/directories", nil)
	var out struct {
		Directories []string `json:"directories"`
	}
	decode(t, w, &out)
	if len(out.Directories) != 1 || out.Directories[0] != "/tmp/inbox" {
		t.Errorf("directories: %v", out.Directories)
	}

	dir := t.TempDir()
	if w := env.do(t, http.MethodPost, "/api/v1/watch/directories", map[string]string{"path": dir}); w.Code != http.StatusCreated {
		t.Errorf("add: status %d, body %s", w.Code, w.Body.String())
	}
	if w := env.do(t, http.MethodPost, "/api/v1/watch/directories", map[string]string{"path": dir + "/missing"}); w.Code != http.StatusNotFound {
		t.Errorf("add missing: status %d", w.Code)
	}
	if len(mock.Directories()) != 2 {
		t.Errorf("after add: %v", mock.Directories())
	}
	if w := env.do(t, http.MethodDelete, "/api/v1/watch/directories?path="+dir, nil); w.Code != http.StatusOK {
		t.Errorf("remove: status %d", w.Code)
	}
	if len(mock.Directories()) != 1 {
		t.Errorf("after remove: %v", mock.Directories())
	}
}

func TestWatchDirectories_NotEnabled(t *testing.T) {
	env := newTestEnv(t, nil)
	if w := env.do(t, http.MethodGet, "/api/v1/watch/directories", nil); w.Code != http.StatusNotImplemented {
		t.Errorf("status %d, want 501", w.Code)
	}
}

func TestStatusFor(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.store.AddEntry(context.Background(), "x", []float32{1}, "X", "", false)
	if got := statusFor(err); got != http.StatusBadRequest {
		t.Errorf("dimension mismatch -> %d", got)
	}
	if got := statusFor(env.store.Remove(context.Background(), "missing", false)); got != http.StatusNotFound {
		t.Errorf("not found -> %d", got)
	}
	if got := statusFor(io.ErrUnexpectedEOF); got != http.StatusInternalServerError {
		t.Errorf("plain error -> %d", got)
	}
}
