// Package main is the bottlematch CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/bottlematch/internal/cli"
	"github.com/hyperjump/bottlematch/internal/config"
	"github.com/hyperjump/bottlematch/internal/models"
	"github.com/hyperjump/bottlematch/internal/server"
	"github.com/hyperjump/bottlematch/internal/storage"
	"github.com/hyperjump/bottlematch/internal/watcher"
	"github.com/hyperjump/bottlematch/pkg/utils"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/bottlematch/config.yaml"
	defaultServerURL  = "http://localhost:8000"
)

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development); if that exists it is used.
// Returns the config and the path that was actually loaded (for saving, etc.).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "ingest":
		runIngest()
	case "add":
		runAdd()
	case "identify":
		runIdentify()
	case "list":
		runList()
	case "remove":
		runRemove()
	case "reindex":
		runReindex()
	case "status":
		runStatus()
	case "watch":
		runWatch()
	case "version", "--version", "-v":
		fmt.Printf("bottlematch version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func fail(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// session is a loaded config, logger and component set for one command.
type session struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger
	debug      bool
	c          *Components
}

func (s *session) Close() {
	s.c.Close()
	_ = s.logger.Sync()
}

func openSession(configPath string, debugFlag bool, opts componentOptions) *session {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		fail("Failed to load config: %v", err)
	}
	debugMode := cfg.Debug || debugFlag
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fail("Failed to create logger: %v", err)
	}
	opts.debug = debugMode
	components, err := initializeComponents(cfg, logger, opts)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	s := &session{cfg: cfg, configPath: resolved, logger: logger, debug: debugMode, c: components}
	if err := loadState(context.Background(), components, cfg, logger); err != nil {
		s.Close()
		fail("Failed to load bottles: %v", err)
	}
	return s
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	s := openSession(*configPath, *debug, componentOptions{copyImages: true})
	defer s.Close()
	cfg, logger := s.cfg, s.logger
	logger.Info("config loaded",
		zap.String("config_path", s.configPath),
		zap.Bool("debug", s.debug),
		zap.String("backend", cfg.Storage.Backend),
		zap.Int("entries", s.c.Store.Size()))

	watchOpts := []watcher.Option{
		watcher.WithExtensions(cfg.Watch.Extensions),
		watcher.WithRecursive(cfg.Watch.RecursiveOrDefault()),
		watcher.WithLogger(logger),
	}
	watchSvc := watcher.NewWatcher(cfg.Watch.Directories, s.c.Indexer, watchOpts...)
	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	if err := watchSvc.Start(watchCtx); err != nil {
		logger.Fatal("Failed to start watcher", zap.Error(err))
	}
	go watchSvc.SyncExistingFiles()

	srv := server.NewServer(s.c.Engine, s.c.Indexer, s.c.Store, cfg, logger, watchSvc, s.configPath)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	watchCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
	saveIndex(s.c, cfg, logger)
}

func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	copyImages := fs.Bool("copy-images", false, "copy source images into storage.images_dir")
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(argsReorder(os.Args[2:]))
	if fs.NArg() < 1 {
		fail("Usage: bottlematch ingest [flags] <image-directory>")
	}
	format, err := cli.ParseFormat(*output)
	if err != nil {
		fail("%v", err)
	}

	s := openSession(*configPath, false, componentOptions{copyImages: *copyImages})
	defer s.Close()
	report, err := s.c.Indexer.IndexDirectory(context.Background(), fs.Arg(0))
	if err != nil {
		fail("Ingest failed: %v", err)
	}
	saveIndex(s.c, s.cfg, s.logger)
	if err := cli.WriteReport(os.Stdout, report, format); err != nil {
		fail("Output failed: %v", err)
	}
	if len(report.Failed) > 0 {
		os.Exit(2)
	}
}

func runAdd() {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	id := fs.String("id", "", "bottle id (default: generated)")
	name := fs.String("name", "", "display name")
	imagePath := fs.String("image", "", "image file to embed")
	embeddingStr := fs.String("embedding", "", "comma-separated precomputed embedding")
	imageURL := fs.String("image-url", "", "catalog image reference")
	_ = fs.Parse(os.Args[2:])

	in := &models.BottleInput{ID: *id, Name: *name, ImageURL: *imageURL}
	if *embeddingStr != "" {
		vec, err := parseEmbedding(*embeddingStr)
		if err != nil {
			fail("Invalid --embedding: %v", err)
		}
		in.Embedding = vec
	}
	if *imagePath != "" {
		data, err := os.ReadFile(*imagePath)
		if err != nil {
			fail("Failed to read image: %v", err)
		}
		in.Image = base64.StdEncoding.EncodeToString(data)
	}
	if err := in.Validate(); err != nil {
		fail("Usage: bottlematch add --name NAME (--image FILE | --embedding V1,V2,...) [--id ID]: %v", err)
	}

	s := openSession(*configPath, false, componentOptions{})
	defer s.Close()
	b, err := s.c.Indexer.IndexBottle(context.Background(), in)
	if err != nil {
		fail("Add failed: %v", err)
	}
	saveIndex(s.c, s.cfg, s.logger)
	fmt.Printf("Bottle added: %s (%s)\n", b.ID, b.Name)
}

func runIdentify() {
	fs := flag.NewFlagSet("identify", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL (empty = load the store directly)")
	topK := fs.Int("top-k", 0, "number of matches (default from config)")
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(argsReorder(os.Args[2:]))
	if fs.NArg() < 1 {
		fail("Usage: bottlematch identify [flags] <image>")
	}
	format, err := cli.ParseFormat(*output)
	if err != nil {
		fail("%v", err)
	}
	data, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		fail("Failed to read image: %v", err)
	}

	var resp *models.IdentifyResponse
	if *serverURL != "" {
		resp, err = identifyViaHTTP(*serverURL, filepath.Base(fs.Arg(0)), data, *topK)
	} else {
		s := openSession(*configPath, false, componentOptions{})
		defer s.Close()
		resp, err = s.c.Engine.Identify(context.Background(), data, *topK)
	}
	if err != nil {
		fail("Identify failed: %v", err)
	}
	if err := cli.WriteIdentify(os.Stdout, resp, format); err != nil {
		fail("Output failed: %v", err)
	}
}

func runList() {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL (empty = load the store directly)")
	query := fs.String("query", "", "filter by name (typo tolerant)")
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])
	format, err := cli.ParseFormat(*output)
	if err != nil {
		fail("%v", err)
	}

	var matches []models.BottleMatch
	var suggestion string
	if *serverURL != "" {
		matches, suggestion, err = listViaHTTP(*serverURL, *query)
	} else {
		s := openSession(*configPath, false, componentOptions{})
		defer s.Close()
		matches, suggestion, err = s.c.Engine.ListBottles(context.Background(), *query)
	}
	if err != nil {
		fail("List failed: %v", err)
	}
	if err := cli.WriteMatches(os.Stdout, matches, format); err != nil {
		fail("Output failed: %v", err)
	}
	if suggestion != "" && format == cli.OutputText {
		fmt.Printf("Did you mean %q?\n", suggestion)
	}
}

func runRemove() {
	fs := flag.NewFlagSet("remove", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(argsReorder(os.Args[2:]))
	if fs.NArg() < 1 {
		fail("Usage: bottlematch remove [flags] <bottle-id>")
	}
	id := fs.Arg(0)

	s := openSession(*configPath, false, componentOptions{})
	defer s.Close()
	if err := s.c.Indexer.DeleteBottle(context.Background(), id); err != nil {
		fail("Remove failed: %v", err)
	}
	saveIndex(s.c, s.cfg, s.logger)
	fmt.Printf("Bottle removed: %s\n", id)
}

func runReindex() {
	fs := flag.NewFlagSet("reindex", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])

	s := openSession(*configPath, false, componentOptions{})
	defer s.Close()
	if err := s.c.Indexer.Reload(context.Background()); err != nil {
		fail("Reindex failed: %v", err)
	}
	if err := s.c.Store.PersistIndex(s.cfg.Storage.IndexPath); err != nil {
		fail("Saving index failed: %v", err)
	}
	stats := s.c.Store.Stats()
	fmt.Printf("Reindexed %d bottles (%d orphaned metadata entries) into %s\n",
		stats.Entries, stats.Orphans, s.cfg.Storage.IndexPath)
}

// statusResponse is the shape of GET /api/v1/status.
type statusResponse struct {
	Entries        int    `json:"entries"`
	Metadata       int    `json:"metadata"`
	Orphans        int    `json:"orphans"`
	IndexType      string `json:"index_type"`
	Dimensions     int    `json:"dimensions"`
	DiskUsageBytes *int64 `json:"disk_usage_bytes,omitempty"`
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = load the store directly)")
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	var status statusResponse
	if *serverURL != "" {
		if err := getJSON(*serverURL+"/api/v1/status", &status); err != nil {
			fail("Status failed: %v", err)
		}
	} else {
		s := openSession(*configPath, false, componentOptions{})
		defer s.Close()
		stats := s.c.Store.Stats()
		status = statusResponse{
			Entries:    stats.Entries,
			Metadata:   stats.Metadata,
			Orphans:    stats.Orphans,
			IndexType:  s.c.Store.IndexType(),
			Dimensions: s.c.Store.Dimensions(),
		}
		if n, err := storage.DiskUsageBytes(storage.Paths(&s.cfg.Storage)...); err == nil {
			status.DiskUsageBytes = &n
		}
	}

	switch *output {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(status); err != nil {
			fail("Output failed: %v", err)
		}
	case "text":
		fmt.Printf("entries:            %d   # indexed embeddings\n", status.Entries)
		fmt.Printf("metadata:           %d   # bottles with metadata\n", status.Metadata)
		fmt.Printf("orphans:            %d   # embeddings without metadata\n", status.Orphans)
		fmt.Printf("index_type:         %s\n", status.IndexType)
		fmt.Printf("dimensions:         %d\n", status.Dimensions)
		if status.DiskUsageBytes != nil {
			fmt.Printf("disk_usage_bytes:   %d   # storage + index snapshot on disk\n", *status.DiskUsageBytes)
		}
	default:
		fail("Unknown output format %q; use text or json", *output)
	}
}

func runWatch() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: bottlematch watch <add|remove|list> [path]")
		fmt.Println("  bottlematch watch add <path>     Add inbox directory to watch")
		fmt.Println("  bottlematch watch remove <path>  Remove inbox directory from watch")
		fmt.Println("  bottlematch watch list           List watched directories")
		os.Exit(1)
	}
	sub := os.Args[2]
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	_ = fs.Parse(argsReorder(os.Args[3:]))
	switch sub {
	case "add":
		if fs.NArg() < 1 {
			fail("Usage: bottlematch watch add <path>")
		}
		path, _ := filepath.Abs(fs.Arg(0))
		body, _ := json.Marshal(map[string]interface{}{"path": path, "sync": true})
		if err := doRequest(http.MethodPost, *serverURL+"/api/v1/watch/directories", "application/json", bytes.NewReader(body), http.StatusCreated, nil); err != nil {
			fail("Add failed: %v", err)
		}
		fmt.Printf("Added: %s\n", path)
	case "remove":
		if fs.NArg() < 1 {
			fail("Usage: bottlematch watch remove <path>")
		}
		path, _ := filepath.Abs(fs.Arg(0))
		target := *serverURL + "/api/v1/watch/directories?path=" + url.QueryEscape(path)
		if err := doRequest(http.MethodDelete, target, "", nil, http.StatusOK, nil); err != nil {
			fail("Remove failed: %v", err)
		}
		fmt.Printf("Removed: %s\n", path)
	case "list":
		var out struct {
			Directories []string `json:"directories"`
		}
		if err := getJSON(*serverURL+"/api/v1/watch/directories", &out); err != nil {
			fail("List failed: %v", err)
		}
		for _, d := range out.Directories {
			fmt.Println(d)
		}
	default:
		fail("Unknown watch subcommand: %s", sub)
	}
}

func identifyViaHTTP(serverURL, filename string, image []byte, topK int) (*models.IdentifyResponse, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(image); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	target := serverURL + "/api/identify"
	if topK > 0 {
		target += "?top_k=" + strconv.Itoa(topK)
	}
	var resp models.IdentifyResponse
	if err := doRequest(http.MethodPost, target, mw.FormDataContentType(), &buf, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func listViaHTTP(serverURL, query string) ([]models.BottleMatch, string, error) {
	target := serverURL + "/api/bottles"
	if query != "" {
		target += "?q=" + url.QueryEscape(query)
	}
	req, err := http.NewRequest(http.MethodGet, target, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, "", fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var matches []models.BottleMatch
	if err := json.NewDecoder(resp.Body).Decode(&matches); err != nil {
		return nil, "", fmt.Errorf("decode response: %w", err)
	}
	return matches, resp.Header.Get("X-Suggested-Query"), nil
}

func getJSON(target string, out interface{}) error {
	return doRequest(http.MethodGet, target, "", nil, http.StatusOK, out)
}

func doRequest(method, target, contentType string, body io.Reader, want int, out interface{}) error {
	req, err := http.NewRequest(method, target, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != want {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// argsReorder moves any flags (and their values) that appear after the positional
// arguments to the front so that flag.Parse() sees them. Go's flag package stops at the
// first non-flag argument, so "bottlematch identify photo.jpg -top-k 5" would otherwise
// leave -top-k unparsed.
func argsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// parseEmbedding parses "0.1, 0.2,0.3" (optionally wrapped in brackets) into a vector.
func parseEmbedding(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
	if len(fields) == 0 {
		return nil, fmt.Errorf("no values")
	}
	vec := make([]float32, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 32)
		if err != nil {
			return nil, fmt.Errorf("value %d: %w", i, err)
		}
		vec[i] = float32(v)
	}
	return vec, nil
}

func printUsage() {
	fmt.Println(`bottlematch - Whisky bottle recognition by image similarity

Usage:
  bottlematch server [flags]               Start the HTTP server (and inbox watcher)
  bottlematch ingest [flags] <dir>         Embed and add every image in a directory
  bottlematch add [flags]                  Add or replace one bottle
  bottlematch identify [flags] <image>     Identify a bottle photo
  bottlematch list [flags]                 List bottles, optionally filtered by name
  bottlematch remove [flags] <id>          Remove a bottle
  bottlematch reindex [flags]              Rebuild the index from storage and save it
  bottlematch status [flags]               Show store/index status
  bottlematch watch <add|remove|list>      Manage watched inbox directories
  bottlematch version                      Show version
  bottlematch help                         Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/bottlematch/config.yaml,
                     or ./config.yaml when present)

Server Flags:
  --debug            Enable debug logging

Ingest Flags:
  --copy-images      Copy source images into storage.images_dir (served under /images/)
  --output string    Output format: text or json (default: text)

Add Flags:
  --id string        Bottle id (default: generated UUID)
  --name string      Display name (required)
  --image string     Image file to embed
  --embedding string Comma-separated precomputed embedding
  --image-url string Catalog image reference

Identify / List Flags:
  --server string    Server URL; empty loads the store directly (default: empty)
  --top-k int        Number of matches (identify; default from config)
  --query string     Name filter with typo tolerance (list)
  --output string    Output format: text or json (default: text)

Status / Watch Flags:
  --server string    Server URL (default: http://localhost:8000). Status accepts --server ""
                     to read the store directly.

Examples:
  bottlematch ingest --copy-images ./data/raw
  bottlematch add --id oban_14 --name "Oban 14" --image oban.jpg
  bottlematch identify photo.jpg --top-k 5
  bottlematch identify --server http://localhost:8000 photo.jpg
  bottlematch list --query lagavulin
  bottlematch remove oban_14
  bottlematch status --output json
  bottlematch watch add ./inbox`)
}
