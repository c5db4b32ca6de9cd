package config

const dataRoot = "/usr/local/var/bottlematch/data"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.MaxUploadBytes == 0 {
		cfg.Server.MaxUploadBytes = 10 << 20
	}
	if cfg.Server.CORSOrigins == nil {
		cfg.Server.CORSOrigins = []string{"*"}
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = BackendDisk
	}
	if cfg.Storage.EmbeddingsDir == "" {
		cfg.Storage.EmbeddingsDir = dataRoot + "/embeddings"
	}
	if cfg.Storage.MetadataPath == "" {
		cfg.Storage.MetadataPath = dataRoot + "/metadata.json"
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = dataRoot + "/db/bottles.db"
	}
	if cfg.Storage.BadgerDir == "" {
		cfg.Storage.BadgerDir = dataRoot + "/badger"
	}
	if cfg.Storage.IndexPath == "" {
		cfg.Storage.IndexPath = dataRoot + "/index/bottles.idx"
	}
	if cfg.Storage.ImagesDir == "" {
		cfg.Storage.ImagesDir = dataRoot + "/static/images"
	}
	if cfg.Vector.Dimensions == 0 {
		// CLIP ViT-B/32 image embedding width.
		cfg.Vector.Dimensions = 512
	}
	if cfg.Vector.IndexType == "" {
		cfg.Vector.IndexType = "memory"
	}
	if cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = dataRoot + "/models/clip-vit-base-patch32-vision.onnx"
	}
	if cfg.Embedding.ImageSize == 0 {
		cfg.Embedding.ImageSize = 224
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 256
	}
	if cfg.Embedding.Workers == 0 {
		cfg.Embedding.Workers = 4
	}
	if cfg.Search.DefaultTopK == 0 {
		cfg.Search.DefaultTopK = 3
	}
	if cfg.Search.MaxTopK == 0 {
		cfg.Search.MaxTopK = 100
	}
	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = []string{".jpg", ".jpeg", ".png"}
	}
}
