//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/hyperjump/bottlematch/pkg/utils"
)

var (
	ortInit    sync.Once
	ortInitErr error
)

// CLIPEmbedder runs a CLIP vision tower exported to ONNX (input "pixel_values"
// [1,3,S,S], output "image_embeds" [1,D]). It requires CGO and the onnxruntime shared
// library.
type CLIPEmbedder struct {
	session    *ort.AdvancedSession
	dimensions int
	imageSize  int
	cache      *EmbeddingCache
	// Pre-allocated tensors for Run(); we update input data and read output.
	pixelTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	mu           sync.Mutex
}

// NewCLIPEmbedder creates a CLIP image embedder. InitializeEnvironment is called if not already done.
func NewCLIPEmbedder(modelPath string, dimensions, imageSize, cacheSize int) (*CLIPEmbedder, error) {
	ortInit.Do(func() { ortInitErr = ort.InitializeEnvironment() })
	if ortInitErr != nil {
		return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", ortInitErr)
	}

	s := int64(imageSize)
	pixelTensor, err := ort.NewTensor(ort.NewShape(1, 3, s, s), make([]float32, 3*imageSize*imageSize))
	if err != nil {
		return nil, fmt.Errorf("failed to create pixel_values tensor: %w", err)
	}
	outputTensor, err := ort.NewTensor(ort.NewShape(1, int64(dimensions)), make([]float32, dimensions))
	if err != nil {
		pixelTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{"pixel_values"},
		[]string{"image_embeds"},
		[]ort.ArbitraryTensor{pixelTensor},
		[]ort.ArbitraryTensor{outputTensor},
		nil,
	)
	if err != nil {
		pixelTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &CLIPEmbedder{
		session:      session,
		dimensions:   dimensions,
		imageSize:    imageSize,
		cache:        NewEmbeddingCache(cacheSize),
		pixelTensor:  pixelTensor,
		outputTensor: outputTensor,
	}, nil
}

// EmbedImage returns the unit-length embedding for the image, using the cache when the
// same bytes were embedded before.
func (e *CLIPEmbedder) EmbedImage(ctx context.Context, data []byte) ([]float32, error) {
	key := ContentKey(data)
	if cached, ok := e.cache.Get(key); ok {
		return cached, nil
	}

	img, err := DecodeImage(data)
	if err != nil {
		return nil, err
	}
	pixels := Preprocess(img, e.imageSize)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	copy(e.pixelTensor.GetData(), pixels)
	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	embedding := make([]float32, e.dimensions)
	copy(embedding, e.outputTensor.GetData()[:e.dimensions])

	if norm := utils.NormalizeL2(embedding); norm == 0 {
		return nil, fmt.Errorf("model returned a zero embedding")
	}
	e.cache.Set(key, embedding)
	return embedding, nil
}

// Dimensions returns the embedding dimension.
func (e *CLIPEmbedder) Dimensions() int {
	return e.dimensions
}

// Close destroys the session and tensors.
func (e *CLIPEmbedder) Close() error {
	var err error
	if e.session != nil {
		err = e.session.Destroy()
		e.session = nil
	}
	if e.pixelTensor != nil {
		_ = e.pixelTensor.Destroy()
		e.pixelTensor = nil
	}
	if e.outputTensor != nil {
		_ = e.outputTensor.Destroy()
		e.outputTensor = nil
	}
	return err
}
