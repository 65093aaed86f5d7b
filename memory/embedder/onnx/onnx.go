//go:build onnx

package onnx

import (
	"context"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/becomeliminal/compact-memory/logging"
	"github.com/becomeliminal/compact-memory/memory"
	"github.com/m-mizutani/goerr/v2"
)

// Config configures the ONNX embedder.
type Config struct {
	// ModelPath is the path to the ONNX model file.
	ModelPath string

	// TokenizerPath is the path to the tokenizer.json file.
	TokenizerPath string

	// SharedLibraryPath locates libonnxruntime. Empty uses the loader's
	// default search path.
	SharedLibraryPath string

	// ModelID is recorded in meta.yaml. Default: all-MiniLM-L6-v2.
	ModelID string

	// Dimensions is the embedding vector size (default: 384 for all-MiniLM-L6-v2).
	Dimensions int

	// MaxSequence bounds tokens per input including [CLS]/[SEP]. Default: 128.
	MaxSequence int
}

// ONNXEmbedder generates embeddings using ONNX Runtime with mean pooling.
type ONNXEmbedder struct {
	mu        sync.Mutex
	session   *ort.DynamicAdvancedSession
	tokenizer *WordPiece
	cfg       Config
}

var initOnce sync.Once
var initErr error

// New creates a new ONNX embedder.
func New(cfg Config) (*ONNXEmbedder, error) {
	if cfg.ModelPath == "" {
		return nil, goerr.Wrap(memory.ErrConfiguration, "ModelPath is required")
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = 384
	}
	if cfg.MaxSequence == 0 {
		cfg.MaxSequence = 128
	}
	if cfg.ModelID == "" {
		cfg.ModelID = "all-MiniLM-L6-v2"
	}

	initOnce.Do(func() {
		if cfg.SharedLibraryPath != "" {
			ort.SetSharedLibraryPath(cfg.SharedLibraryPath)
		}
		initErr = ort.InitializeEnvironment()
	})
	if initErr != nil {
		return nil, memory.Mark(memory.ErrConfiguration, initErr, "failed to initialize ONNX runtime",
			goerr.V("library", cfg.SharedLibraryPath))
	}

	tokenizer, err := LoadWordPiece(cfg.TokenizerPath)
	if err != nil {
		return nil, memory.Mark(memory.ErrConfiguration, err, "failed to load tokenizer")
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		nil,
	)
	if err != nil {
		return nil, memory.Mark(memory.ErrConfiguration, err, "failed to create ONNX session", goerr.V("model", cfg.ModelPath))
	}

	logging.Default().Info("onnx embedder ready", "model", cfg.ModelID, "dimensions", cfg.Dimensions)
	return &ONNXEmbedder{
		session:   session,
		tokenizer: tokenizer,
		cfg:       cfg,
	}, nil
}

// Embed converts text to a unit embedding vector.
func (e *ONNXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	maxLen := e.cfg.MaxSequence
	tokens := e.tokenizer.Tokenize(text)
	if len(tokens) > maxLen-2 {
		tokens = tokens[:maxLen-2]
	}

	inputIDs := make([]int64, maxLen)
	attention := make([]int64, maxLen)
	typeIDs := make([]int64, maxLen)

	inputIDs[0] = e.tokenizer.cls
	copy(inputIDs[1:], tokens)
	inputIDs[len(tokens)+1] = e.tokenizer.sep
	attended := len(tokens) + 2
	for i := 0; i < attended; i++ {
		attention[i] = 1
	}

	shape := ort.NewShape(1, int64(maxLen))
	var inputs []ort.Value
	defer func() {
		for _, v := range inputs {
			v.Destroy()
		}
	}()
	for _, data := range [][]int64{inputIDs, attention, typeIDs} {
		tensor, err := ort.NewTensor(shape, data)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create input tensor")
		}
		inputs = append(inputs, tensor)
	}

	outputs := []ort.Value{nil}
	e.mu.Lock()
	err := e.session.Run(inputs, outputs)
	e.mu.Unlock()
	if err != nil {
		return nil, goerr.Wrap(err, "ONNX inference failed")
	}
	defer func() {
		for _, v := range outputs {
			if v != nil {
				v.Destroy()
			}
		}
	}()

	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, goerr.New("unexpected output tensor type")
	}
	return e.pool(out.GetData(), out.GetShape(), attended)
}

// pool turns the model output into one vector: pooled [1, dim] outputs are
// copied, [1, seq, dim] outputs are mean-pooled over attended positions.
func (e *ONNXEmbedder) pool(data []float32, shape ort.Shape, attended int) ([]float32, error) {
	dim := e.cfg.Dimensions
	vec := make([]float32, dim)

	switch len(shape) {
	case 2:
		if len(data) < dim {
			return nil, memory.DimensionError(dim, len(data))
		}
		copy(vec, data[:dim])
	case 3:
		if shape[0] != 1 {
			return nil, goerr.New("expected batch size 1", goerr.V("batch", shape[0]))
		}
		if shape[2] != int64(dim) {
			return nil, memory.DimensionError(dim, int(shape[2]))
		}
		for i := 0; i < attended && i < int(shape[1]); i++ {
			row := data[i*dim : (i+1)*dim]
			for j, v := range row {
				vec[j] += v
			}
		}
		for j := range vec {
			vec[j] /= float32(attended)
		}
	default:
		return nil, goerr.New("unexpected output shape", goerr.V("shape", shape))
	}
	return memory.Normalize(vec), nil
}

// Dimensions returns the embedding vector size.
func (e *ONNXEmbedder) Dimensions() int {
	return e.cfg.Dimensions
}

// ModelID implements memory.Embedder.
func (e *ONNXEmbedder) ModelID() string {
	return e.cfg.ModelID
}

// Close releases ONNX resources.
func (e *ONNXEmbedder) Close() error {
	if e.session != nil {
		if err := e.session.Destroy(); err != nil {
			return goerr.Wrap(err, "failed to destroy ONNX session")
		}
	}
	return nil
}
