//go:build onnx

package embedding

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"

	"mementor/internal/merr"
)

// newEngine loads a real ONNX text encoder and its matching tokenizer from
// cfg.ModelDir. Build with -tags onnx to select this backend over the
// default hashing fallback in fallback_backend.go.
func newEngine(cfg Config) (Engine, error) {
	dim := cfg.Dimensions
	if dim <= 0 {
		dim = DefaultConfig().Dimensions
	}

	modelDir := cfg.ModelDir
	if modelDir == "" {
		return nil, merr.New(merr.ModelMissing, "embedding model directory not configured")
	}

	modelPath := filepath.Join(modelDir, "model.onnx")
	tokenizerPath := filepath.Join(modelDir, "tokenizer.json")

	if _, err := os.Stat(modelPath); err != nil {
		return nil, merr.Wrap(merr.ModelMissing, fmt.Sprintf("onnx model not found at %s; run the model download command", modelPath), err)
	}
	if _, err := os.Stat(tokenizerPath); err != nil {
		return nil, merr.Wrap(merr.ModelMissing, fmt.Sprintf("tokenizer not found at %s", tokenizerPath), err)
	}

	tk, err := pretrained.FromFile(tokenizerPath)
	if err != nil {
		return nil, merr.Wrap(merr.ModelMissing, "loading tokenizer", err)
	}

	if err := ort.InitializeEnvironment(); err != nil {
		return nil, merr.Wrap(merr.Storage, "initializing onnx runtime environment", err)
	}

	return &onnxEngine{
		dim:       dim,
		modelPath: modelPath,
		tk:        tk,
	}, nil
}

// onnxEngine wraps an ONNX Runtime session behind the Engine interface. The
// session is created per call rather than held open, trading a little
// latency for avoiding shared mutable session state across concurrent
// callers — acceptable because embedding calls already dominate wall time;
// concurrent callers (such as the subagent sweep) are serialized by mu.
type onnxEngine struct {
	dim       int
	modelPath string
	tk        *tokenizer.Tokenizer
	mu        sync.Mutex
}

func (e *onnxEngine) Name() string    { return "onnx" }
func (e *onnxEngine) Dimensions() int { return e.dim }

func (e *onnxEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.EmbedWithMode(ctx, text, Passage)
}

func (e *onnxEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return e.EmbedBatchWithMode(ctx, texts, Passage)
}

func (e *onnxEngine) EmbedWithMode(ctx context.Context, text string, mode Mode) ([]float32, error) {
	out, err := e.EmbedBatchWithMode(ctx, []string{text}, mode)
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (e *onnxEngine) EmbedBatchWithMode(ctx context.Context, texts []string, mode Mode) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([][]float32, len(texts))
	for i, text := range texts {
		prefixed := text
		switch mode {
		case Query:
			prefixed = "query: " + text
		case Passage:
			prefixed = "passage: " + text
		}

		encoding, err := e.tk.EncodeSingle(prefixed, true)
		if err != nil {
			return nil, merr.Wrap(merr.External, "tokenizing input", err)
		}

		vec, err := e.runSession(encoding.Ids, encoding.AttentionMask)
		if err != nil {
			return nil, err
		}
		out[i] = Normalize(vec)
	}
	return out, nil
}

// runSession feeds token ids and an attention mask through the ONNX graph
// and pools the final hidden state into a single fixed-width vector.
func (e *onnxEngine) runSession(ids []int, mask []int) ([]float32, error) {
	seqLen := len(ids)
	inputIDs := make([]int64, seqLen)
	attentionMask := make([]int64, seqLen)
	for i := range ids {
		inputIDs[i] = int64(ids[i])
		attentionMask[i] = int64(mask[i])
	}

	inputShape := ort.NewShape(1, int64(seqLen))
	idsTensor, err := ort.NewTensor(inputShape, inputIDs)
	if err != nil {
		return nil, merr.Wrap(merr.Storage, "building input_ids tensor", err)
	}
	defer idsTensor.Destroy()

	maskTensor, err := ort.NewTensor(inputShape, attentionMask)
	if err != nil {
		return nil, merr.Wrap(merr.Storage, "building attention_mask tensor", err)
	}
	defer maskTensor.Destroy()

	outputShape := ort.NewShape(1, int64(seqLen), int64(e.dim))
	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		return nil, merr.Wrap(merr.Storage, "allocating output tensor", err)
	}
	defer outputTensor.Destroy()

	session, err := ort.NewAdvancedSession(e.modelPath,
		[]string{"input_ids", "attention_mask"},
		[]string{"last_hidden_state"},
		[]ort.Value{idsTensor, maskTensor},
		[]ort.Value{outputTensor},
	)
	if err != nil {
		return nil, merr.Wrap(merr.Storage, "creating onnx session", err)
	}
	defer session.Destroy()

	if err := session.Run(); err != nil {
		return nil, merr.Wrap(merr.Storage, "running onnx session", err)
	}

	return meanPool(outputTensor.GetData(), seqLen, e.dim, attentionMask), nil
}

// meanPool averages the per-token hidden states weighted by the attention
// mask, the standard pooling strategy for sentence-embedding bi-encoders.
func meanPool(hidden []float32, seqLen, dim int, mask []int64) []float32 {
	out := make([]float32, dim)
	var count float32
	for t := 0; t < seqLen; t++ {
		if mask[t] == 0 {
			continue
		}
		count++
		base := t * dim
		for d := 0; d < dim; d++ {
			out[d] += hidden[base+d]
		}
	}
	if count == 0 {
		return out
	}
	for d := range out {
		out[d] /= count
	}
	return out
}

func (e *onnxEngine) Tokenizer() Tokenizer {
	return onnxTokenizer{tk: e.tk}
}

type onnxTokenizer struct {
	tk *tokenizer.Tokenizer
}

func (t onnxTokenizer) CountTokens(text string) int {
	encoding, err := t.tk.EncodeSingle(text, false)
	if err != nil {
		return 0
	}
	return len(encoding.Ids)
}

func (t onnxTokenizer) Tokenize(text string) []string {
	encoding, err := t.tk.EncodeSingle(text, false)
	if err != nil {
		return nil
	}
	return encoding.Tokens
}
