package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// Metadata describes the model artifact: tensor shapes, the fixed label
// set, and the square input dimension. It ships alongside the .onnx file
// and is versioned together with it.
type Metadata struct {
	InputShape  []int64  `json:"input_shape"`
	OutputShape []int64  `json:"output_shape"`
	Classes     []string `json:"classes"`
	ImageSize   int      `json:"image_size"`
}

// Model wraps an ONNX inference session over the skin-condition model.
// The session and its pre-allocated IO tensors are created once at startup
// and shared; a mutex serializes the inference call itself.
type Model struct {
	session      *ort.AdvancedSession
	meta         Metadata
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	mu           sync.Mutex
}

// New loads the model artifact and its metadata. Call Close on shutdown.
func New(modelPath, metadataPath string) (*Model, error) {
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}

	metaFile, err := os.ReadFile(metadataPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read model metadata: %w", err)
	}

	var meta Metadata
	if err := json.Unmarshal(metaFile, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse model metadata: %w", err)
	}
	if len(meta.Classes) == 0 || meta.ImageSize <= 0 {
		return nil, fmt.Errorf("invalid model metadata: classes=%d image_size=%d",
			len(meta.Classes), meta.ImageSize)
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(meta.InputShape...))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(meta.OutputShape...))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input"}, []string{"output"},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &Model{
		session:      session,
		meta:         meta,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

// ImageSize returns the square input dimension the model expects.
func (m *Model) ImageSize() int {
	return m.meta.ImageSize
}

// Labels returns the fixed label set, in output-index order.
func (m *Model) Labels() []string {
	return m.meta.Classes
}

// Classify runs inference and returns the argmax label with its probability.
// Inference is deterministic for a given artifact and input.
func (m *Model) Classify(_ context.Context, t *Tensor) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	in := m.inputTensor.GetData()
	if len(t.Data) != len(in) {
		return Result{}, fmt.Errorf("tensor size mismatch: got %d values, model expects %d",
			len(t.Data), len(in))
	}
	copy(in, t.Data)

	if err := m.session.Run(); err != nil {
		return Result{}, fmt.Errorf("inference failed: %w", err)
	}

	out := m.outputTensor.GetData()
	if len(out) < len(m.meta.Classes) {
		return Result{}, fmt.Errorf("model produced %d outputs for %d classes",
			len(out), len(m.meta.Classes))
	}

	probs := probabilities(out[:len(m.meta.Classes)])
	maxIdx := 0
	for i, p := range probs {
		if p > probs[maxIdx] {
			maxIdx = i
		}
	}

	return Result{
		Label:      m.meta.Classes[maxIdx],
		Confidence: probs[maxIdx],
	}, nil
}

func (m *Model) Close() {
	if m.inputTensor != nil {
		m.inputTensor.Destroy()
	}
	if m.outputTensor != nil {
		m.outputTensor.Destroy()
	}
	if m.session != nil {
		m.session.Destroy()
	}
	ort.DestroyEnvironment()
}

// probabilities returns the model output as a probability distribution.
// Models exported with a softmax head already sum to one and pass through
// unchanged; raw logits get softmax applied here.
func probabilities(out []float32) []float32 {
	sum := float32(0)
	normalized := true
	for _, v := range out {
		if v < 0 || v > 1 {
			normalized = false
			break
		}
		sum += v
	}
	if normalized && math.Abs(float64(sum)-1) < 1e-3 {
		return out
	}

	maxVal := out[0]
	for _, v := range out[1:] {
		if v > maxVal {
			maxVal = v
		}
	}
	probs := make([]float32, len(out))
	var total float64
	for i, v := range out {
		e := math.Exp(float64(v - maxVal))
		probs[i] = float32(e)
		total += e
	}
	for i := range probs {
		probs[i] = float32(float64(probs[i]) / total)
	}
	return probs
}
