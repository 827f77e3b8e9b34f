package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sync"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"smartcfd/internal/domain"
)

// Compile-time interface check.
var _ Strategy = (*Inference)(nil)

const (
	// inferenceWindow is the number of trailing bars fed to the model.
	inferenceWindow = 60
	// inferenceFeatures is the per-bar feature count: open, high, low,
	// close, volume, vwap.
	inferenceFeatures = 6
)

// Process-wide onnxruntime environment setup.
var (
	ortInitOnce sync.Once
	ortInitErr  error
)

func initORT() error {
	libPath := "/usr/lib/libonnxruntime.so"
	switch runtime.GOOS {
	case "windows":
		libPath = "onnxruntime.dll"
	case "darwin":
		libPath = "libonnxruntime.dylib"
	}
	ort.SetSharedLibraryPath(libPath)
	return ort.InitializeEnvironment()
}

// ---------------------------------------------------------------------------
// onnxModel — session with reusable input/output tensors.
// ---------------------------------------------------------------------------

type onnxModel struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

func newONNXModel(modelPath string) (*onnxModel, error) {
	ortInitOnce.Do(func() { ortInitErr = initORT() })
	if ortInitErr != nil {
		return nil, fmt.Errorf("initializing onnxruntime: %w", ortInitErr)
	}

	inputShape := ort.NewShape(1, inferenceWindow, inferenceFeatures)
	input, err := ort.NewTensor(inputShape, make([]float32, inferenceWindow*inferenceFeatures))
	if err != nil {
		return nil, fmt.Errorf("creating input tensor: %w", err)
	}

	outputShape := ort.NewShape(1, 3)
	output, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("creating output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input"}, []string{"output"},
		[]ort.Value{input}, []ort.Value{output}, nil)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("creating session: %w", err)
	}

	return &onnxModel{
		session: session,
		input:   input,
		output:  output,
	}, nil
}

// Predict runs one inference pass. features must match the input tensor size.
func (m *onnxModel) Predict(features []float32) ([]float32, error) {
	data := m.input.GetData()
	if len(features) != len(data) {
		return nil, fmt.Errorf("feature length %d does not match input %d", len(features), len(data))
	}
	copy(data, features)

	if err := m.session.Run(); err != nil {
		return nil, fmt.Errorf("inference run: %w", err)
	}

	out := m.output.GetData()
	scores := make([]float32, len(out))
	copy(scores, out)
	return scores, nil
}

// Close releases the session and its tensors.
func (m *onnxModel) Close() {
	if m.session != nil {
		m.session.Destroy()
	}
	if m.input != nil {
		m.input.Destroy()
	}
	if m.output != nil {
		m.output.Destroy()
	}
}

// ---------------------------------------------------------------------------
// Inference strategy
// ---------------------------------------------------------------------------

// Inference scores bar windows with a trained ONNX classifier. The output
// vector holds class scores ordered hold, buy, sell; the signal carries the
// softmax probability of the winning class as its confidence.
type Inference struct {
	modelPath string
	log       *slog.Logger

	once    sync.Once
	model   *onnxModel
	loadErr error
}

// NewInference creates an Inference strategy. An empty modelPath is allowed:
// the strategy then degrades to returning hold signals. The model is loaded
// lazily on the first Evaluate so that construction never touches the
// onnxruntime library.
func NewInference(modelPath string) *Inference {
	return &Inference{
		modelPath: modelPath,
		log:       slog.Default().With("strategy", "inference"),
	}
}

// Name returns "inference".
func (s *Inference) Name() string {
	return "inference"
}

// Evaluate feeds the trailing bar window to the model and maps the winning
// class to a signal.
func (s *Inference) Evaluate(_ context.Context, symbol string, _ domain.MarketRegime, bars []domain.Bar) (*domain.Signal, error) {
	if s.modelPath == "" {
		s.log.Warn("no model configured, holding", "symbol", symbol)
		return s.hold(symbol), nil
	}
	if len(bars) < inferenceWindow {
		return nil, nil
	}

	s.once.Do(func() {
		s.model, s.loadErr = newONNXModel(s.modelPath)
		if s.loadErr == nil {
			s.log.Info("model loaded", "path", s.modelPath)
		}
	})
	if s.loadErr != nil {
		return nil, fmt.Errorf("loading model %s: %w", s.modelPath, s.loadErr)
	}

	features, err := featuresFromBars(bars, inferenceWindow)
	if err != nil {
		return nil, err
	}
	scores, err := s.model.Predict(features)
	if err != nil {
		return nil, fmt.Errorf("scoring %s: %w", symbol, err)
	}
	if len(scores) != 3 {
		return nil, fmt.Errorf("model returned %d scores, want 3", len(scores))
	}

	probs := softmax(scores)
	best := argmax(probs)
	sigType := [3]domain.SignalType{
		domain.SignalTypeHold,
		domain.SignalTypeBuy,
		domain.SignalTypeSell,
	}[best]

	return &domain.Signal{
		Symbol:     symbol,
		Type:       sigType,
		Confidence: probs[best],
		Strategy:   s.Name(),
		CreatedAt:  time.Now().UTC(),
	}, nil
}

// Close releases the loaded model, if any.
func (s *Inference) Close() {
	if s.model != nil {
		s.model.Close()
	}
}

func (s *Inference) hold(symbol string) *domain.Signal {
	return &domain.Signal{
		Symbol:     symbol,
		Type:       domain.SignalTypeHold,
		Confidence: 0,
		Strategy:   s.Name(),
		CreatedAt:  time.Now().UTC(),
	}
}

// featuresFromBars flattens the trailing window of bars into the model input
// layout: per bar open, high, low, close, volume, vwap. Prices and vwap are
// normalized by the window's final close, volume by the window's peak volume.
func featuresFromBars(bars []domain.Bar, window int) ([]float32, error) {
	if len(bars) < window {
		return nil, fmt.Errorf("need %d bars for inference, have %d", window, len(bars))
	}
	win := bars[len(bars)-window:]

	ref := win[len(win)-1].Close
	if ref <= 0 {
		return nil, fmt.Errorf("non-positive reference close %v", ref)
	}
	maxVol := 0.0
	for _, b := range win {
		if b.Volume > maxVol {
			maxVol = b.Volume
		}
	}
	if maxVol <= 0 {
		maxVol = 1
	}

	features := make([]float32, 0, window*inferenceFeatures)
	for _, b := range win {
		features = append(features,
			float32(b.Open/ref),
			float32(b.High/ref),
			float32(b.Low/ref),
			float32(b.Close/ref),
			float32(b.Volume/maxVol),
			float32(b.VWAP/ref),
		)
	}
	return features, nil
}

// softmax converts raw class scores to probabilities.
func softmax(scores []float32) []float64 {
	maxScore := float64(scores[0])
	for _, s := range scores[1:] {
		if float64(s) > maxScore {
			maxScore = float64(s)
		}
	}
	probs := make([]float64, len(scores))
	var sum float64
	for i, s := range scores {
		probs[i] = math.Exp(float64(s) - maxScore)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}

func argmax(v []float64) int {
	best := 0
	for i, x := range v {
		if x > v[best] {
			best = i
		}
	}
	return best
}
