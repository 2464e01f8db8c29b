package model

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"gradloop/internal/metrics"
)

// SoftmaxClassifier is a linear classifier with softmax cross-entropy and
// optional input dropout while training.
//
// Forward expects a single input of shape [batch, inputSize]. Targets are
// [batch, 1] tensors of class indices.
type SoftmaxClassifier struct {
	numClasses int
	inputSize  int
	dropout    float64
	training   bool
	rng        *rand.Rand

	weight *Parameter // [numClasses, inputSize]
	bias   *Parameter // [1, numClasses]
}

// NewSoftmaxClassifier constructs the model with random initialization.
func NewSoftmaxClassifier(numClasses, inputSize int, dropout float64, seed int64) *SoftmaxClassifier {
	if numClasses <= 0 {
		numClasses = 10
	}
	if inputSize <= 0 {
		inputSize = 64
	}
	if dropout < 0 || dropout >= 1 {
		dropout = 0
	}
	rng := rand.New(rand.NewSource(seed))
	weights := make([]float64, numClasses*inputSize)
	for i := range weights {
		weights[i] = (rng.Float64()*2 - 1) * 0.01
	}
	return &SoftmaxClassifier{
		numClasses: numClasses,
		inputSize:  inputSize,
		dropout:    dropout,
		training:   true,
		rng:        rng,
		weight:     NewParameter("linear.weight", mat.NewDense(numClasses, inputSize, weights)),
		bias:       NewParameter("linear.bias", mat.NewDense(1, numClasses, nil)),
	}
}

// Train enables dropout.
func (m *SoftmaxClassifier) Train() { m.training = true }

// Eval disables dropout.
func (m *SoftmaxClassifier) Eval() { m.training = false }

// Training reports whether the model is in training mode.
func (m *SoftmaxClassifier) Training() bool { return m.training }

// Parameters returns the weight and bias.
func (m *SoftmaxClassifier) Parameters() []*Parameter {
	return []*Parameter{m.weight, m.bias}
}

// Forward returns the logits for the batch.
func (m *SoftmaxClassifier) Forward(inputs []*Variable) (*Variable, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("%w: softmax classifier takes 1 input, got %d", ErrShape, len(inputs))
	}
	in := inputs[0]
	rows, cols := in.Dims()
	if rows == 0 {
		return nil, fmt.Errorf("%w: empty batch", ErrShape)
	}
	if cols != m.inputSize {
		return nil, fmt.Errorf("%w: input has %d features, model expects %d", ErrShape, cols, m.inputSize)
	}

	x := in.Value
	var mask *mat.Dense
	if m.training && m.dropout > 0 {
		mask = m.dropoutMask(rows, cols)
		dropped := mat.NewDense(rows, cols, nil)
		dropped.MulElem(x, mask)
		x = dropped
	}

	logits := mat.NewDense(rows, m.numClasses, nil)
	logits.Mul(x, m.weight.Value.T())
	b := m.bias.Value.RawRowView(0)
	for i := 0; i < rows; i++ {
		floats.Add(logits.RawRowView(i), b)
	}

	out := NewVariable(logits)
	out.backward = func(grad *mat.Dense) error {
		var dW mat.Dense
		dW.Mul(grad.T(), x)
		if err := m.weight.accumulate(&dW); err != nil {
			return err
		}
		db := mat.NewDense(1, m.numClasses, nil)
		for i := 0; i < rows; i++ {
			floats.Add(db.RawRowView(0), grad.RawRowView(i))
		}
		if err := m.bias.accumulate(db); err != nil {
			return err
		}

		dX := mat.NewDense(rows, cols, nil)
		dX.Mul(grad, m.weight.Value)
		if mask != nil {
			dX.MulElem(dX, mask)
		}
		return in.Backward(dX)
	}
	return out, nil
}

// dropoutMask draws an inverted dropout mask so activations keep their expected value.
func (m *SoftmaxClassifier) dropoutMask(rows, cols int) *mat.Dense {
	keep := 1 - m.dropout
	data := make([]float64, rows*cols)
	for i := range data {
		if m.rng.Float64() < keep {
			data[i] = 1 / keep
		}
	}
	return mat.NewDense(rows, cols, data)
}

// Loss computes mean cross-entropy and accuracy of output against target.
func (m *SoftmaxClassifier) Loss(output, target *Variable, _ []*Variable) (Loss, metrics.Stats, error) {
	rows, cols := output.Dims()
	tr, tc := target.Dims()
	if tr != rows || tc != 1 {
		return nil, nil, fmt.Errorf("%w: target %dx%d for output %dx%d", ErrShape, tr, tc, rows, cols)
	}
	if rows == 0 {
		return nil, nil, fmt.Errorf("%w: empty batch", ErrShape)
	}

	probs := mat.DenseCopyOf(output.Value)
	labels := make([]int, rows)
	total := 0.0
	correct := 0
	for i := 0; i < rows; i++ {
		row := probs.RawRowView(i)
		softmax(row)
		label := clampLabel(int(target.Value.At(i, 0)), cols)
		labels[i] = label
		total += -math.Log(math.Max(row[label], 1e-9))
		if floats.MaxIdx(row) == label {
			correct++
		}
	}
	n := float64(rows)
	loss := &crossEntropy{
		value:  total / n,
		probs:  probs,
		labels: labels,
		output: output,
	}
	stats := metrics.Stats{
		"loss":     loss.value,
		"accuracy": float64(correct) / n,
	}
	return loss, stats, nil
}

type crossEntropy struct {
	value  float64
	probs  *mat.Dense
	labels []int
	output *Variable
}

func (l *crossEntropy) Value() float64 { return l.value }

// Backward seeds d(loss)/d(logits) = (softmax - onehot) / batch.
func (l *crossEntropy) Backward() error {
	grad := mat.DenseCopyOf(l.probs)
	for i, label := range l.labels {
		grad.Set(i, label, grad.At(i, label)-1)
	}
	rows, _ := grad.Dims()
	grad.Scale(1/float64(rows), grad)
	return l.output.Backward(grad)
}

// softmax normalizes row in place.
func softmax(row []float64) {
	maxLogit := floats.Max(row)
	for i, v := range row {
		row[i] = math.Exp(v - maxLogit)
	}
	floats.Scale(1/floats.Sum(row), row)
}

func clampLabel(label, numClasses int) int {
	if label < 0 || label >= numClasses {
		label = label % numClasses
		if label < 0 {
			label += numClasses
		}
	}
	return label
}
