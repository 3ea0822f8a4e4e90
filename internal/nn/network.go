package nn

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"

	"bayesnet/internal/dropout"
	"bayesnet/internal/model"
	"bayesnet/internal/predictive"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	DefaultSeed       = 42
	DefaultActivation = "relu"
)

// Config describes a fully connected classifier. Dropout follows every affine layer
// except the output layer.
type Config struct {
	InputDim   int
	Hidden     []int
	Classes    int
	DropRate   float64
	Activation string
	Seed       int64
	// Workers bounds the goroutines used by SamplePredict. Values below 2 run passes
	// sequentially.
	Workers int
}

// MLP is the point-estimate model. Its weights are only written through LoadParameters
// and the optimizer view returned by Live.
type MLP struct {
	cfg     Config
	act     Activation
	weights []*mat.Dense // fan_in x fan_out
	biases  [][]float64
}

// Step is the outcome of one forward/backward pass.
type Step struct {
	Loss   float64
	Errors int
	Logits *mat.Dense
	Grads  model.ParameterVector
}

type trace struct {
	inputs []*mat.Dense
	pre    []*mat.Dense
	masks  []*mat.Dense
	logits *mat.Dense
}

func NewMLP(cfg Config) (*MLP, error) {
	if cfg.InputDim <= 0 {
		return nil, fmt.Errorf("input dim must be > 0, got %d", cfg.InputDim)
	}
	if cfg.Classes < 2 {
		return nil, fmt.Errorf("classes must be >= 2, got %d", cfg.Classes)
	}
	for i, h := range cfg.Hidden {
		if h <= 0 {
			return nil, fmt.Errorf("hidden layer %d must be > 0, got %d", i, h)
		}
	}
	if err := dropout.Validate(cfg.DropRate); err != nil {
		return nil, err
	}
	if cfg.Activation == "" {
		cfg.Activation = DefaultActivation
	}
	if cfg.Seed == 0 {
		cfg.Seed = DefaultSeed
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	cfg.Hidden = append([]int(nil), cfg.Hidden...)

	act, err := GetActivation(cfg.Activation)
	if err != nil {
		return nil, err
	}

	dims := make([]int, 0, len(cfg.Hidden)+2)
	dims = append(dims, cfg.InputDim)
	dims = append(dims, cfg.Hidden...)
	dims = append(dims, cfg.Classes)

	rng := rand.New(rand.NewSource(cfg.Seed))
	m := &MLP{cfg: cfg, act: act}
	for l := 0; l+1 < len(dims); l++ {
		in, out := dims[l], dims[l+1]
		bound := 1 / math.Sqrt(float64(in))
		w := make([]float64, in*out)
		for i := range w {
			w[i] = (2*rng.Float64() - 1) * bound
		}
		b := make([]float64, out)
		for i := range b {
			b[i] = (2*rng.Float64() - 1) * bound
		}
		m.weights = append(m.weights, mat.NewDense(in, out, w))
		m.biases = append(m.biases, b)
	}
	return m, nil
}

func (m *MLP) Config() Config {
	cfg := m.cfg
	cfg.Hidden = append([]int(nil), m.cfg.Hidden...)
	return cfg
}

func (m *MLP) InputDim() int { return m.cfg.InputDim }

func (m *MLP) Classes() int { return m.cfg.Classes }

// NbParameters counts every learnable scalar.
func (m *MLP) NbParameters() int {
	return m.Live().Count()
}

// Live returns a view whose Data slices alias the model weights. Optimizers update
// weights in place through it; everything else should use Parameters.
func (m *MLP) Live() model.ParameterVector {
	pv := make(model.ParameterVector, 0, 2*len(m.weights))
	for l, w := range m.weights {
		r, c := w.Dims()
		name := layerName(l)
		pv = append(pv,
			model.Param{Name: name + ".weight", Shape: []int{r, c}, Data: w.RawMatrix().Data},
			model.Param{Name: name + ".bias", Shape: []int{c}, Data: m.biases[l]},
		)
	}
	return pv
}

// Parameters returns a deep copy of the current weights.
func (m *MLP) Parameters() model.ParameterVector {
	return m.Live().Clone()
}

// LoadParameters overwrites the weights with pv. The layout must match exactly.
func (m *MLP) LoadParameters(pv model.ParameterVector) error {
	live := m.Live()
	if err := live.CheckLayout(pv); err != nil {
		return err
	}
	for i := range live {
		copy(live[i].Data, pv[i].Data)
	}
	return nil
}

// Forward computes logits. Dropout masks are drawn when training or sample is set;
// otherwise activations are scaled by the keep probability.
func (m *MLP) Forward(x *mat.Dense, training, sample bool, rng *rand.Rand) (*mat.Dense, error) {
	if err := m.checkInput(x); err != nil {
		return nil, err
	}
	return m.forward(x, training || sample, rng).logits, nil
}

// SamplePredict runs n independent masked passes and collects their logits.
// Each pass gets its own generator seeded from rng, so the result does not depend on
// how passes are scheduled across workers.
func (m *MLP) SamplePredict(x *mat.Dense, n int, rng *rand.Rand) (*predictive.Ensemble, error) {
	if n <= 0 {
		return nil, fmt.Errorf("sample count must be > 0, got %d", n)
	}
	if err := m.checkInput(x); err != nil {
		return nil, err
	}
	b, _ := x.Dims()
	ens, err := predictive.NewEnsemble(n, b, m.cfg.Classes)
	if err != nil {
		return nil, err
	}

	seeds := make([]int64, n)
	for i := range seeds {
		seeds[i] = rng.Int63()
	}

	workers := m.cfg.Workers
	if workers > n {
		workers = n
	}
	errs := make([]error, n)
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				tr := m.forward(x, true, rand.New(rand.NewSource(seeds[i])))
				errs[i] = ens.Set(i, tr.logits)
			}
		}()
	}
	for i := 0; i < n; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return ens, nil
}

// LossGrad runs one pass and backpropagates the batch-summed cross-entropy.
func (m *MLP) LossGrad(x *mat.Dense, labels []int, training bool, rng *rand.Rand) (Step, error) {
	if err := m.checkInput(x); err != nil {
		return Step{}, err
	}
	b, _ := x.Dims()
	if len(labels) != b {
		return Step{}, fmt.Errorf("%w: %d labels for batch of %d", model.ErrShapeMismatch, len(labels), b)
	}
	for i, y := range labels {
		if y < 0 || y >= m.cfg.Classes {
			return Step{}, fmt.Errorf("%w: label %d at %d outside [0,%d)", model.ErrShapeMismatch, y, i, m.cfg.Classes)
		}
	}

	tr := m.forward(x, training, rng)

	var loss float64
	errs := 0
	delta := predictive.Softmax(tr.logits)
	for i := 0; i < b; i++ {
		row := tr.logits.RawRowView(i)
		loss += floats.LogSumExp(row) - row[labels[i]]
		if floats.MaxIdx(row) != labels[i] {
			errs++
		}
		delta.Set(i, labels[i], delta.At(i, labels[i])-1)
	}

	grads := make(model.ParameterVector, 2*len(m.weights))
	for l := len(m.weights) - 1; l >= 0; l-- {
		var gw mat.Dense
		gw.Mul(tr.inputs[l].T(), delta)
		r, c := gw.Dims()
		gb := make([]float64, c)
		for i := 0; i < b; i++ {
			floats.Add(gb, delta.RawRowView(i))
		}
		name := layerName(l)
		grads[2*l] = model.Param{Name: name + ".weight", Shape: []int{r, c}, Data: denseData(&gw)}
		grads[2*l+1] = model.Param{Name: name + ".bias", Shape: []int{c}, Data: gb}
		if l == 0 {
			break
		}

		var dh mat.Dense
		dh.Mul(delta, m.weights[l].T())
		pre, mask := tr.pre[l-1], tr.masks[l-1]
		keep := 1 - m.cfg.DropRate
		next := mat.NewDense(b, pre.RawMatrix().Cols, nil)
		next.Apply(func(i, j int, v float64) float64 {
			g := v * m.act.Derivative(pre.At(i, j))
			if mask != nil {
				return g * mask.At(i, j)
			}
			return g * keep
		}, &dh)
		delta = next
	}

	return Step{Loss: loss, Errors: errs, Logits: tr.logits, Grads: grads}, nil
}

func (m *MLP) forward(x *mat.Dense, mask bool, rng *rand.Rand) *trace {
	tr := &trace{}
	h := x
	last := len(m.weights) - 1
	for l := range m.weights {
		tr.inputs = append(tr.inputs, h)
		z := m.affine(h, l)
		if l == last {
			tr.logits = z
			break
		}
		var msk *mat.Dense
		if mask {
			z, msk = dropout.Apply(z, m.cfg.DropRate, true, rng)
		} else {
			z = dropout.Expect(z, m.cfg.DropRate)
		}
		tr.pre = append(tr.pre, z)
		tr.masks = append(tr.masks, msk)

		var a mat.Dense
		a.Apply(func(_, _ int, v float64) float64 { return m.act.Func(v) }, z)
		h = &a
	}
	return tr
}

func (m *MLP) affine(h *mat.Dense, l int) *mat.Dense {
	var z mat.Dense
	z.Mul(h, m.weights[l])
	r, _ := z.Dims()
	for i := 0; i < r; i++ {
		floats.Add(z.RawRowView(i), m.biases[l])
	}
	return &z
}

func (m *MLP) checkInput(x *mat.Dense) error {
	if x == nil {
		return fmt.Errorf("%w: nil input", model.ErrShapeMismatch)
	}
	if _, c := x.Dims(); c != m.cfg.InputDim {
		return fmt.Errorf("%w: input has %d features, want %d", model.ErrShapeMismatch, c, m.cfg.InputDim)
	}
	return nil
}

func layerName(l int) string {
	return fmt.Sprintf("fc%d", l+1)
}

func denseData(d *mat.Dense) []float64 {
	r, c := d.Dims()
	out := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		out = append(out, d.RawRowView(i)...)
	}
	return out
}
