// SPDX-License-Identifier: MPL-2.0

package models

import (
	"encoding/gob"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"

	"gonum.org/v1/gonum/mat"
)

// TransformerConfig configures the sequence encoder. The Hidden, Heads,
// Depth, and Dropout fields correspond to the --hidden, --heads, --depth,
// and --do CLI flags. Zero values are replaced with defaults by
// NewTransformer.
type TransformerConfig struct {
	Features int     // input feature count
	Hidden   int     // model width, default 64; must be divisible by Heads
	Heads    int     // attention heads, default 2
	Depth    int     // encoder blocks, default 1
	Dropout  float64 // dropout probability, default 0
	Classes  int     // output dimension; 1 selects the regression head
	FFNMult  int     // feed-forward width multiplier, default 4
	MaxLen   int     // positional encoding table length, default 512
	Seed     int64
}

type param struct {
	name string
	w    *mat.Dense
	g    *mat.Dense
}

// encoderBlock is one pre-norm transformer block: multi-head self-attention
// and a GELU feed-forward, each behind layer norm with a residual.
type encoderBlock struct {
	ln1g, ln1b *param
	wq, bq     *param
	wk, bk     *param
	wv, bv     *param
	wo, bo     *param
	ln2g, ln2b *param
	w1, b1     *param
	w2, b2     *param
}

// Transformer is a small encoder classifier over per-stay sequences:
// input projection plus sinusoidal positions, Depth pre-norm blocks of
// multi-head self-attention and feed-forward, a final layer norm, mean
// pooling over time, and a linear head. The backward pass is written out
// per operation in transformer_backward.go.
type Transformer struct {
	cfg TransformerConfig

	win, bin   *param
	blocks     []*encoderBlock
	lnFg, lnFb *param
	wout, bout *param

	pos *mat.Dense // fixed sinusoidal table, not trained

	params []*param
	opts   []*Adam
	rng    *rand.Rand
}

// NewTransformer creates and initializes the model. Features and Classes
// are required; the rest defaults.
func NewTransformer(cfg TransformerConfig) (*Transformer, error) {
	if cfg.Features <= 0 {
		return nil, errors.New("transformer: Features must be set")
	}
	if cfg.Classes <= 0 {
		return nil, errors.New("transformer: Classes must be set (1 for regression)")
	}
	if cfg.Hidden == 0 {
		cfg.Hidden = 64
	}
	if cfg.Heads == 0 {
		cfg.Heads = 2
	}
	if cfg.Depth == 0 {
		cfg.Depth = 1
	}
	if cfg.FFNMult == 0 {
		cfg.FFNMult = 4
	}
	if cfg.MaxLen == 0 {
		cfg.MaxLen = 512
	}
	if cfg.Hidden%cfg.Heads != 0 {
		return nil, fmt.Errorf("transformer: hidden %d not divisible by heads %d", cfg.Hidden, cfg.Heads)
	}
	if cfg.Dropout < 0 || cfg.Dropout >= 1 {
		return nil, fmt.Errorf("transformer: dropout %g out of [0, 1)", cfg.Dropout)
	}

	m := &Transformer{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
	}

	h, f, c := cfg.Hidden, cfg.Features, cfg.Classes
	fh := h * cfg.FFNMult

	m.win = m.newParam("win", f, h, xavier(f, h))
	m.bin = m.newParam("bin", 1, h, 0)
	for d := 0; d < cfg.Depth; d++ {
		b := &encoderBlock{
			ln1g: m.newParam(fmt.Sprintf("b%d.ln1g", d), 1, h, -1),
			ln1b: m.newParam(fmt.Sprintf("b%d.ln1b", d), 1, h, 0),
			wq:   m.newParam(fmt.Sprintf("b%d.wq", d), h, h, xavier(h, h)),
			bq:   m.newParam(fmt.Sprintf("b%d.bq", d), 1, h, 0),
			wk:   m.newParam(fmt.Sprintf("b%d.wk", d), h, h, xavier(h, h)),
			bk:   m.newParam(fmt.Sprintf("b%d.bk", d), 1, h, 0),
			wv:   m.newParam(fmt.Sprintf("b%d.wv", d), h, h, xavier(h, h)),
			bv:   m.newParam(fmt.Sprintf("b%d.bv", d), 1, h, 0),
			wo:   m.newParam(fmt.Sprintf("b%d.wo", d), h, h, xavier(h, h)),
			bo:   m.newParam(fmt.Sprintf("b%d.bo", d), 1, h, 0),
			ln2g: m.newParam(fmt.Sprintf("b%d.ln2g", d), 1, h, -1),
			ln2b: m.newParam(fmt.Sprintf("b%d.ln2b", d), 1, h, 0),
			w1:   m.newParam(fmt.Sprintf("b%d.w1", d), h, fh, xavier(h, fh)),
			b1:   m.newParam(fmt.Sprintf("b%d.b1", d), 1, fh, 0),
			w2:   m.newParam(fmt.Sprintf("b%d.w2", d), fh, h, xavier(fh, h)),
			b2:   m.newParam(fmt.Sprintf("b%d.b2", d), 1, h, 0),
		}
		m.blocks = append(m.blocks, b)
	}
	m.lnFg = m.newParam("lnFg", 1, h, -1)
	m.lnFb = m.newParam("lnFb", 1, h, 0)
	m.wout = m.newParam("wout", h, c, xavier(h, c))
	m.bout = m.newParam("bout", 1, c, 0)

	m.pos = positionalTable(cfg.MaxLen, h)
	return m, nil
}

// newParam allocates a parameter matrix. scale > 0 draws N(0, scale²)
// entries, scale == 0 zeros, scale < 0 ones (layer-norm gains).
func (m *Transformer) newParam(name string, r, c int, scale float64) *param {
	p := &param{
		name: name,
		w:    mat.NewDense(r, c, nil),
		g:    mat.NewDense(r, c, nil),
	}
	switch {
	case scale > 0:
		data := p.w.RawMatrix().Data
		for i := range data {
			data[i] = scale * m.rng.NormFloat64()
		}
	case scale < 0:
		data := p.w.RawMatrix().Data
		for i := range data {
			data[i] = 1
		}
	}
	m.params = append(m.params, p)
	return p
}

func xavier(fanIn, fanOut int) float64 {
	return math.Sqrt(2.0 / float64(fanIn+fanOut))
}

// positionalTable builds the fixed sinusoidal position encodings.
func positionalTable(maxLen, h int) *mat.Dense {
	pos := mat.NewDense(maxLen, h, nil)
	for t := 0; t < maxLen; t++ {
		for j := 0; j < h; j++ {
			angle := float64(t) / math.Pow(10000, float64(2*(j/2))/float64(h))
			if j%2 == 0 {
				pos.Set(t, j, math.Sin(angle))
			} else {
				pos.Set(t, j, math.Cos(angle))
			}
		}
	}
	return pos
}

// Config returns the model configuration.
func (m *Transformer) Config() TransformerConfig { return m.cfg }

// blockCache holds per-block activations the backward pass needs.
type blockCache struct {
	input     *mat.Dense // block input
	n1        *mat.Dense // layer norm 1 output
	ln1Mean   []float64
	ln1Inv    []float64
	q, k, v   *mat.Dense
	attn      []*mat.Dense // per-head softmax weights
	concat    *mat.Dense   // attention output before wo
	attnMask  *mat.Dense   // dropout mask on attention output (nil at eval)
	resid1    *mat.Dense   // input + attention
	n2        *mat.Dense
	ln2Mean   []float64
	ln2Inv    []float64
	ffnPre    *mat.Dense // w1 output before GELU
	ffnAct    *mat.Dense // GELU output
	ffnMask   *mat.Dense // dropout mask on ffn output (nil at eval)
}

// tape records one sample's forward pass for the backward pass.
type tape struct {
	raw    *mat.Dense // input features
	blocks []*blockCache
	preLN  *mat.Dense // input to the final layer norm
	normed *mat.Dense
	lnMean []float64
	lnInv  []float64
	pooled []float64
	logits []float64
}

// forward runs one sequence (T×Features rows) through the encoder.
// When train is true dropout is sampled and activations are recorded.
func (m *Transformer) forward(seq [][]float64, train bool) *tape {
	h := m.cfg.Hidden
	t := len(seq)

	x := mat.NewDense(t, h, nil)
	in := mat.NewDense(t, m.cfg.Features, nil)
	for i, row := range seq {
		in.SetRow(i, row)
	}
	x.Mul(in, m.win.w)
	addRowVector(x, m.bin.w)
	for i := 0; i < t; i++ {
		pi := i
		if pi >= m.cfg.MaxLen {
			pi = m.cfg.MaxLen - 1
		}
		for j := 0; j < h; j++ {
			x.Set(i, j, x.At(i, j)+m.pos.At(pi, j))
		}
	}

	tp := &tape{raw: in}

	cur := x
	for _, b := range m.blocks {
		bc := &blockCache{input: mat.DenseCopyOf(cur)}

		bc.n1, bc.ln1Mean, bc.ln1Inv = layerNorm(cur, b.ln1g.w, b.ln1b.w)

		bc.q = mat.NewDense(t, h, nil)
		bc.q.Mul(bc.n1, b.wq.w)
		addRowVector(bc.q, b.bq.w)
		bc.k = mat.NewDense(t, h, nil)
		bc.k.Mul(bc.n1, b.wk.w)
		addRowVector(bc.k, b.bk.w)
		bc.v = mat.NewDense(t, h, nil)
		bc.v.Mul(bc.n1, b.wv.w)
		addRowVector(bc.v, b.bv.w)

		dk := h / m.cfg.Heads
		scale := 1 / math.Sqrt(float64(dk))
		bc.concat = mat.NewDense(t, h, nil)
		for head := 0; head < m.cfg.Heads; head++ {
			qh := bc.q.Slice(0, t, head*dk, (head+1)*dk)
			kh := bc.k.Slice(0, t, head*dk, (head+1)*dk)
			vh := bc.v.Slice(0, t, head*dk, (head+1)*dk)

			scores := mat.NewDense(t, t, nil)
			scores.Mul(qh, kh.T())
			scores.Scale(scale, scores)
			softmaxRows(scores)
			bc.attn = append(bc.attn, scores)

			out := mat.NewDense(t, dk, nil)
			out.Mul(scores, vh)
			bc.concat.Slice(0, t, head*dk, (head+1)*dk).(*mat.Dense).Copy(out)
		}

		attnOut := mat.NewDense(t, h, nil)
		attnOut.Mul(bc.concat, b.wo.w)
		addRowVector(attnOut, b.bo.w)
		if train && m.cfg.Dropout > 0 {
			bc.attnMask = m.dropoutMask(t, h)
			attnOut.MulElem(attnOut, bc.attnMask)
		}

		resid1 := mat.NewDense(t, h, nil)
		resid1.Add(bc.input, attnOut)
		bc.resid1 = resid1

		bc.n2, bc.ln2Mean, bc.ln2Inv = layerNorm(resid1, b.ln2g.w, b.ln2b.w)

		fh := h * m.cfg.FFNMult
		bc.ffnPre = mat.NewDense(t, fh, nil)
		bc.ffnPre.Mul(bc.n2, b.w1.w)
		addRowVector(bc.ffnPre, b.b1.w)
		bc.ffnAct = applyGELU(bc.ffnPre)

		ffnOut := mat.NewDense(t, h, nil)
		ffnOut.Mul(bc.ffnAct, b.w2.w)
		addRowVector(ffnOut, b.b2.w)
		if train && m.cfg.Dropout > 0 {
			bc.ffnMask = m.dropoutMask(t, h)
			ffnOut.MulElem(ffnOut, bc.ffnMask)
		}

		next := mat.NewDense(t, h, nil)
		next.Add(resid1, ffnOut)
		cur = next

		tp.blocks = append(tp.blocks, bc)
	}

	tp.preLN = mat.DenseCopyOf(cur)
	tp.normed, tp.lnMean, tp.lnInv = layerNorm(cur, m.lnFg.w, m.lnFb.w)

	tp.pooled = make([]float64, h)
	for j := 0; j < h; j++ {
		var sum float64
		for i := 0; i < t; i++ {
			sum += tp.normed.At(i, j)
		}
		tp.pooled[j] = sum / float64(t)
	}

	tp.logits = make([]float64, m.cfg.Classes)
	for c := 0; c < m.cfg.Classes; c++ {
		sum := m.bout.w.At(0, c)
		for j := 0; j < h; j++ {
			sum += tp.pooled[j] * m.wout.w.At(j, c)
		}
		tp.logits[c] = sum
	}

	return tp
}

// dropoutMask samples an inverted-dropout mask.
func (m *Transformer) dropoutMask(r, c int) *mat.Dense {
	mask := mat.NewDense(r, c, nil)
	keep := 1 - m.cfg.Dropout
	data := mask.RawMatrix().Data
	for i := range data {
		if m.rng.Float64() < keep {
			data[i] = 1 / keep
		}
	}
	return mask
}

// Accumulate runs forward and backward for one labeled sequence, adding its
// gradients to the pending batch. classWeights may be nil; for regression
// the label is the target value. Returns the sample loss.
func (m *Transformer) Accumulate(seq [][]float64, label float64, classWeights []float64) (float64, error) {
	if len(seq) == 0 {
		return 0, errors.New("empty sequence")
	}
	tp := m.forward(seq, true)

	var loss float64
	gradLogits := make([]float64, m.cfg.Classes)

	if m.cfg.Classes == 1 {
		diff := tp.logits[0] - label
		loss = 0.5 * diff * diff
		gradLogits[0] = diff
	} else {
		target := int(label)
		if target < 0 || target >= m.cfg.Classes {
			return 0, fmt.Errorf("label %g out of range for %d classes", label, m.cfg.Classes)
		}
		probs := softmaxLogits(tp.logits)
		weight := 1.0
		if len(classWeights) == m.cfg.Classes {
			weight = classWeights[target]
		}
		loss = -weight * math.Log(math.Max(probs[target], 1e-12))
		for c := range gradLogits {
			gradLogits[c] = probs[c] * weight
		}
		gradLogits[target] -= weight
	}

	m.backward(tp, gradLogits)
	return loss, nil
}

// Step clips the accumulated gradients to maxNorm (0 disables clipping),
// scales them by 1/batchSize, applies Adam with the given learning rate,
// and zeroes the gradients.
func (m *Transformer) Step(lr float64, batchSize int, maxNorm float64) {
	if m.opts == nil {
		for _, p := range m.params {
			m.opts = append(m.opts, NewAdam(lr, len(p.g.RawMatrix().Data)))
		}
	}

	scale := 1.0
	if batchSize > 0 {
		scale = 1 / float64(batchSize)
	}

	var sq float64
	for _, p := range m.params {
		for _, g := range p.g.RawMatrix().Data {
			sq += (g * scale) * (g * scale)
		}
	}
	norm := math.Sqrt(sq)
	clip := 1.0
	if maxNorm > 0 && norm > maxNorm {
		clip = maxNorm / norm
	}

	for i, p := range m.params {
		grads := p.g.RawMatrix().Data
		for j := range grads {
			grads[j] *= scale * clip
		}
		m.opts[i].SetLR(lr)
		m.opts[i].Update(p.w.RawMatrix().Data, grads)
		for j := range grads {
			grads[j] = 0
		}
	}
}

// Predict returns class probabilities (or the regression value in a
// single-element slice) for one sequence.
func (m *Transformer) Predict(seq [][]float64) ([]float64, error) {
	if len(seq) == 0 {
		return nil, errors.New("empty sequence")
	}
	tp := m.forward(seq, false)
	if m.cfg.Classes == 1 {
		return []float64{tp.logits[0]}, nil
	}
	return softmaxLogits(tp.logits), nil
}

// Loss computes the per-sample loss without touching gradients, for
// validation scoring.
func (m *Transformer) Loss(seq [][]float64, label float64, classWeights []float64) (float64, error) {
	if len(seq) == 0 {
		return 0, errors.New("empty sequence")
	}
	tp := m.forward(seq, false)

	if m.cfg.Classes == 1 {
		diff := tp.logits[0] - label
		return 0.5 * diff * diff, nil
	}
	target := int(label)
	if target < 0 || target >= m.cfg.Classes {
		return 0, fmt.Errorf("label %g out of range for %d classes", label, m.cfg.Classes)
	}
	probs := softmaxLogits(tp.logits)
	weight := 1.0
	if len(classWeights) == m.cfg.Classes {
		weight = classWeights[target]
	}
	return -weight * math.Log(math.Max(probs[target], 1e-12)), nil
}

// transformerState is the gob shape of a checkpoint.
type transformerState struct {
	Config  TransformerConfig
	Weights map[string][]float64
}

// Save writes a checkpoint to path.
func (m *Transformer) Save(path string) error {
	state := transformerState{
		Config:  m.cfg,
		Weights: map[string][]float64{},
	}
	for _, p := range m.params {
		state.Weights[p.name] = append([]float64(nil), p.w.RawMatrix().Data...)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return gob.NewEncoder(f).Encode(&state)
}

// LoadTransformer restores a checkpoint written by Save.
func LoadTransformer(path string) (*Transformer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var state transformerState
	if err := gob.NewDecoder(f).Decode(&state); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}

	m, err := NewTransformer(state.Config)
	if err != nil {
		return nil, err
	}
	for _, p := range m.params {
		saved, ok := state.Weights[p.name]
		if !ok {
			return nil, fmt.Errorf("checkpoint missing weights for %s", p.name)
		}
		data := p.w.RawMatrix().Data
		if len(saved) != len(data) {
			return nil, fmt.Errorf("checkpoint shape mismatch for %s: %d != %d", p.name, len(saved), len(data))
		}
		copy(data, saved)
	}
	return m, nil
}

// LoadWeights restores checkpoint weights into the receiver in place,
// keeping optimizer state. Shapes must match.
func (m *Transformer) LoadWeights(path string) error {
	loaded, err := LoadTransformer(path)
	if err != nil {
		return err
	}
	for i, p := range m.params {
		copy(p.w.RawMatrix().Data, loaded.params[i].w.RawMatrix().Data)
	}
	return nil
}

// addRowVector adds a 1×C row vector to every row of x in place.
func addRowVector(x *mat.Dense, row *mat.Dense) {
	r, c := x.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			x.Set(i, j, x.At(i, j)+row.At(0, j))
		}
	}
}

// softmaxRows applies a numerically stable softmax to each row in place.
func softmaxRows(x *mat.Dense) {
	r, c := x.Dims()
	for i := 0; i < r; i++ {
		maxV := x.At(i, 0)
		for j := 1; j < c; j++ {
			if v := x.At(i, j); v > maxV {
				maxV = v
			}
		}
		var sum float64
		for j := 0; j < c; j++ {
			e := math.Exp(x.At(i, j) - maxV)
			x.Set(i, j, e)
			sum += e
		}
		for j := 0; j < c; j++ {
			x.Set(i, j, x.At(i, j)/sum)
		}
	}
}

const geluCoeff = 0.044715

// applyGELU returns gelu(x) using the tanh approximation.
func applyGELU(x *mat.Dense) *mat.Dense {
	r, c := x.Dims()
	out := mat.NewDense(r, c, nil)
	k := math.Sqrt(2 / math.Pi)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := x.At(i, j)
			u := k * (v + geluCoeff*v*v*v)
			out.Set(i, j, 0.5*v*(1+math.Tanh(u)))
		}
	}
	return out
}

// layerNorm normalizes each row to zero mean and unit variance, then applies
// gain and bias. Returns the output with per-row means and inverse standard
// deviations for the backward pass.
func layerNorm(x *mat.Dense, gain, bias *mat.Dense) (*mat.Dense, []float64, []float64) {
	const eps = 1e-5
	r, c := x.Dims()
	out := mat.NewDense(r, c, nil)
	means := make([]float64, r)
	invs := make([]float64, r)

	for i := 0; i < r; i++ {
		var mean float64
		for j := 0; j < c; j++ {
			mean += x.At(i, j)
		}
		mean /= float64(c)

		var variance float64
		for j := 0; j < c; j++ {
			d := x.At(i, j) - mean
			variance += d * d
		}
		variance /= float64(c)

		inv := 1 / math.Sqrt(variance+eps)
		means[i] = mean
		invs[i] = inv
		for j := 0; j < c; j++ {
			norm := (x.At(i, j) - mean) * inv
			out.Set(i, j, norm*gain.At(0, j)+bias.At(0, j))
		}
	}
	return out, means, invs
}
