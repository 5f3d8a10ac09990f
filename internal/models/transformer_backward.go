// SPDX-License-Identifier: MPL-2.0

package models

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// backward propagates the loss gradient from the logits down to every
// parameter, adding into the parameter .g accumulators. Each operation in
// the forward pass has its matching derivative here, in reverse order.
func (m *Transformer) backward(tp *tape, gradLogits []float64) {
	h := m.cfg.Hidden
	t, _ := tp.preLN.Dims()

	// Output head: logits = pooled * wout + bout.
	for c := 0; c < m.cfg.Classes; c++ {
		m.bout.g.Set(0, c, m.bout.g.At(0, c)+gradLogits[c])
		for j := 0; j < h; j++ {
			m.wout.g.Set(j, c, m.wout.g.At(j, c)+tp.pooled[j]*gradLogits[c])
		}
	}
	gradPooled := make([]float64, h)
	for j := 0; j < h; j++ {
		var sum float64
		for c := 0; c < m.cfg.Classes; c++ {
			sum += m.wout.w.At(j, c) * gradLogits[c]
		}
		gradPooled[j] = sum
	}

	// Mean pool spreads the gradient evenly over time steps.
	gradNormed := mat.NewDense(t, h, nil)
	invT := 1 / float64(t)
	for i := 0; i < t; i++ {
		for j := 0; j < h; j++ {
			gradNormed.Set(i, j, gradPooled[j]*invT)
		}
	}

	grad := layerNormBackward(gradNormed, tp.preLN, tp.lnMean, tp.lnInv, m.lnFg, m.lnFb)

	for d := len(m.blocks) - 1; d >= 0; d-- {
		grad = m.blockBackward(m.blocks[d], tp.blocks[d], grad)
	}

	// Input projection: x = in * win + bin (+ fixed positions).
	m.accumulateInputGrads(tp, grad)
}

// blockBackward runs one encoder block's backward pass, returning the
// gradient with respect to the block input.
func (m *Transformer) blockBackward(b *encoderBlock, bc *blockCache, gradOut *mat.Dense) *mat.Dense {
	h := m.cfg.Hidden
	t, _ := gradOut.Dims()
	fh := h * m.cfg.FFNMult

	// Residual 2: out = resid1 + dropout(ffn(n2)).
	gradFFNOut := mat.DenseCopyOf(gradOut)
	if bc.ffnMask != nil {
		gradFFNOut.MulElem(gradFFNOut, bc.ffnMask)
	}

	// ffnOut = gelu(n2*w1 + b1) * w2 + b2.
	gradAct := mat.NewDense(t, fh, nil)
	gradAct.Mul(gradFFNOut, b.w2.w.T())
	addMulInto(b.w2.g, bc.ffnAct.T(), gradFFNOut)
	addColSums(b.b2.g, gradFFNOut)

	gradPre := geluBackward(gradAct, bc.ffnPre)

	gradN2 := mat.NewDense(t, h, nil)
	gradN2.Mul(gradPre, b.w1.w.T())
	addMulInto(b.w1.g, bc.n2.T(), gradPre)
	addColSums(b.b1.g, gradPre)

	gradResid1 := layerNormBackward(gradN2, bc.resid1, bc.ln2Mean, bc.ln2Inv, b.ln2g, b.ln2b)
	gradResid1.Add(gradResid1, gradOut)

	// Residual 1: resid1 = input + dropout(attn(n1)).
	gradAttnOut := mat.DenseCopyOf(gradResid1)
	if bc.attnMask != nil {
		gradAttnOut.MulElem(gradAttnOut, bc.attnMask)
	}

	// attnOut = concat * wo + bo.
	gradConcat := mat.NewDense(t, h, nil)
	gradConcat.Mul(gradAttnOut, b.wo.w.T())
	addMulInto(b.wo.g, bc.concat.T(), gradAttnOut)
	addColSums(b.bo.g, gradAttnOut)

	// Per-head attention.
	dk := h / m.cfg.Heads
	scale := 1 / math.Sqrt(float64(dk))
	gradQ := mat.NewDense(t, h, nil)
	gradK := mat.NewDense(t, h, nil)
	gradV := mat.NewDense(t, h, nil)
	for head := 0; head < m.cfg.Heads; head++ {
		lo, hi := head*dk, (head+1)*dk
		qh := bc.q.Slice(0, t, lo, hi)
		kh := bc.k.Slice(0, t, lo, hi)
		vh := bc.v.Slice(0, t, lo, hi)
		attn := bc.attn[head]
		gradOh := gradConcat.Slice(0, t, lo, hi)

		// out = attn * vh.
		gradAttn := mat.NewDense(t, t, nil)
		gradAttn.Mul(gradOh, vh.T())
		gv := mat.NewDense(t, dk, nil)
		gv.Mul(attn.T(), gradOh)
		gradV.Slice(0, t, lo, hi).(*mat.Dense).Copy(gv)

		// attn = softmax(scores), scores = qh*kh^T * scale.
		gradScores := softmaxRowsBackward(attn, gradAttn)
		gradScores.Scale(scale, gradScores)

		gq := mat.NewDense(t, dk, nil)
		gq.Mul(gradScores, kh)
		gradQ.Slice(0, t, lo, hi).(*mat.Dense).Copy(gq)

		gk := mat.NewDense(t, dk, nil)
		gk.Mul(gradScores.T(), qh)
		gradK.Slice(0, t, lo, hi).(*mat.Dense).Copy(gk)
	}

	// q/k/v = n1 * w + b.
	gradN1 := mat.NewDense(t, h, nil)
	tmp := mat.NewDense(t, h, nil)

	tmp.Mul(gradQ, b.wq.w.T())
	gradN1.Add(gradN1, tmp)
	addMulInto(b.wq.g, bc.n1.T(), gradQ)
	addColSums(b.bq.g, gradQ)

	tmp.Mul(gradK, b.wk.w.T())
	gradN1.Add(gradN1, tmp)
	addMulInto(b.wk.g, bc.n1.T(), gradK)
	addColSums(b.bk.g, gradK)

	tmp.Mul(gradV, b.wv.w.T())
	gradN1.Add(gradN1, tmp)
	addMulInto(b.wv.g, bc.n1.T(), gradV)
	addColSums(b.bv.g, gradV)

	gradInput := layerNormBackward(gradN1, bc.input, bc.ln1Mean, bc.ln1Inv, b.ln1g, b.ln1b)
	gradInput.Add(gradInput, gradResid1)
	return gradInput
}

// accumulateInputGrads handles the input projection x = in*win + bin.
// Positions are fixed, so the gradient stops at the projection.
func (m *Transformer) accumulateInputGrads(tp *tape, grad *mat.Dense) {
	addColSums(m.bin.g, grad)
	addMulInto(m.win.g, tp.raw.T(), grad)
}

// layerNormBackward maps the gradient of a layer norm output back to its
// input, accumulating gain and bias gradients.
func layerNormBackward(gradOut, input *mat.Dense, means, invs []float64, gain, bias *param) *mat.Dense {
	r, c := input.Dims()
	gradIn := mat.NewDense(r, c, nil)
	n := float64(c)

	for i := 0; i < r; i++ {
		mean, inv := means[i], invs[i]

		var sumDXhat, sumDXhatXhat float64
		xhat := make([]float64, c)
		dxhat := make([]float64, c)
		for j := 0; j < c; j++ {
			xhat[j] = (input.At(i, j) - mean) * inv
			dy := gradOut.At(i, j)
			dxhat[j] = dy * gain.w.At(0, j)
			sumDXhat += dxhat[j]
			sumDXhatXhat += dxhat[j] * xhat[j]

			gain.g.Set(0, j, gain.g.At(0, j)+dy*xhat[j])
			bias.g.Set(0, j, bias.g.At(0, j)+dy)
		}

		for j := 0; j < c; j++ {
			gradIn.Set(i, j, inv*(dxhat[j]-sumDXhat/n-xhat[j]*sumDXhatXhat/n))
		}
	}
	return gradIn
}

// softmaxRowsBackward computes the softmax Jacobian-vector product per row:
// ds_j = a_j * (da_j - sum_k da_k a_k).
func softmaxRowsBackward(attn, gradAttn *mat.Dense) *mat.Dense {
	r, c := attn.Dims()
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		var dot float64
		for j := 0; j < c; j++ {
			dot += gradAttn.At(i, j) * attn.At(i, j)
		}
		for j := 0; j < c; j++ {
			out.Set(i, j, attn.At(i, j)*(gradAttn.At(i, j)-dot))
		}
	}
	return out
}

// geluBackward multiplies the incoming gradient by gelu'(pre) using the
// tanh approximation.
func geluBackward(gradOut, pre *mat.Dense) *mat.Dense {
	r, c := pre.Dims()
	out := mat.NewDense(r, c, nil)
	k := math.Sqrt(2 / math.Pi)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := pre.At(i, j)
			u := k * (v + geluCoeff*v*v*v)
			th := math.Tanh(u)
			du := k * (1 + 3*geluCoeff*v*v)
			deriv := 0.5*(1+th) + 0.5*v*(1-th*th)*du
			out.Set(i, j, gradOut.At(i, j)*deriv)
		}
	}
	return out
}

// addMulInto computes dst += a*b.
func addMulInto(dst *mat.Dense, a, b mat.Matrix) {
	var prod mat.Dense
	prod.Mul(a, b)
	dst.Add(dst, &prod)
}

// addColSums adds the column sums of x into the 1×C accumulator.
func addColSums(dst *mat.Dense, x *mat.Dense) {
	r, c := x.Dims()
	for j := 0; j < c; j++ {
		var sum float64
		for i := 0; i < r; i++ {
			sum += x.At(i, j)
		}
		dst.Set(0, j, dst.At(0, j)+sum)
	}
}
