// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_audio

import (
	"fmt"
	"math"
)

// =============================================================================
// Rational Resampler
// =============================================================================

// The telephony leg runs at 8 kHz while the model consumes and produces
// 24 kHz, so every payload crosses a 3:1 rate boundary. Arbitrary rate
// pairs reduce to a rational up/down ratio with the denominator capped.
const maxDenominator = 1000

// Resampler converts 16-bit PCM between two fixed sample rates using a
// polyphase windowed-sinc low-pass. It is stateless: each Resample call
// treats its input as one complete block, so callers batch contiguous
// audio (one model response, one utterance) before converting rather
// than feeding tiny deltas that would click at block boundaries.
type Resampler struct {
	up     int
	down   int
	taps   []float64
	center int
}

func NewResampler(srIn, srOut int) (*Resampler, error) {
	if srIn <= 0 || srOut <= 0 {
		return nil, fmt.Errorf("audio: invalid sample rates %d -> %d", srIn, srOut)
	}
	up, down := limitDenominator(srOut, srIn, maxDenominator)
	r := &Resampler{up: up, down: down}
	if up == down {
		return r, nil
	}
	// Cutoff at the narrower Nyquist band, expressed at the upsampled
	// rate. Ten taps per phase keeps passband ripple inaudible for speech.
	m := up
	if down > m {
		m = down
	}
	n := 2*10*m + 1
	r.taps = lowpass(n, 0.5/float64(m))
	r.center = (n - 1) / 2
	return r, nil
}

// Ratio reports the reduced up/down conversion factors.
func (r *Resampler) Ratio() (up, down int) {
	return r.up, r.down
}

// Resample converts a block of samples. Output length is
// ceil(len(in) * up / down); converting at equal rates copies the input.
func (r *Resampler) Resample(in []int16) []int16 {
	if r.up == r.down {
		out := make([]int16, len(in))
		copy(out, in)
		return out
	}
	if len(in) == 0 {
		return nil
	}
	nOut := (len(in)*r.up + r.down - 1) / r.down
	out := make([]int16, nOut)
	gain := float64(r.up)
	for j := 0; j < nOut; j++ {
		// Output position in the zero-stuffed domain, shifted by the
		// filter's group delay so output stays time-aligned with input.
		pos := j*r.down + r.center
		// Only every up-th zero-stuffed index carries a real sample;
		// step the tap index so (pos-k) always lands on one.
		var acc float64
		for k := pos % r.up; k < len(r.taps); k += r.up {
			i := (pos - k) / r.up
			if i < 0 {
				break
			}
			if i >= len(in) {
				continue
			}
			acc += r.taps[k] * float64(in[i])
		}
		out[j] = clipInt16(acc * gain)
	}
	return out
}

// ResampleBytes converts little-endian 16-bit PCM bytes.
func (r *Resampler) ResampleBytes(b []byte) []byte {
	return PCMToBytes(r.Resample(BytesToPCM(b)))
}

// lowpass designs an n-tap Hamming-windowed sinc filter with the given
// cutoff in cycles per sample, normalized to unit DC gain.
func lowpass(n int, cutoff float64) []float64 {
	h := make([]float64, n)
	mid := float64(n-1) / 2
	var sum float64
	for i := range h {
		x := float64(i) - mid
		var v float64
		if x == 0 {
			v = 2 * cutoff
		} else {
			v = math.Sin(2*math.Pi*cutoff*x) / (math.Pi * x)
		}
		v *= 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
		h[i] = v
		sum += v
	}
	for i := range h {
		h[i] /= sum
	}
	return h
}

func clipInt16(v float64) int16 {
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int16(math.Round(v))
}

// limitDenominator returns the fraction closest to n/d whose denominator
// does not exceed maxDen, walking continued-fraction convergents.
func limitDenominator(n, d, maxDen int) (num, den int) {
	g := gcd(n, d)
	n, d = n/g, d/g
	if d <= maxDen {
		return n, d
	}
	p0, q0, p1, q1 := 0, 1, 1, 0
	nn, dd := n, d
	for dd != 0 {
		a := nn / dd
		if q0+a*q1 > maxDen {
			break
		}
		p0, q0, p1, q1 = p1, q1, p0+a*p1, q0+a*q1
		nn, dd = dd, nn-a*dd
	}
	if dd == 0 {
		return p1, q1
	}
	k := (maxDen - q0) / q1
	c1n, c1d := p0+k*p1, q0+k*q1
	e1 := abs64(int64(n)*int64(c1d)-int64(c1n)*int64(d)) * int64(q1)
	e2 := abs64(int64(n)*int64(q1)-int64(p1)*int64(d)) * int64(c1d)
	if e2 <= e1 {
		return p1, q1
	}
	return c1n, c1d
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
