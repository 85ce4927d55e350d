package pipeline

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

func parseFloat(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return v, err == nil
}

// SpearmanCorrelation computes the Spearman rank correlation of two paired
// samples and its two-sided p-value from the t distribution with n-2
// degrees of freedom. Ties get averaged ranks.
func SpearmanCorrelation(x, y []float64) (rho, p float64, err error) {
	n := len(x)
	if n != len(y) {
		return 0, 0, fmt.Errorf("sample lengths differ: %d vs %d", n, len(y))
	}
	if n < 3 {
		return 0, 0, fmt.Errorf("need at least 3 paired values, have %d", n)
	}

	rho = pearson(ranks(x), ranks(y))
	if math.IsNaN(rho) {
		return 0, 0, fmt.Errorf("correlation undefined for constant input")
	}

	if math.Abs(rho) >= 1 {
		return rho, 0, nil
	}
	df := float64(n - 2)
	t := rho * math.Sqrt(df/(1-rho*rho))
	p = 2 * studentTSurvival(math.Abs(t), df)
	return rho, p, nil
}

// ranks assigns 1-based ranks, averaging over ties.
func ranks(values []float64) []float64 {
	n := len(values)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return values[idx[a]] < values[idx[b]] })

	out := make([]float64, n)
	for i := 0; i < n; {
		j := i
		for j+1 < n && values[idx[j+1]] == values[idx[i]] {
			j++
		}
		avg := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			out[idx[k]] = avg
		}
		i = j + 1
	}
	return out
}

func pearson(x, y []float64) float64 {
	n := float64(len(x))
	var sx, sy float64
	for i := range x {
		sx += x[i]
		sy += y[i]
	}
	mx, my := sx/n, sy/n

	var cov, vx, vy float64
	for i := range x {
		dx, dy := x[i]-mx, y[i]-my
		cov += dx * dy
		vx += dx * dx
		vy += dy * dy
	}
	return cov / math.Sqrt(vx*vy)
}

// studentTSurvival is P(T > t) for the t distribution, via the regularized
// incomplete beta function.
func studentTSurvival(t, df float64) float64 {
	x := df / (df + t*t)
	return 0.5 * regularizedIncompleteBeta(df/2, 0.5, x)
}

// regularizedIncompleteBeta evaluates I_x(a, b) with the continued fraction
// from Numerical Recipes.
func regularizedIncompleteBeta(a, b, x float64) float64 {
	if x <= 0 {
		return 0
	}
	if x >= 1 {
		return 1
	}
	ln := math.Log
	front := math.Exp(lgamma(a+b) - lgamma(a) - lgamma(b) + a*ln(x) + b*ln(1-x))
	if x < (a+1)/(a+b+2) {
		return front * betaContinuedFraction(a, b, x) / a
	}
	return 1 - front*betaContinuedFraction(b, a, 1-x)/b
}

func betaContinuedFraction(a, b, x float64) float64 {
	const (
		maxIterations = 200
		epsilon       = 3e-14
		tiny          = 1e-30
	)

	qab, qap, qam := a+b, a+1, a-1
	c := 1.0
	d := 1 - qab*x/qap
	if math.Abs(d) < tiny {
		d = tiny
	}
	d = 1 / d
	h := d

	for m := 1; m <= maxIterations; m++ {
		fm := float64(m)
		aa := fm * (b - fm) * x / ((qam + 2*fm) * (a + 2*fm))
		d = 1 + aa*d
		if math.Abs(d) < tiny {
			d = tiny
		}
		c = 1 + aa/c
		if math.Abs(c) < tiny {
			c = tiny
		}
		d = 1 / d
		h *= d * c

		aa = -(a + fm) * (qab + fm) * x / ((a + 2*fm) * (qap + 2*fm))
		d = 1 + aa*d
		if math.Abs(d) < tiny {
			d = tiny
		}
		c = 1 + aa/c
		if math.Abs(c) < tiny {
			c = tiny
		}
		d = 1 / d
		delta := d * c
		h *= delta
		if math.Abs(delta-1) < epsilon {
			break
		}
	}
	return h
}

func lgamma(x float64) float64 {
	v, _ := math.Lgamma(x)
	return v
}
