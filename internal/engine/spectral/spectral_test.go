package spectral

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/bryanwahyu/blackforge/internal/domain/analysis"
	"github.com/bryanwahyu/blackforge/internal/engine/embedding"
)

func buildInput(t *testing.T, rows [][]float64, labels []int, classNames []string) *embedding.Result {
	t.Helper()
	n := len(rows)
	m := mat.NewDense(n, len(rows[0]), nil)
	for i, r := range rows {
		m.SetRow(i, r)
	}
	index := make([]int, n)
	for i := range index {
		index[i] = i
	}
	return &embedding.Result{
		Embeddings:  m,
		Labels:      labels,
		Index:       index,
		SampleCount: n,
		ClassNames:  classNames,
	}
}

func TestDetectFlagsSpectralOutlier(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	var rows [][]float64
	var labels []int
	for i := 0; i < 39; i++ {
		rows = append(rows, []float64{rng.NormFloat64() * 0.3, rng.NormFloat64() * 0.3, rng.NormFloat64() * 0.3})
		labels = append(labels, 0)
	}
	// One sample far along every axis.
	rows = append(rows, []float64{10, 10, 10})
	labels = append(labels, 0)

	d := New(2, 2.0, 2, nil)
	res, err := d.Detect(context.Background(), buildInput(t, rows, labels, []string{"a"}))
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(res.SuspiciousIndices) == 0 {
		t.Fatal("planted outlier not flagged")
	}
	found := false
	for _, idx := range res.SuspiciousIndices {
		if idx == 39 {
			found = true
		}
		if idx < 0 || idx >= 40 {
			t.Fatalf("suspicious index %d out of range", idx)
		}
	}
	if !found {
		t.Fatalf("index 39 missing from suspicious set %v", res.SuspiciousIndices)
	}
	if res.Scores[39] <= res.Scores[0] {
		t.Fatalf("outlier score %g not above clean score %g", res.Scores[39], res.Scores[0])
	}
	for _, s := range res.Scores {
		if s < 0 || s > 1 {
			t.Fatalf("score %g outside [0,1]", s)
		}
	}
}

func TestDetectSkipsTinyClass(t *testing.T) {
	rows := [][]float64{
		{0, 0}, {0.1, 0}, {0, 0.1}, {0.1, 0.1},
		{5, 5}, // lone sample of class b
	}
	labels := []int{0, 0, 0, 0, 1}

	d := New(2, 2.0, 2, nil)
	res, err := d.Detect(context.Background(), buildInput(t, rows, labels, []string{"a", "b"}))
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	var diag *analysis.Diagnostic
	for i := range res.Diagnostics {
		if res.Diagnostics[i].Code == analysis.DiagInsufficientSamples {
			diag = &res.Diagnostics[i]
		}
	}
	if diag == nil {
		t.Fatal("want insufficient_samples diagnostic for one-sample class")
	}
	if res.Scores[4] != 0 {
		t.Fatalf("skipped class sample should score 0, got %g", res.Scores[4])
	}
}

// Raising the threshold multiplier k never flags more samples.
func TestDetectFlagCountMonotoneInK(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	var rows [][]float64
	var labels []int
	for i := 0; i < 60; i++ {
		rows = append(rows, []float64{rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64()})
		labels = append(labels, i%2)
	}
	// A handful of extreme samples so the smaller thresholds flag something.
	for i := 0; i < 4; i++ {
		rows = append(rows, []float64{8 + float64(i), 8, 8})
		labels = append(labels, i%2)
	}

	prev := math.MaxInt
	for _, k := range []float64{0.5, 1.0, 1.5, 2.0, 2.5, 3.0, 4.0} {
		d := New(2, k, 2, nil)
		res, err := d.Detect(context.Background(), buildInput(t, rows, labels, []string{"a", "b"}))
		if err != nil {
			t.Fatalf("detect k=%g: %v", k, err)
		}
		got := len(res.SuspiciousIndices)
		if got > prev {
			t.Fatalf("k=%g flagged %d samples, more than %d at the previous smaller k", k, got, prev)
		}
		prev = got
	}
}

func TestDetectDeterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	var rows [][]float64
	var labels []int
	for i := 0; i < 30; i++ {
		rows = append(rows, []float64{rng.NormFloat64(), rng.NormFloat64()})
		labels = append(labels, i%2)
	}

	d := New(2, 2.0, 2, nil)
	a, err := d.Detect(context.Background(), buildInput(t, rows, labels, []string{"a", "b"}))
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	b, err := d.Detect(context.Background(), buildInput(t, rows, labels, []string{"a", "b"}))
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	for i := range a.Scores {
		if a.Scores[i] != b.Scores[i] {
			t.Fatalf("score %d differs between identical runs", i)
		}
	}
}
