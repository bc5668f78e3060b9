package influence

import (
	"context"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"

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

// Two separable classes plus a handful of mislabeled samples: the
// mislabeled ones carry the biggest loss gradients, so their influence
// magnitudes should dominate the tail.
func separableWithFlips(n, flips int) ([][]float64, []int) {
	rng := rand.New(rand.NewSource(17))
	rows := make([][]float64, 0, n)
	labels := make([]int, 0, n)
	half := (n - flips) / 2
	for i := 0; i < half; i++ {
		rows = append(rows, []float64{2 + rng.NormFloat64()*0.3, 2 + rng.NormFloat64()*0.3})
		labels = append(labels, 0)
	}
	for i := 0; i < half; i++ {
		rows = append(rows, []float64{-2 + rng.NormFloat64()*0.3, -2 + rng.NormFloat64()*0.3})
		labels = append(labels, 1)
	}
	for i := 0; i < flips; i++ {
		// class-0 features, class-1 label
		rows = append(rows, []float64{2 + rng.NormFloat64()*0.3, 2 + rng.NormFloat64()*0.3})
		labels = append(labels, 1)
	}
	return rows, labels
}

func TestDetectConvergesAndReportsIt(t *testing.T) {
	rows, labels := separableWithFlips(100, 4)

	// Separable classes leave almost no proxy-loss curvature, so the
	// recursion contracts at roughly the damping rate per iteration.
	d := New(0.5, 200, 1e-4, 32, 3.5, 42, nil)
	res, err := d.Detect(context.Background(), buildInput(t, rows, labels, []string{"a", "b"}))
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	conv, ok := res.Details["converged"].(bool)
	if !ok || !conv {
		t.Fatalf("details = %v, want converged=true", res.Details)
	}
	for _, s := range res.Scores {
		if s < 0 || s > 1 {
			t.Fatalf("score %g outside [0,1]", s)
		}
	}
}

func TestDetectDeterministic(t *testing.T) {
	rows, labels := separableWithFlips(80, 3)

	d := New(0.5, 200, 1e-4, 32, 3.5, 42, nil)
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

func TestDetectTooFewSamples(t *testing.T) {
	rows := [][]float64{{1, 1}}
	labels := []int{0}

	d := New(0.01, 50, 1e-4, 32, 3.5, 42, nil)
	res, err := d.Detect(context.Background(), buildInput(t, rows, labels, []string{"a"}))
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(res.Diagnostics) == 0 {
		t.Fatal("want insufficient_samples diagnostic")
	}
	if len(res.SuspiciousIndices) != 0 {
		t.Fatal("no sample should be flagged with one input row")
	}
}

func TestMedianMAD(t *testing.T) {
	med, mad := medianMAD([]float64{1, 2, 3, 4, 100})
	if med != 3 {
		t.Fatalf("median = %g, want 3", med)
	}
	if mad != 1 {
		t.Fatalf("mad = %g, want 1", mad)
	}
}
