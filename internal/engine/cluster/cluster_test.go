package cluster

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

// A small dense blob far from the class mass is the clustering
// detector's bread and butter.
func TestDetectFlagsMinorityCluster(t *testing.T) {
	var rows [][]float64
	var labels []int
	// Even-density main mass; no stray tail points.
	for i := 0; i < 50; i++ {
		rows = append(rows, []float64{0.1 * float64(i%10), 0.1 * float64(i/10)})
		labels = append(labels, 0)
	}
	for i := 0; i < 5; i++ {
		rows = append(rows, []float64{5 + 0.05*float64(i), 5})
		labels = append(labels, 0)
	}

	d := New(0.15, 2.0, 5, 42, nil)
	res, err := d.Detect(context.Background(), buildInput(t, rows, labels, []string{"a"}))
	if err != nil {
		t.Fatalf("detect: %v", err)
	}

	flagged := map[int]bool{}
	for _, idx := range res.SuspiciousIndices {
		flagged[idx] = true
	}
	for i := 50; i < 55; i++ {
		if !flagged[i] {
			t.Fatalf("minority blob member %d not flagged (flagged: %v)", i, res.SuspiciousIndices)
		}
		if res.Scores[i] < 0.85 {
			t.Fatalf("flagged sample %d scored %g, want >= 0.85", i, res.Scores[i])
		}
	}
	for i := 0; i < 50; i++ {
		if flagged[i] {
			t.Fatalf("clean sample %d flagged", i)
		}
	}
}

func TestDetectDeterministicAcrossRuns(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	var rows [][]float64
	var labels []int
	for i := 0; i < 60; i++ {
		rows = append(rows, []float64{rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64()})
		labels = append(labels, i%2)
	}

	d := New(0.15, 2.0, 5, 42, nil)
	a, err := d.Detect(context.Background(), buildInput(t, rows, labels, []string{"x", "y"}))
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	b, err := d.Detect(context.Background(), buildInput(t, rows, labels, []string{"x", "y"}))
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(a.SuspiciousIndices) != len(b.SuspiciousIndices) {
		t.Fatalf("flag count differs between identical runs: %d vs %d", len(a.SuspiciousIndices), len(b.SuspiciousIndices))
	}
	for i := range a.Scores {
		if a.Scores[i] != b.Scores[i] {
			t.Fatalf("score %d differs between identical runs", i)
		}
	}
}

func TestDetectSkipsTinyClass(t *testing.T) {
	rows := [][]float64{{0, 0}, {0.1, 0.1}, {0.2, 0}, {9, 9}}
	labels := []int{0, 0, 0, 1}

	d := New(0.15, 2.0, 5, 42, nil)
	res, err := d.Detect(context.Background(), buildInput(t, rows, labels, []string{"a", "b"}))
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(res.Diagnostics) == 0 {
		t.Fatal("want diagnostic for one-sample class")
	}
	if res.Scores[3] != 0 {
		t.Fatalf("skipped class sample should score 0, got %g", res.Scores[3])
	}
}

func TestKMeansRelabelsByFirstAppearance(t *testing.T) {
	points := [][]float64{{10, 10}, {10.1, 10}, {0, 0}, {0.1, 0}}
	assign, _ := kmeans(points, 2, 42, 100)
	if assign[0] != 0 {
		t.Fatalf("first point must land in cluster 0, got %d", assign[0])
	}
	if assign[0] != assign[1] || assign[2] != assign[3] || assign[0] == assign[2] {
		t.Fatalf("unexpected assignment %v for two obvious blobs", assign)
	}
}

func TestDBSCANMarksIsolatedPointNoise(t *testing.T) {
	var points [][]float64
	for i := 0; i < 30; i++ {
		points = append(points, []float64{0.1 * float64(i%6), 0.1 * float64(i/6)})
	}
	points = append(points, []float64{50, 50})

	labels := dbscan(points, 2.0, 5)
	if labels[30] != noise {
		t.Fatalf("isolated point labeled %d, want noise", labels[30])
	}
	for i := 0; i < 30; i++ {
		if labels[i] == noise {
			t.Fatalf("dense-blob point %d labeled noise", i)
		}
	}
}
