package embedding

import (
	"math"
	"math/rand"
	"sync"

	"gonum.org/v1/gonum/mat"
)

// Backbone is the frozen feature model used for image embeddings: a seeded
// Gaussian random-projection from pixel space to a fixed embedding
// dimension. Weights are built once, on first use, and never mutated.
// It is injected into the Extractor rather than accessed as a singleton.
type Backbone struct {
	inDims  int
	outDims int
	seed    int64

	once    sync.Once
	weights *mat.Dense
}

func NewBackbone(inDims, outDims int, seed int64) *Backbone {
	return &Backbone{inDims: inDims, outDims: outDims, seed: seed}
}

func (b *Backbone) Dims() int { return b.outDims }

func (b *Backbone) init() {
	rng := rand.New(rand.NewSource(b.seed))
	data := make([]float64, b.outDims*b.inDims)
	// 1/sqrt(inDims) scaling keeps output norms comparable across input sizes.
	scale := 1.0 / math.Sqrt(float64(b.inDims))
	for i := range data {
		data[i] = rng.NormFloat64() * scale
	}
	b.weights = mat.NewDense(b.outDims, b.inDims, data)
}

// Embed maps one normalized pixel vector to the embedding space.
// The same input always produces the same output.
func (b *Backbone) Embed(pixels []float64) []float64 {
	b.once.Do(b.init)

	in := mat.NewVecDense(len(pixels), pixels)
	out := mat.NewVecDense(b.outDims, nil)
	out.MulVec(b.weights, in)
	return out.RawVector().Data
}
