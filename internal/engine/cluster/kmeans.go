package cluster

import (
	"math"
	"math/rand"
)

// kmeans partitions points into k clusters with a seeded k-means++ init.
// Identical inputs and seed produce identical assignments; equidistant
// points break ties toward the lower cluster id, and cluster ids are
// relabeled so the cluster owning the lowest point index is 0.
func kmeans(points [][]float64, k int, seed int64, maxIter int) (assign []int, centers [][]float64) {
	n := len(points)
	if n == 0 || k <= 0 {
		return nil, nil
	}
	if k > n {
		k = n
	}
	dims := len(points[0])
	rng := rand.New(rand.NewSource(seed))

	centers = plusPlusInit(points, k, rng)
	assign = make([]int, n)

	for iter := 0; iter < maxIter; iter++ {
		changed := false
		for i, p := range points {
			best := 0
			bestDist := math.Inf(1)
			for c, center := range centers {
				d := sqDist(p, center)
				if d < bestDist {
					bestDist = d
					best = c
				}
			}
			if assign[i] != best {
				assign[i] = best
				changed = true
			}
		}

		counts := make([]int, k)
		sums := make([][]float64, k)
		for c := range sums {
			sums[c] = make([]float64, dims)
		}
		for i, p := range points {
			c := assign[i]
			counts[c]++
			for j, v := range p {
				sums[c][j] += v
			}
		}
		for c := 0; c < k; c++ {
			if counts[c] == 0 {
				// Re-seed an empty cluster with the point farthest from
				// its current center; lowest index wins ties.
				far, farDist := 0, -1.0
				for i, p := range points {
					d := sqDist(p, centers[assign[i]])
					if d > farDist {
						farDist = d
						far = i
					}
				}
				copy(sums[c], points[far])
				counts[c] = 1
				assign[far] = c
				changed = true
			}
			for j := range sums[c] {
				centers[c][j] = sums[c][j] / float64(counts[c])
			}
		}
		if !changed {
			break
		}
	}

	relabel(assign, k)
	return assign, centers
}

// plusPlusInit seeds k centers with the k-means++ scheme.
func plusPlusInit(points [][]float64, k int, rng *rand.Rand) [][]float64 {
	n := len(points)
	centers := make([][]float64, 0, k)
	first := rng.Intn(n)
	centers = append(centers, append([]float64(nil), points[first]...))

	dist := make([]float64, n)
	for len(centers) < k {
		var total float64
		for i, p := range points {
			d := math.Inf(1)
			for _, c := range centers {
				if s := sqDist(p, c); s < d {
					d = s
				}
			}
			dist[i] = d
			total += d
		}
		next := 0
		if total > 0 {
			target := rng.Float64() * total
			var acc float64
			for i, d := range dist {
				acc += d
				if acc >= target {
					next = i
					break
				}
			}
		}
		centers = append(centers, append([]float64(nil), points[next]...))
	}
	return centers
}

// relabel renumbers clusters in order of first appearance by point index.
func relabel(assign []int, k int) {
	mapping := make([]int, k)
	for i := range mapping {
		mapping[i] = -1
	}
	next := 0
	for _, a := range assign {
		if mapping[a] == -1 {
			mapping[a] = next
			next++
		}
	}
	for i, a := range assign {
		assign[i] = mapping[a]
	}
}

func sqDist(a, b []float64) float64 {
	var s float64
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return s
}

func dist(a, b []float64) float64 { return math.Sqrt(sqDist(a, b)) }
