package cluster

import "sort"

const noise = -1

// dbscan runs density-based clustering with an adaptive radius: eps is
// epsFactor times the median distance to the minPts-th nearest neighbor.
// Points are expanded in ascending index order, so the labeling is
// deterministic. Unassigned points are labeled noise (-1).
func dbscan(points [][]float64, epsFactor float64, minPts int) []int {
	n := len(points)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = noise
	}
	if n == 0 || minPts < 1 {
		return labels
	}

	eps := epsFactor * medianKthDist(points, minPts)
	if eps <= 0 {
		eps = 1e-8
	}

	neighborhoods := make([][]int, n)
	for i := range points {
		for j := range points {
			if dist(points[i], points[j]) <= eps {
				neighborhoods[i] = append(neighborhoods[i], j)
			}
		}
	}

	cluster := 0
	visited := make([]bool, n)
	for i := 0; i < n; i++ {
		if visited[i] {
			continue
		}
		visited[i] = true
		if len(neighborhoods[i]) < minPts {
			continue
		}
		labels[i] = cluster
		queue := append([]int(nil), neighborhoods[i]...)
		for qi := 0; qi < len(queue); qi++ {
			j := queue[qi]
			if labels[j] == noise {
				labels[j] = cluster
			}
			if visited[j] {
				continue
			}
			visited[j] = true
			if len(neighborhoods[j]) >= minPts {
				queue = append(queue, neighborhoods[j]...)
			}
		}
		cluster++
	}
	return labels
}

// medianKthDist computes the median distance to the k-th nearest
// neighbor across all points.
func medianKthDist(points [][]float64, k int) float64 {
	n := len(points)
	if n <= k {
		return 0
	}
	kdists := make([]float64, 0, n)
	buf := make([]float64, 0, n-1)
	for i := range points {
		buf = buf[:0]
		for j := range points {
			if i == j {
				continue
			}
			buf = append(buf, dist(points[i], points[j]))
		}
		sort.Float64s(buf)
		idx := k - 1
		if idx >= len(buf) {
			idx = len(buf) - 1
		}
		kdists = append(kdists, buf[idx])
	}
	sort.Float64s(kdists)
	mid := len(kdists) / 2
	if len(kdists)%2 == 0 {
		return (kdists[mid-1] + kdists[mid]) / 2
	}
	return kdists[mid]
}
