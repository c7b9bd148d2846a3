package diarize

import "math"

// cosineSim computes cosine similarity between two vectors.
func cosineSim(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func cosineDist(a, b []float32) float64 {
	return 1 - cosineSim(a, b)
}

// centroid returns the mean of the given vectors.
func centroid(vectors [][]float32) []float32 {
	if len(vectors) == 0 {
		return nil
	}
	out := make([]float32, len(vectors[0]))
	for _, v := range vectors {
		for i := range v {
			out[i] += v[i]
		}
	}
	n := float32(len(vectors))
	for i := range out {
		out[i] /= n
	}
	return out
}

// agglomerative clusters vectors to k groups using average-linkage cosine
// distance. Returns a label per vector in [0, k).
func agglomerative(vectors [][]float32, k int) []int {
	n := len(vectors)
	if n == 0 {
		return nil
	}
	if k >= n {
		labels := make([]int, n)
		for i := range labels {
			labels[i] = i
		}
		return labels
	}

	// Each point starts as its own cluster.
	clusters := make([][]int, n)
	for i := range clusters {
		clusters[i] = []int{i}
	}

	linkage := func(a, b []int) float64 {
		var sum float64
		for _, i := range a {
			for _, j := range b {
				sum += cosineDist(vectors[i], vectors[j])
			}
		}
		return sum / float64(len(a)*len(b))
	}

	for len(clusters) > k {
		bi, bj, best := 0, 1, math.Inf(1)
		for i := 0; i < len(clusters); i++ {
			for j := i + 1; j < len(clusters); j++ {
				if d := linkage(clusters[i], clusters[j]); d < best {
					best, bi, bj = d, i, j
				}
			}
		}
		clusters[bi] = append(clusters[bi], clusters[bj]...)
		clusters = append(clusters[:bj], clusters[bj+1:]...)
	}

	labels := make([]int, n)
	for c, members := range clusters {
		for _, i := range members {
			labels[i] = c
		}
	}
	return labels
}

// silhouette returns the mean silhouette coefficient for a labeling,
// using cosine distance. Values near 1 indicate well-separated clusters;
// values near 0 indicate the split is arbitrary.
func silhouette(vectors [][]float32, labels []int) float64 {
	n := len(vectors)
	if n < 2 {
		return 0
	}

	counts := map[int]int{}
	for _, l := range labels {
		counts[l]++
	}
	if len(counts) < 2 {
		return 0
	}

	var total float64
	var scored int
	for i := 0; i < n; i++ {
		if counts[labels[i]] < 2 {
			continue
		}
		// a: mean distance within own cluster; b: min mean distance to
		// any other cluster.
		sums := map[int]float64{}
		for j := 0; j < n; j++ {
			if j == i {
				continue
			}
			sums[labels[j]] += cosineDist(vectors[i], vectors[j])
		}
		a := sums[labels[i]] / float64(counts[labels[i]]-1)
		b := math.Inf(1)
		for l, s := range sums {
			if l == labels[i] {
				continue
			}
			if m := s / float64(counts[l]); m < b {
				b = m
			}
		}
		if d := math.Max(a, b); d > 0 {
			total += (b - a) / d
		}
		scored++
	}
	if scored == 0 {
		return 0
	}
	return total / float64(scored)
}

// kmeans clusters low-dimensional feature points into k groups. Seeds are
// spread across the value range for determinism.
func kmeans(points [][]float32, k, iters int) []int {
	n := len(points)
	if n == 0 || k < 1 {
		return nil
	}
	if k > n {
		k = n
	}
	dim := len(points[0])

	// Seed centers on the range of the first feature.
	lo, hi := points[0][0], points[0][0]
	for _, p := range points {
		if p[0] < lo {
			lo = p[0]
		}
		if p[0] > hi {
			hi = p[0]
		}
	}
	centers := make([][]float32, k)
	for c := range centers {
		centers[c] = make([]float32, dim)
		frac := float32(0.5)
		if k > 1 {
			frac = float32(c) / float32(k-1)
		}
		centers[c][0] = lo + (hi-lo)*frac
		for d := 1; d < dim; d++ {
			centers[c][d] = points[n*c/k][d]
		}
	}

	labels := make([]int, n)
	for iter := 0; iter < iters; iter++ {
		changed := false
		for i, p := range points {
			best, bd := 0, math.Inf(1)
			for c, ctr := range centers {
				var d float64
				for j := range p {
					diff := float64(p[j] - ctr[j])
					d += diff * diff
				}
				if d < bd {
					bd, best = d, c
				}
			}
			if labels[i] != best {
				labels[i] = best
				changed = true
			}
		}
		for c := range centers {
			var members [][]float32
			for i, l := range labels {
				if l == c {
					members = append(members, points[i])
				}
			}
			if m := centroid(members); m != nil {
				centers[c] = m
			}
		}
		if !changed && iter > 0 {
			break
		}
	}
	return labels
}

// euclidSilhouette is the silhouette score with euclidean distance, used
// for the low-dimensional pitch features.
func euclidSilhouette(points [][]float32, labels []int) float64 {
	vectors := points
	// Reuse the cosine silhouette shape with a euclidean metric by
	// inlining the computation.
	n := len(vectors)
	if n < 2 {
		return 0
	}
	counts := map[int]int{}
	for _, l := range labels {
		counts[l]++
	}
	if len(counts) < 2 {
		return 0
	}
	dist := func(a, b []float32) float64 {
		var d float64
		for i := range a {
			diff := float64(a[i] - b[i])
			d += diff * diff
		}
		return math.Sqrt(d)
	}
	var total float64
	var scored int
	for i := 0; i < n; i++ {
		if counts[labels[i]] < 2 {
			continue
		}
		sums := map[int]float64{}
		for j := 0; j < n; j++ {
			if j == i {
				continue
			}
			sums[labels[j]] += dist(vectors[i], vectors[j])
		}
		a := sums[labels[i]] / float64(counts[labels[i]]-1)
		b := math.Inf(1)
		for l, s := range sums {
			if l == labels[i] {
				continue
			}
			if m := s / float64(counts[l]); m < b {
				b = m
			}
		}
		if d := math.Max(a, b); d > 0 {
			total += (b - a) / d
		}
		scored++
	}
	if scored == 0 {
		return 0
	}
	return total / float64(scored)
}
