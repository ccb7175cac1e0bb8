package native

import (
	"fmt"
	"math"
	"math/bits"

	"golang.org/x/sync/errgroup"

	"frame-mosaic/internal/vision"
)

type neighbours struct {
	best, second         int
	bestDist, secondDist float64
}

// MatchRatioTest implements vision.Matcher with exhaustive nearest and
// second-nearest search per query row.
func (b *Backend) MatchRatioTest(query, train vision.Descriptors, ratio float64) ([]vision.Match, error) {
	dist, err := distanceFunc(query, train)
	if err != nil || dist == nil {
		return nil, err
	}
	nn := b.nearest(query.Len(), train.Len(), dist)

	var out []vision.Match
	for q, n := range nn {
		// A ratio test needs a runner-up to compare against.
		if n.best < 0 || n.second < 0 {
			continue
		}
		if n.bestDist < ratio*n.secondDist {
			out = append(out, vision.Match{Query: q, Train: n.best, Distance: n.bestDist})
		}
	}
	return out, nil
}

// MatchMutualNearest implements vision.Matcher with a cross check: a pair
// survives only if each side is the other's nearest neighbour.
func (b *Backend) MatchMutualNearest(query, train vision.Descriptors) ([]vision.Match, error) {
	dist, err := distanceFunc(query, train)
	if err != nil || dist == nil {
		return nil, err
	}
	forward := b.nearest(query.Len(), train.Len(), dist)
	backward := b.nearest(train.Len(), query.Len(), func(i, j int) float64 { return dist(j, i) })

	var out []vision.Match
	for q, n := range forward {
		if n.best < 0 {
			continue
		}
		if backward[n.best].best == q {
			out = append(out, vision.Match{Query: q, Train: n.best, Distance: n.bestDist})
		}
	}
	return out, nil
}

// nearest finds the two closest train rows for every query row. Ties keep
// the lower train index. Query rows are split across workers; results are
// written by index so the output does not depend on scheduling.
func (b *Backend) nearest(nq, nt int, dist func(q, t int) float64) []neighbours {
	out := make([]neighbours, nq)
	var g errgroup.Group
	g.SetLimit(b.workers)

	chunk := (nq + b.workers - 1) / b.workers
	if chunk == 0 {
		chunk = 1
	}
	for start := 0; start < nq; start += chunk {
		start, end := start, min(start+chunk, nq)
		g.Go(func() error {
			for q := start; q < end; q++ {
				n := neighbours{best: -1, second: -1, bestDist: math.Inf(1), secondDist: math.Inf(1)}
				for t := 0; t < nt; t++ {
					d := dist(q, t)
					switch {
					case d < n.bestDist:
						n.second, n.secondDist = n.best, n.bestDist
						n.best, n.bestDist = t, d
					case d < n.secondDist:
						n.second, n.secondDist = t, d
					}
				}
				out[q] = n
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// distanceFunc picks L2 for float descriptors and Hamming for binary ones.
// A nil function with a nil error means one side is empty.
func distanceFunc(query, train vision.Descriptors) (func(q, t int) float64, error) {
	if query.Len() == 0 || train.Len() == 0 {
		return nil, nil
	}
	switch {
	case query.Float != nil && train.Float != nil:
		return func(q, t int) float64 { return l2(query.Float[q], train.Float[t]) }, nil
	case query.Binary != nil && train.Binary != nil:
		return func(q, t int) float64 { return float64(hamming(query.Binary[q], train.Binary[t])) }, nil
	default:
		return nil, fmt.Errorf("native: cannot match float descriptors against binary ones")
	}
}

func l2(a, b []float32) float64 {
	var s float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		s += d * d
	}
	return math.Sqrt(s)
}

func hamming(a, b []byte) int {
	n := 0
	for i := range a {
		n += bits.OnesCount8(a[i] ^ b[i])
	}
	return n
}
