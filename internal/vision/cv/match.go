package cv

import (
	"fmt"

	"gocv.io/x/gocv"

	"frame-mosaic/internal/vision"
)

// MatchRatioTest implements vision.Matcher with a FLANN k=2 search.
func (b *Backend) MatchRatioTest(query, train vision.Descriptors, ratio float64) ([]vision.Match, error) {
	if query.Len() == 0 || train.Len() == 0 {
		return nil, nil
	}
	if query.Float == nil || train.Float == nil {
		return nil, fmt.Errorf("cv: ratio test needs float descriptors")
	}
	q, t, err := matPair(query, train)
	if err != nil {
		return nil, err
	}
	defer q.Close()
	defer t.Close()

	flann := gocv.NewFlannBasedMatcher()
	defer flann.Close()

	var out []vision.Match
	for _, knn := range flann.KnnMatch(q, t, 2) {
		if len(knn) < 2 {
			continue
		}
		if knn[0].Distance < ratio*knn[1].Distance {
			out = append(out, vision.Match{Query: knn[0].QueryIdx, Train: knn[0].TrainIdx, Distance: knn[0].Distance})
		}
	}
	return out, nil
}

// MatchMutualNearest implements vision.Matcher with a cross-checking
// Hamming brute-force matcher.
func (b *Backend) MatchMutualNearest(query, train vision.Descriptors) ([]vision.Match, error) {
	if query.Len() == 0 || train.Len() == 0 {
		return nil, nil
	}
	if query.Binary == nil || train.Binary == nil {
		return nil, fmt.Errorf("cv: mutual matching needs binary descriptors")
	}
	q, t, err := matPair(query, train)
	if err != nil {
		return nil, err
	}
	defer q.Close()
	defer t.Close()

	bf := gocv.NewBFMatcherWithParams(gocv.NormHamming, true)
	defer bf.Close()

	// Cross-checking limits knnMatch to k=1; queries without a mutual
	// partner come back empty.
	var out []vision.Match
	for _, knn := range bf.KnnMatch(q, t, 1) {
		if len(knn) == 0 {
			continue
		}
		out = append(out, vision.Match{Query: knn[0].QueryIdx, Train: knn[0].TrainIdx, Distance: knn[0].Distance})
	}
	return out, nil
}

func matPair(query, train vision.Descriptors) (gocv.Mat, gocv.Mat, error) {
	q, err := descriptorsToMat(query)
	if err != nil {
		return gocv.NewMat(), gocv.NewMat(), fmt.Errorf("cv: query descriptors: %w", err)
	}
	t, err := descriptorsToMat(train)
	if err != nil {
		q.Close()
		return gocv.NewMat(), gocv.NewMat(), fmt.Errorf("cv: train descriptors: %w", err)
	}
	return q, t, nil
}
