package models

import (
	"math"
	"sort"
)

type knn struct {
	spec Spec
}

func (k *knn) Spec() Spec {
	return k.spec
}

// neighbors is Neighbors when set, otherwise the lag depth, capped at half the training rows
func (k *knn) neighbors(nrows int) int {
	n := k.spec.Neighbors
	if n == 0 {
		n = k.spec.Lags
	}
	if limit := nrows / 2; n > limit {
		n = limit
	}
	return max(n, 1)
}

func (k *knn) Fit(y []float64, x [][]float64) (Fitted, error) {
	ncols, err := checkInputs(y, x)
	if err != nil {
		return nil, err
	}
	rows, target, err := reduce(y, x, k.spec.Lags)
	if err != nil {
		return nil, err
	}
	f := &fittedKNN{
		rows:   rows,
		target: target,
		k:      k.neighbors(len(rows)),
	}
	return &fittedRegressor{
		history: y,
		lags:    k.spec.Lags,
		ncols:   ncols,
		predict: f.predict,
	}, nil
}

type fittedKNN struct {
	rows   [][]float64
	target []float64
	k      int
}

// predict averages the targets of the k rows closest in euclidean distance. Ties keep the
// earlier row.
func (f *fittedKNN) predict(row []float64) (float64, error) {
	type neighbor struct {
		idx  int
		dist float64
	}
	ns := make([]neighbor, len(f.rows))
	for i, r := range f.rows {
		var d float64
		for j, v := range r {
			diff := v - row[j]
			d += diff * diff
		}
		ns[i] = neighbor{idx: i, dist: math.Sqrt(d)}
	}
	sort.SliceStable(ns, func(a, b int) bool { return ns[a].dist < ns[b].dist })

	var sum float64
	for _, n := range ns[:f.k] {
		sum += f.target[n.idx]
	}
	return sum / float64(f.k), nil
}
