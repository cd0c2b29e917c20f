package tree

import (
	"math"
	"sort"
)

// node is a binary regression tree node. Leaves have a nil left child.
type node struct {
	feature   int
	threshold float64
	value     float64
	left      *node
	right     *node
}

func (n *node) predict(row []float64) float64 {
	for n.left != nil {
		if row[n.feature] <= n.threshold {
			n = n.left
		} else {
			n = n.right
		}
	}
	return n.value
}

type split struct {
	feature   int
	threshold float64
	gain      float64
	left      []int
	right     []int
}

// treeBuilder grows a tree on the columns of a design matrix fitting g with squared error
type treeBuilder struct {
	cols     [][]float64
	g        []float64
	maxDepth int
	minLeaf  int
	leaf     func(idx []int) float64
	gains    []float64
}

func (b *treeBuilder) build(idx []int, depth int) *node {
	if depth >= b.maxDepth || len(idx) < 2*b.minLeaf {
		return &node{value: b.leaf(idx)}
	}
	best, ok := b.bestSplit(idx)
	if !ok {
		return &node{value: b.leaf(idx)}
	}
	if b.gains != nil {
		b.gains[best.feature] += best.gain
	}
	return &node{
		feature:   best.feature,
		threshold: best.threshold,
		left:      b.build(best.left, depth+1),
		right:     b.build(best.right, depth+1),
	}
}

// bestSplit scans every feature for the threshold with the largest reduction in squared error
// that leaves at least minLeaf observations on each side
func (b *treeBuilder) bestSplit(idx []int) (split, bool) {
	n := len(idx)
	var total float64
	for _, i := range idx {
		total += b.g[i]
	}

	best := split{gain: 1e-12}
	found := false
	order := make([]int, n)
	for f, col := range b.cols {
		copy(order, idx)
		sort.Slice(order, func(a, c int) bool { return col[order[a]] < col[order[c]] })

		var leftSum float64
		for k := 0; k < n-1; k++ {
			leftSum += b.g[order[k]]
			nl := k + 1
			nr := n - nl
			if nl < b.minLeaf || nr < b.minLeaf {
				continue
			}
			lo, hi := col[order[k]], col[order[k+1]]
			if lo == hi {
				continue
			}
			rightSum := total - leftSum
			gain := leftSum*leftSum/float64(nl) + rightSum*rightSum/float64(nr) - total*total/float64(n)
			if gain > best.gain {
				best.gain = gain
				best.feature = f
				best.threshold = lo + (hi-lo)/2
				found = true
			}
		}
	}
	if !found {
		return best, false
	}

	col := b.cols[best.feature]
	for _, i := range idx {
		if col[i] <= best.threshold {
			best.left = append(best.left, i)
		} else {
			best.right = append(best.right, i)
		}
	}
	if len(best.left) == 0 || len(best.right) == 0 || math.IsNaN(best.threshold) {
		return best, false
	}
	return best, true
}
