// Package ensemble enumerates fixed combinations of base models, backtests them and selects
// the combination with the lowest total error
package ensemble

import (
	"fmt"
	"strings"

	"github.com/aouyang1/go-ensembler/failure"
	"github.com/aouyang1/go-ensembler/models"
)

const (
	DefaultMinMembers = 2
	DefaultMaxMembers = 4
)

var (
	ErrInvalidSize     = failure.New(failure.ErrValidation, "invalid ensemble size bounds")
	ErrDuplicateModel  = failure.New(failure.ErrValidation, "duplicate base model name")
	ErrNoCandidates    = failure.New(failure.ErrValidation, "no ensemble candidates")
	ErrReservedModelID = failure.New(failure.ErrValidation, "model name is reserved")
)

// Candidate is a named set of base models whose predictions are averaged
type Candidate struct {
	Name    string
	Members []models.Spec
}

// Name joins member ids in declaration order
func Name(members []models.Spec) string {
	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = m.ID()
	}
	return strings.Join(ids, "+")
}

// Candidates enumerates every combination of minSize to maxSize base models. Smaller
// combinations come first and combinations of the same size follow declaration order.
func Candidates(base []models.Spec, minSize, maxSize int) ([]Candidate, error) {
	if minSize <= 0 || maxSize < minSize {
		return nil, fmt.Errorf("min %d max %d, %w", minSize, maxSize, ErrInvalidSize)
	}
	seen := make(map[string]struct{}, len(base))
	for _, m := range base {
		if strings.Contains(m.ID(), "+") {
			return nil, fmt.Errorf("%q, %w", m.ID(), ErrReservedModelID)
		}
		if _, exists := seen[m.ID()]; exists {
			return nil, fmt.Errorf("%q, %w", m.ID(), ErrDuplicateModel)
		}
		seen[m.ID()] = struct{}{}
	}

	var out []Candidate
	for size := minSize; size <= min(maxSize, len(base)); size++ {
		combinations(len(base), size, func(idx []int) {
			members := make([]models.Spec, len(idx))
			for i, j := range idx {
				members[i] = base[j]
			}
			out = append(out, Candidate{Name: Name(members), Members: members})
		})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%d base models for sizes %d to %d, %w", len(base), minSize, maxSize, ErrNoCandidates)
	}
	return out, nil
}

// combinations calls fn with every k-subset of [0, n) in lexicographic order
func combinations(n, k int, fn func(idx []int)) {
	idx := make([]int, k)
	for i := range idx {
		idx[i] = i
	}
	for {
		fn(idx)
		i := k - 1
		for i >= 0 && idx[i] == n-k+i {
			i--
		}
		if i < 0 {
			return
		}
		idx[i]++
		for j := i + 1; j < k; j++ {
			idx[j] = idx[j-1] + 1
		}
	}
}
