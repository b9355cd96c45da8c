// Package alloc splits a budget across weighted buckets using the largest
// remainder method. The planner uses it for study hours, the quiz builder
// for question counts.
package alloc

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

type Bucket struct {
	Key    string
	Weight float64
}

// NegativeWeightError reports a caller error: weights must be >= 0.
type NegativeWeightError struct {
	Key string
}

func (e *NegativeWeightError) Error() string {
	return fmt.Sprintf("alloc: negative weight for bucket %q", e.Key)
}

// Split distributes total across buckets in multiples of unit. The result
// sums exactly to round(total/unit)*unit, every bucket stays within one unit
// of its ideal share, and ties on the fractional remainder resolve in bucket
// order, so identical input yields identical output.
func Split(total, unit float64, buckets []Bucket) (map[string]float64, error) {
	if unit <= 0 {
		return nil, errors.New("alloc: unit must be positive")
	}
	if total < 0 {
		return nil, errors.New("alloc: total must not be negative")
	}
	counts, err := splitUnits(int(math.Round(total/unit)), buckets)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(counts))
	for key, n := range counts {
		out[key] = float64(n) * unit
	}
	return out, nil
}

// Counts is Split for integer totals with unit 1.
func Counts(total int, buckets []Bucket) (map[string]int, error) {
	if total < 0 {
		return nil, errors.New("alloc: total must not be negative")
	}
	return splitUnits(total, buckets)
}

func splitUnits(units int, buckets []Bucket) (map[string]int, error) {
	for _, b := range buckets {
		if b.Weight < 0 {
			return nil, &NegativeWeightError{Key: b.Key}
		}
	}
	out := make(map[string]int, len(buckets))
	if len(buckets) == 0 {
		if units > 0 {
			return nil, errors.New("alloc: no buckets")
		}
		return out, nil
	}

	var sum float64
	for _, b := range buckets {
		sum += b.Weight
	}

	type share struct {
		key  string
		base int
		frac float64
	}
	shares := make([]share, len(buckets))
	assigned := 0
	for i, b := range buckets {
		var ideal float64
		if sum == 0 {
			// All-zero weights share equally.
			ideal = float64(units) / float64(len(buckets))
		} else {
			ideal = float64(units) * b.Weight / sum
		}
		base := int(math.Floor(ideal))
		shares[i] = share{key: b.Key, base: base, frac: ideal - float64(base)}
		assigned += base
	}

	// Hand out leftover units by descending remainder; stable sort keeps
	// bucket order on ties.
	sort.SliceStable(shares, func(a, b int) bool { return shares[a].frac > shares[b].frac })
	leftover := units - assigned
	for i := 0; leftover > 0; i = (i + 1) % len(shares) {
		shares[i].base++
		leftover--
	}
	for i := len(shares) - 1; leftover < 0 && i >= 0; i-- {
		if shares[i].base > 0 {
			shares[i].base--
			leftover++
		}
	}

	for _, s := range shares {
		out[s.key] = s.base
	}
	return out, nil
}
