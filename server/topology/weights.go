// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

package topology

// apportion scales weights proportionally so that they sum to target. Each result is at least MinWeight and
// rounding uses the largest remainder method, ties going to the earlier weight.
func apportion(weights []int, target int) ([]int, error) {
	n := len(weights)
	if n == 0 {
		return nil, nil
	}
	if target < n*MinWeight {
		return nil, ErrInvalidWeight.WithCausef("cannot fit %d shards into a total weight of %d", n, target)
	}

	sum := 0
	for _, w := range weights {
		sum += w
	}
	if sum <= 0 {
		return equalWeights(n, target), nil
	}

	result := make([]int, n)
	remainders := make([]int, n)
	total := 0
	for i, w := range weights {
		result[i] = w * target / sum
		remainders[i] = w * target % sum
		if result[i] < MinWeight {
			result[i] = MinWeight
			remainders[i] = -1
		}
		total += result[i]
	}

	for total < target {
		best := 0
		for i := 1; i < n; i++ {
			if remainders[i] > remainders[best] {
				best = i
			}
		}
		result[best]++
		remainders[best] = -1
		total++
	}

	// Raising tiny weights to the minimum may overshoot, take it back from the heaviest ones.
	for total > target {
		best := -1
		for i := n - 1; i >= 0; i-- {
			if result[i] > MinWeight && (best < 0 || result[i] > result[best]) {
				best = i
			}
		}
		result[best]--
		total--
	}

	return result, nil
}

// equalWeights splits target into n as-equal-as-possible integers, the remainder going to the first ones.
func equalWeights(n, target int) []int {
	if n == 0 {
		return nil
	}
	base, rem := target/n, target%n
	result := make([]int, n)
	for i := range result {
		result[i] = base
		if i < rem {
			result[i]++
		}
	}
	return result
}

func sumWeights(shards []Shard) int {
	sum := 0
	for _, s := range shards {
		sum += s.Weight
	}
	return sum
}
