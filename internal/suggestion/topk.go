package suggestion

// topK returns the indices of the k largest scores, highest first. Equal scores
// keep their vocabulary order, so the lower id ranks first. It runs in O(V*k),
// which suits the handful of candidates surfaced per mask.
func topK(scores []float32, k int) []int {
	if k <= 0 || len(scores) == 0 {
		return nil
	}
	if k > len(scores) {
		k = len(scores)
	}

	topIdx := make([]int, 0, k+1)
	topVal := make([]float32, 0, k+1)

	for i, v := range scores {
		pos := len(topVal)
		for pos > 0 && topVal[pos-1] < v {
			pos--
		}
		if pos >= k {
			continue
		}

		topIdx = append(topIdx, 0)
		topVal = append(topVal, 0)
		copy(topIdx[pos+1:], topIdx[pos:])
		copy(topVal[pos+1:], topVal[pos:])
		topIdx[pos] = i
		topVal[pos] = v

		if len(topVal) > k {
			topIdx = topIdx[:k]
			topVal = topVal[:k]
		}
	}

	return topIdx
}
