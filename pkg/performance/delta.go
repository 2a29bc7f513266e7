// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package performance

// counterDelta returns the growth of a cumulative counter since the previous
// sample. A counter that went backwards was reset (process restart, pid reuse)
// and the current value is returned as the delta.
func counterDelta(current, previous uint64) (delta uint64, resetDetected bool) {
	if current < previous {
		return current, true
	}
	return current - previous, false
}

// userIODelta computes the per-interval usage of one user.
func userIODelta(current, previous UserIOCounters) UserIOCounters {
	out := UserIOCounters{UID: current.UID}
	for metric := 0; metric < MetricTypes; metric++ {
		for state := 0; state < UIDStates; state++ {
			out.Bytes[metric][state], _ = counterDelta(current.Bytes[metric][state], previous.Bytes[metric][state])
		}
	}
	for state := 0; state < UIDStates; state++ {
		out.Fsync[state], _ = counterDelta(current.Fsync[state], previous.Fsync[state])
	}
	return out
}

// MajorFaultsPercentChange returns the relative change between two major fault
// totals in percent. It is 0 when there is no previous total to compare with.
func MajorFaultsPercentChange(previous, current uint64) float64 {
	if previous == 0 {
		return 0
	}
	return (float64(current) - float64(previous)) / float64(previous) * 100
}
