package metrics

import "time"

// Window accumulates minibatch timings between snapshots.
type Window struct {
	rows    int
	sample  time.Duration
	update  time.Duration
	batches int
}

// Record adds one minibatch: rows processed, time spent in the Gibbs chain
// and time spent in the optimizer.
func (w *Window) Record(rows int, sampleTime, updateTime time.Duration) {
	w.rows += rows
	w.sample += sampleTime
	w.update += updateTime
	w.batches++
}

// Snapshot returns aggregated metrics and resets the window.
func (w *Window) Snapshot() Snapshot {
	snap := Snapshot{Batches: w.batches}
	total := w.sample + w.update
	if total > 0 {
		snap.RowsPerSec = float64(w.rows) / total.Seconds()
	}
	if w.batches > 0 {
		snap.AvgSampleMS = (w.sample.Seconds() * 1000) / float64(w.batches)
		snap.AvgUpdateMS = (w.update.Seconds() * 1000) / float64(w.batches)
	}
	*w = Window{}
	return snap
}

// Snapshot represents loggable throughput metrics.
type Snapshot struct {
	Batches     int
	RowsPerSec  float64
	AvgSampleMS float64
	AvgUpdateMS float64
}
