package progress

import "time"

// Snapshot is the progress view after one batch.
type Snapshot struct {
	Done           int
	EstimatedTotal int
	Percent        int
	ETA            time.Duration
	ETAKnown       bool
	Elapsed        time.Duration
}

// ETAString formats the snapshot's ETA.
func (s Snapshot) ETAString() string {
	return FormatETA(s.ETA, s.ETAKnown)
}

// Tracker keeps the per-run state the pure functions need: the start time,
// the largest estimate seen and the last percentage reported.
//
// A Tracker belongs to one session and is not safe for concurrent use.
type Tracker struct {
	start     time.Time
	estimated int
	percent   int
	complete  bool
}

// NewTracker starts tracking at start.
func NewTracker(start time.Time) *Tracker {
	return &Tracker{start: start}
}

// Observe folds a batch's estimate into the tracker. The estimate never
// decreases; non-positive values are ignored.
func (t *Tracker) Observe(estimate int) {
	if estimate > t.estimated {
		t.estimated = estimate
	}
}

// EstimatedTotal returns the largest estimate observed.
func (t *Tracker) EstimatedTotal() int {
	return t.estimated
}

// Update computes the snapshot for done items at now. The reported percent
// never decreases between calls.
func (t *Tracker) Update(done int, now time.Time) Snapshot {
	elapsed := now.Sub(t.start)

	if !t.complete {
		if pct := Percent(done, t.estimated); pct > t.percent {
			t.percent = pct
		}
	}
	eta, ok := ETA(done, t.estimated, elapsed)
	if t.complete {
		eta, ok = 0, false
	}

	return Snapshot{
		Done:           done,
		EstimatedTotal: t.estimated,
		Percent:        t.percent,
		ETA:            eta,
		ETAKnown:       ok,
		Elapsed:        elapsed,
	}
}

// Complete marks the run finished; later snapshots report 100%.
func (t *Tracker) Complete() {
	t.complete = true
	t.percent = 100
}
