package orchestrator

import "time"

// timerSet is the three-tier timer hierarchy owned by one active project:
// a hard overall deadline, an inactivity watchdog, and one timer per
// started job. Replacing or destroying the project stops every member
// before any new timer is armed. All methods are called under the
// orchestrator lock.
type timerSet struct {
	overall  *time.Timer
	watchdog *time.Timer
	jobs     map[string]*time.Timer
}

func newTimerSet() *timerSet {
	return &timerSet{jobs: make(map[string]*time.Timer)}
}

// armOverall starts the absolute project deadline. It is armed once and
// never reset.
func (ts *timerSet) armOverall(d time.Duration, fn func()) {
	if ts.overall != nil {
		ts.overall.Stop()
	}
	ts.overall = time.AfterFunc(d, fn)
}

// resetWatchdog clears and rearms the inactivity watchdog.
func (ts *timerSet) resetWatchdog(d time.Duration, fn func()) {
	if ts.watchdog != nil {
		ts.watchdog.Stop()
	}
	ts.watchdog = time.AfterFunc(d, fn)
}

// armJob starts the per-job timeout, replacing any previous timer for the
// same job id.
func (ts *timerSet) armJob(jobID string, d time.Duration, fn func()) {
	if t, ok := ts.jobs[jobID]; ok {
		t.Stop()
	}
	ts.jobs[jobID] = time.AfterFunc(d, fn)
}

// stopJob clears the timer for one job, if armed.
func (ts *timerSet) stopJob(jobID string) {
	if t, ok := ts.jobs[jobID]; ok {
		t.Stop()
		delete(ts.jobs, jobID)
	}
}

// stopAll clears every timer. Whichever project-level timer fires first
// calls this synchronously so the others can never double-process.
func (ts *timerSet) stopAll() {
	if ts.overall != nil {
		ts.overall.Stop()
		ts.overall = nil
	}
	if ts.watchdog != nil {
		ts.watchdog.Stop()
		ts.watchdog = nil
	}
	for id, t := range ts.jobs {
		t.Stop()
		delete(ts.jobs, id)
	}
}
