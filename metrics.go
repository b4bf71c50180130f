// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package xgate

import "expvar"

// serverMetrics record serving activity counters.
type serverMetrics struct {
	questIn      expvar.Int // number of quests received
	questFailed  expvar.Int // number of quests answered with an exception
	questActive  expvar.Int
	controlCalls expvar.Int // number of quests for control methods
	doubleFaults expvar.Int // number of exception answers re-encoded without a trace

	emap *expvar.Map
}

var rootMetrics = newServerMetrics()

func newServerMetrics() *serverMetrics {
	sm := &serverMetrics{emap: new(expvar.Map)}
	sm.emap.Set("quests_in", &sm.questIn)
	sm.emap.Set("quests_failed", &sm.questFailed)
	sm.emap.Set("quests_active", &sm.questActive)
	sm.emap.Set("control_calls", &sm.controlCalls)
	sm.emap.Set("double_faults", &sm.doubleFaults)
	return sm
}
