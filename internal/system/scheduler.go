package system

import (
	"context"
	"math/rand"

	"cs.umass.edu/synod/internal/paxos"
)

// Stats summarizes a scheduler run.
type Stats struct {
	Steps    int
	Fired    int
	Messages int
	Decided  map[uint64]paxos.Value
}

type hostKey struct {
	host int
	key  uint64
}

// Scheduler picks one candidate transition at a time uniformly at random.
// It models the asynchronous network: any in-flight message may be
// delivered to any addressee at any point, any number of times.
type Scheduler struct {
	sys  *System
	rng  *rand.Rand
	keys []uint64

	// every decide_value observed so far, for the stability check
	learned map[hostKey]paxos.Value
}

func NewScheduler(sys *System, seed int64, keys []uint64) *Scheduler {
	return &Scheduler{
		sys:     sys,
		rng:     rand.New(rand.NewSource(seed)),
		keys:    append([]uint64(nil), keys...),
		learned: make(map[hostKey]paxos.Value),
	}
}

// Run takes up to steps random steps, checking after every fired
// transition that decisions are stable and that the system is safe. It
// stops early when ctx is done.
func (sc *Scheduler) Run(ctx context.Context, steps int) (Stats, error) {
	var st Stats
	for st.Steps < steps {
		if err := ctx.Err(); err != nil {
			return sc.finish(st), err
		}
		cands := sc.sys.Candidates(sc.keys)
		if len(cands) == 0 {
			break
		}
		t := cands[sc.rng.Intn(len(cands))]
		st.Steps++
		if !sc.sys.Step(t) {
			continue
		}
		st.Fired++
		sc.sys.logger.Printf("step %d: %s", st.Steps, t)
		if err := sc.observe(t); err != nil {
			return sc.finish(st), err
		}
	}
	return sc.finish(st), nil
}

func (sc *Scheduler) observe(t Transition) error {
	if t.Action == paxos.ActionDecide {
		h := sc.sys.hosts[t.Host]
		v, _ := h.Decided(t.Msg.Key)
		hk := hostKey{t.Host, t.Msg.Key}
		if prev, ok := sc.learned[hk]; ok && prev != v {
			return violationf("stability", t.Msg.Key, "host %d changed its decision from %q to %q", t.Host, prev, v)
		}
		sc.learned[hk] = v
	}
	return sc.sys.CheckSafety()
}

func (sc *Scheduler) finish(st Stats) Stats {
	st.Messages = sc.sys.net.Len()
	st.Decided, _ = sc.sys.Decisions()
	return st
}
