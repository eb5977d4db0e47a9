package system

import (
	"context"
	"errors"
	"testing"

	"cs.umass.edu/synod/internal/paxos"
)

func newSystem(t *testing.T, f int) *System {
	t.Helper()
	s, err := New(f)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestNewRejectsBadFailureCount(t *testing.T) {
	if _, err := New(0); !errors.Is(err, paxos.ErrMalformedConstants) {
		t.Fatalf("New(0) err = %v", err)
	}
}

func TestRoundDecides(t *testing.T) {
	s := newSystem(t, 1)
	v, ok := s.Round(0, 0, []int{1})
	if !ok || v != "0" {
		t.Fatalf("Round = %q, %v", v, ok)
	}
	// only the host that sat the round out applies the Decide
	if got, ok := s.Host(2).Decided(0); !ok || got != "0" {
		t.Fatalf("host 2 decided %q, %v", got, ok)
	}
	for _, id := range []int{0, 1} {
		if _, ok := s.Host(id).Decided(0); ok {
			t.Errorf("host %d applied a Decide at its own ballot", id)
		}
	}
	if err := s.CheckSafety(); err != nil {
		t.Fatal(err)
	}
	if got := s.Announced()[0]; got != "0" {
		t.Fatalf("announced = %q", got)
	}
}

func TestRoundCarriesForwardPartialAccept(t *testing.T) {
	s := newSystem(t, 1)
	s.InitAll()
	b := paxos.Ballot{Num: 1, Pid: 0}
	steps := []Transition{
		{Host: 0, Action: paxos.ActionSendPrepare, Key: 0},
		{Host: 0, Action: paxos.ActionPromise, Msg: paxos.NewPrepare(0, b)},
		{Host: 1, Action: paxos.ActionPromise, Msg: paxos.NewPrepare(0, b)},
		{Host: 0, Action: paxos.ActionPromised, Msg: paxos.NewPromise(0, 0, b, nil)},
		{Host: 0, Action: paxos.ActionPromised, Msg: paxos.NewPromise(0, 1, b, nil)},
		{Host: 0, Action: paxos.ActionSendAccept, Key: 0},
		{Host: 1, Action: paxos.ActionAccept, Msg: paxos.NewAccept(0, b, "0")},
	}
	for _, st := range steps {
		if !s.Step(st) {
			t.Fatalf("%s disabled", st)
		}
	}

	v, ok := s.Round(2, 0, []int{1})
	if !ok || v != "0" {
		t.Fatalf("host 2 round = %q, %v; want the value host 1 accepted", v, ok)
	}
	if got, ok := s.Host(0).Decided(0); !ok || got != "0" {
		t.Fatalf("host 0 decided %q, %v", got, ok)
	}
	if err := s.CheckSafety(); err != nil {
		t.Fatal(err)
	}
}

func TestSettleLeavesLearners(t *testing.T) {
	s := newSystem(t, 2)
	v, ok := s.Settle(3)
	if !ok || v != "0" {
		t.Fatalf("Settle = %q, %v", v, ok)
	}
	for id := 0; id < s.NumHosts(); id++ {
		got, decided := s.Host(id).Decided(3)
		switch {
		case id <= 2 && decided:
			t.Errorf("acceptor %d applied the Decide of its own ballot", id)
		case id > 2 && (!decided || got != "0"):
			t.Errorf("host %d decided %q, %v", id, got, decided)
		}
	}
}

func TestStepRejectsUnknownHost(t *testing.T) {
	s := newSystem(t, 1)
	if s.Step(Transition{Host: 3, Action: paxos.ActionInitRequest}) {
		t.Fatal("step on host 3 of 3")
	}
	if s.Step(Transition{Host: 0, Action: 0}) {
		t.Fatal("step with no action")
	}
}

func TestCandidatesRouting(t *testing.T) {
	s := newSystem(t, 1)
	s.InitAll()
	s.Step(Transition{Host: 1, Action: paxos.ActionSendPrepare, Key: 0})
	b := paxos.Ballot{Num: 1, Pid: 1}
	s.Step(Transition{Host: 2, Action: paxos.ActionPromise, Msg: paxos.NewPrepare(0, b)})

	var prepares, promises int
	for _, c := range s.Candidates([]uint64{0}) {
		switch c.Action {
		case paxos.ActionPromise:
			prepares++
		case paxos.ActionPromised:
			promises++
			if c.Host != 1 {
				t.Errorf("promise routed to host %d", c.Host)
			}
		}
	}
	if prepares != 3 || promises != 1 {
		t.Fatalf("prepare candidates %d, promise candidates %d", prepares, promises)
	}
}

func TestInitAllFollowsCursor(t *testing.T) {
	s := newSystem(t, 2)
	s.InitAll()
	if !s.NextInstanceAll() {
		t.Fatal("cursor exhausted")
	}
	s.InitAll()
	for _, h := range s.Hosts() {
		keys := h.Keys()
		if len(keys) != 2 || keys[0] != 0 || keys[1] != 1 {
			t.Fatalf("host %d keys = %v", h.ID(), keys)
		}
	}
	if keys := s.Keys(); len(keys) != 2 {
		t.Fatalf("system keys = %v", keys)
	}
}

func TestRandomInterleavingsAreSafe(t *testing.T) {
	configs := []struct {
		f     int
		seeds int
		steps int
	}{
		{1, 40, 1200},
		{2, 10, 1500},
	}
	for _, cfg := range configs {
		for seed := int64(1); seed <= int64(cfg.seeds); seed++ {
			s := newSystem(t, cfg.f)
			keys := []uint64{0, 1}
			st, err := NewScheduler(s, seed, keys).Run(context.Background(), cfg.steps)
			if err != nil {
				t.Fatalf("f=%d seed=%d: %v", cfg.f, seed, err)
			}
			before := s.Announced()

			// a clean round afterwards must land on anything already chosen
			for _, k := range keys {
				v, ok := s.Settle(k)
				if !ok {
					continue
				}
				if prev, chosen := before[k]; chosen && prev != v {
					t.Fatalf("f=%d seed=%d key=%d: round chose %q after %q was announced", cfg.f, seed, k, v, prev)
				}
			}
			if err := s.CheckSafety(); err != nil {
				t.Fatalf("f=%d seed=%d after round: %v", cfg.f, seed, err)
			}
			t.Logf("f=%d seed=%d fired=%d msgs=%d decided=%v", cfg.f, seed, st.Fired, st.Messages, st.Decided)
		}
	}
}

func TestSchedulerStopsOnCancel(t *testing.T) {
	s := newSystem(t, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	st, err := NewScheduler(s, 1, []uint64{0}).Run(ctx, 100)
	if !errors.Is(err, context.Canceled) || st.Steps != 0 {
		t.Fatalf("Run = %+v, %v", st, err)
	}
}

func TestCheckersReportViolations(t *testing.T) {
	b1 := paxos.Ballot{Num: 1, Pid: 0}
	b2 := paxos.Ballot{Num: 2, Pid: 1}

	s := newSystem(t, 1)
	s.Network().Send(paxos.NewAccept(0, b1, "x"))
	s.Network().Send(paxos.NewAccept(0, b1, "y"))
	assertViolation(t, s.CheckNoConflictingAccept(), "no-conflicting-accept")

	s = newSystem(t, 1)
	s.Network().Send(paxos.NewDecide(4, b1, "x"))
	s.Network().Send(paxos.NewDecide(4, b2, "y"))
	assertViolation(t, s.CheckAgreement(), "agreement")

	s = newSystem(t, 1)
	s.Network().Send(paxos.NewAccept(0, b1, "x"))
	s.Network().Send(paxos.NewAccepted(0, 0, b1))
	s.Network().Send(paxos.NewAccepted(0, 2, b1))
	s.Network().Send(paxos.NewAccept(0, b2, "y"))
	assertViolation(t, s.CheckCarryForward(), "carry-forward")
	assertViolation(t, s.CheckSafety(), "carry-forward")

	// a single ack is not a quorum, overriding it is allowed
	s = newSystem(t, 1)
	s.Network().Send(paxos.NewAccept(0, b1, "x"))
	s.Network().Send(paxos.NewAccepted(0, 0, b1))
	s.Network().Send(paxos.NewAccept(0, b2, "y"))
	if err := s.CheckCarryForward(); err != nil {
		t.Fatal(err)
	}
}

func assertViolation(t *testing.T, err error, property string) {
	t.Helper()
	if !errors.Is(err, ErrSafety) {
		t.Fatalf("err = %v, want a safety violation", err)
	}
	var v *Violation
	if !errors.As(err, &v) || v.Property != property {
		t.Fatalf("err = %v, want property %s", err, property)
	}
}
