package system

import (
	"errors"
	"fmt"

	"cs.umass.edu/synod/internal/paxos"
)

var ErrSafety = errors.New("safety violation")

// Violation describes a broken safety property for one instance.
type Violation struct {
	Property string
	Key      uint64
	Detail   string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("%s: %s (key %d): %s", ErrSafety, v.Property, v.Key, v.Detail)
}

func (v *Violation) Unwrap() error { return ErrSafety }

func violationf(property string, key uint64, format string, args ...interface{}) *Violation {
	return &Violation{Property: property, Key: key, Detail: fmt.Sprintf(format, args...)}
}

type roundKey struct {
	key    uint64
	ballot paxos.Ballot
}

// CheckSafety runs every checker and returns the first violation found.
func (s *System) CheckSafety() error {
	checks := []func() error{
		s.CheckAgreement,
		s.CheckNoConflictingAccept,
		s.CheckCarryForward,
		s.CheckBallotOwnership,
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

// CheckAgreement verifies that no two hosts decided different values for
// the same key, and that no two Decide messages for a key disagree.
func (s *System) CheckAgreement() error {
	decided, err := s.Decisions()
	if err != nil {
		return err
	}
	announced := make(map[uint64]paxos.Message)
	for _, m := range s.net.OfKind(paxos.KindDecide) {
		if prev, ok := announced[m.Key]; ok && prev.Value != m.Value {
			return violationf("agreement", m.Key, "%s and %s disagree", prev, m)
		}
		announced[m.Key] = m
		if v, ok := decided[m.Key]; ok && v != m.Value {
			return violationf("agreement", m.Key, "hosts decided %q but %s is in flight", v, m)
		}
	}
	return nil
}

// CheckNoConflictingAccept verifies that every Accept for a (key, ballot)
// carries the same value.
func (s *System) CheckNoConflictingAccept() error {
	seen := make(map[roundKey]paxos.Value)
	for _, m := range s.net.OfKind(paxos.KindAccept) {
		rk := roundKey{m.Key, m.Ballot}
		if v, ok := seen[rk]; ok && v != m.Value {
			return violationf("no-conflicting-accept", m.Key, "ballot %s carries %q and %q", m.Ballot, v, m.Value)
		}
		seen[rk] = m.Value
	}
	return nil
}

// CheckCarryForward verifies that once a quorum accepted V at ballot B,
// every Accept and Decide for the same key at a later ballot carries V.
func (s *System) CheckCarryForward() error {
	quorum := s.hosts[0].Constants()
	values := make(map[roundKey]paxos.Value)
	for _, m := range s.net.OfKind(paxos.KindAccept) {
		values[roundKey{m.Key, m.Ballot}] = m.Value
	}
	acks := make(map[roundKey]map[int]struct{})
	for _, m := range s.net.OfKind(paxos.KindAccepted) {
		rk := roundKey{m.Key, m.Ballot}
		if acks[rk] == nil {
			acks[rk] = make(map[int]struct{})
		}
		acks[rk][m.Sender] = struct{}{}
	}

	later := append(s.net.OfKind(paxos.KindAccept), s.net.OfKind(paxos.KindDecide)...)
	for rk, senders := range acks {
		if !quorum.IsQuorum(len(senders)) {
			continue
		}
		chosen, ok := values[rk]
		if !ok {
			return violationf("carry-forward", rk.key, "quorum accepted %s without an Accept in flight", rk.ballot)
		}
		for _, m := range later {
			if m.Key != rk.key || !m.Ballot.Greater(rk.ballot) {
				continue
			}
			if m.Value != chosen {
				return violationf("carry-forward", rk.key, "quorum chose %q at %s but %s", chosen, rk.ballot, m)
			}
		}
	}
	return nil
}

// CheckBallotOwnership verifies that every ballot a host tracks as proposer
// carries its own id and was announced with a Prepare.
func (s *System) CheckBallotOwnership() error {
	for _, h := range s.hosts {
		for _, k := range h.Keys() {
			st, _ := h.Instance(k)
			for _, r := range st.Rounds {
				if r.Ballot.Pid != h.ID() {
					return violationf("ballot-ownership", k, "host %d tracks ballot %s", h.ID(), r.Ballot)
				}
				if !s.net.Recv(paxos.NewPrepare(k, r.Ballot)) {
					return violationf("ballot-ownership", k, "host %d tracks %s without a Prepare", h.ID(), r.Ballot)
				}
			}
		}
	}
	return nil
}
