package system

import "cs.umass.edu/synod/internal/paxos"

// Round drives one uncontended round for key from proposer, with only the
// listed participants acting as acceptors, then delivers the resulting
// Decide to every host. It returns the value the round proposed and
// whether a Decide was sent.
//
// Hosts that took part in the round have already moved to its ballot and,
// per the strictly-greater decide guard, do not apply its Decide. Leave at
// least one host out of participants to observe a learned value.
func (s *System) Round(proposer int, key uint64, participants []int) (paxos.Value, bool) {
	if proposer < 0 || proposer >= len(s.hosts) {
		return "", false
	}
	p := s.hosts[proposer]
	if v, ok := p.Decided(key); ok {
		return v, true
	}
	for _, h := range s.hosts {
		h.InitRequest(key)
	}

	acceptors := []int{proposer}
	for _, id := range participants {
		if id != proposer && id >= 0 && id < len(s.hosts) {
			acceptors = append(acceptors, id)
		}
	}

	// catch up with every ballot already announced so the new one beats them
	for _, m := range s.net.OfKind(paxos.KindPrepare) {
		if m.Key == key {
			p.Promise(s.net, m)
		}
	}
	st, _ := p.Instance(key)
	b, ok := st.CurrentBallot.Next(proposer)
	if !ok || !p.SendPrepare(s.net, key) {
		return "", false
	}

	prepare := paxos.NewPrepare(key, b)
	for _, id := range acceptors {
		s.Step(Transition{Host: id, Action: paxos.ActionPromise, Msg: prepare})
	}
	for _, m := range s.replies(paxos.KindPromise, key, b) {
		s.Step(Transition{Host: proposer, Action: paxos.ActionPromised, Msg: m})
	}
	if !p.SendAccept(s.net, key) {
		return "", false
	}

	var value paxos.Value
	for _, m := range s.replies(paxos.KindAccept, key, b) {
		value = m.Value
		for _, id := range acceptors {
			s.Step(Transition{Host: id, Action: paxos.ActionAccept, Msg: m})
		}
	}
	for _, m := range s.replies(paxos.KindAccepted, key, b) {
		s.Step(Transition{Host: proposer, Action: paxos.ActionAccepted, Msg: m})
	}
	if !p.SendDecide(s.net, key) {
		return value, false
	}
	decide := paxos.NewDecide(key, b, value)
	for id := range s.hosts {
		s.Step(Transition{Host: id, Action: paxos.ActionDecide, Msg: decide})
	}
	return value, true
}

// Settle finishes key with a Round from host 0 accepted by hosts 0..f.
// Hosts f+1..2f sit the round out and are the ones that apply its Decide.
func (s *System) Settle(key uint64) (paxos.Value, bool) {
	acceptors := make([]int, 0, s.numFailures)
	for id := 1; id <= s.numFailures; id++ {
		acceptors = append(acceptors, id)
	}
	return s.Round(0, key, acceptors)
}

func (s *System) replies(k paxos.Kind, key uint64, b paxos.Ballot) []paxos.Message {
	return s.net.Filter(func(m paxos.Message) bool {
		return m.Kind == k && m.Key == key && m.Ballot == b
	})
}
