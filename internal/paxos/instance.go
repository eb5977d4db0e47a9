package paxos

import "sort"

// Instance is one host's proposer and acceptor state for a single
// consensus instance. It is only ever grown: ballots increase, maps gain
// entries and the decided value goes from absent to set.
//
// Instance is not safe for concurrent use; Host serializes access.
type Instance struct {
	key           uint64
	currentBallot Ballot

	// proposer state, keyed by ballots this host issued
	promised      map[Ballot]map[int]*Vote
	proposedValue map[Ballot]Value
	accepted      map[Ballot]map[int]struct{}

	// acceptor state: accept_ballot and accept_value are set together
	vote *Vote

	decideValue  *Value
	decideBallot Ballot
	candidate    Value
}

func newInstance(key uint64, candidate Value) *Instance {
	return &Instance{
		key:           key,
		currentBallot: ZeroBallot,
		promised:      make(map[Ballot]map[int]*Vote),
		proposedValue: make(map[Ballot]Value),
		accepted:      make(map[Ballot]map[int]struct{}),
		candidate:     candidate,
	}
}

func (in *Instance) used(b Ballot) bool {
	if _, ok := in.promised[b]; ok {
		return true
	}
	if _, ok := in.proposedValue[b]; ok {
		return true
	}
	_, ok := in.accepted[b]
	return ok
}

func (in *Instance) sendPrepare(c Constants) (Message, bool) {
	if in.decideValue != nil {
		return Message{}, false
	}
	b, ok := in.currentBallot.Next(c.ID)
	if !ok || in.used(b) {
		return Message{}, false
	}
	in.promised[b] = make(map[int]*Vote)
	in.accepted[b] = make(map[int]struct{})
	return NewPrepare(in.key, b), true
}

func (in *Instance) promise(c Constants, m Message) (Message, bool) {
	if m.Kind != KindPrepare || Compare(m.Ballot, in.currentBallot) != 1 {
		return Message{}, false
	}
	in.currentBallot = m.Ballot
	return NewPromise(in.key, c.ID, m.Ballot, in.vote), true
}

func (in *Instance) promisedBy(m Message) bool {
	if m.Kind != KindPromise {
		return false
	}
	responses, ok := in.promised[m.Ballot]
	if !ok {
		return false
	}
	if _, ok := in.proposedValue[m.Ballot]; ok {
		return false
	}
	prior, _ := m.PriorVote()
	responses[m.Sender] = prior
	return true
}

func (in *Instance) sendAccept(c Constants) (Message, bool) {
	b := in.currentBallot
	responses, ok := in.promised[b]
	if !ok || !c.IsQuorum(len(responses)) {
		return Message{}, false
	}
	if _, ok := in.proposedValue[b]; ok {
		return Message{}, false
	}
	value, found := MaxAcceptedValue(responses)
	if !found {
		value = in.candidate
	}
	in.proposedValue[b] = value
	return NewAccept(in.key, b, value), true
}

func (in *Instance) accept(c Constants, m Message) (Message, bool) {
	if m.Kind != KindAccept || Compare(m.Ballot, in.currentBallot) < 0 {
		return Message{}, false
	}
	in.currentBallot = m.Ballot
	in.vote = &Vote{Ballot: m.Ballot, Value: m.Value}
	return NewAccepted(in.key, c.ID, m.Ballot), true
}

func (in *Instance) acceptedBy(m Message) bool {
	if m.Kind != KindAccepted {
		return false
	}
	acks, ok := in.accepted[m.Ballot]
	if !ok {
		return false
	}
	acks[m.Sender] = struct{}{}
	return true
}

func (in *Instance) sendDecide(c Constants) (Message, bool) {
	b := in.currentBallot
	value, ok := in.proposedValue[b]
	if !ok || !c.IsQuorum(len(in.accepted[b])) {
		return Message{}, false
	}
	return NewDecide(in.key, b, value), true
}

// decide keeps the strictly-greater guard. A learner that already moved past
// b, for example by promising a later Prepare, never applies this Decide.
func (in *Instance) decide(m Message) bool {
	if m.Kind != KindDecide || Compare(m.Ballot, in.currentBallot) != 1 {
		return false
	}
	in.currentBallot = m.Ballot
	in.decideBallot = m.Ballot
	v := m.Value
	in.decideValue = &v
	return true
}

// setCandidate replaces the value this host falls back to. It is refused
// once the host has proposed a value on any ballot or learned a decision.
func (in *Instance) setCandidate(v Value) bool {
	if in.decideValue != nil || len(in.proposedValue) > 0 {
		return false
	}
	in.candidate = v
	return true
}

// InstanceState is a deep copy of an Instance, safe to hand out of the
// host's critical section.
type InstanceState struct {
	Key           uint64       `json:"key"`
	CurrentBallot Ballot       `json:"current_ballot"`
	Rounds        []RoundState `json:"rounds"`
	Accepted      *Vote        `json:"accepted,omitempty"`
	Decided       *Value       `json:"decided,omitempty"`
	DecidedAt     *Ballot      `json:"decided_at,omitempty"`
	Candidate     Value        `json:"candidate"`
}

// RoundState is the proposer bookkeeping for one self-issued ballot.
type RoundState struct {
	Ballot     Ballot        `json:"ballot"`
	Promises   map[int]*Vote `json:"promises"`
	Proposed   *Value        `json:"proposed,omitempty"`
	AcceptedBy []int         `json:"accepted_by"`
}

// PromiseQuorum reports how many distinct acceptors promised this round.
func (r RoundState) PromiseQuorum() int { return len(r.Promises) }

func (in *Instance) snapshot() InstanceState {
	s := InstanceState{
		Key:           in.key,
		CurrentBallot: in.currentBallot,
		Candidate:     in.candidate,
	}
	if in.vote != nil {
		v := *in.vote
		s.Accepted = &v
	}
	if in.decideValue != nil {
		v := *in.decideValue
		s.Decided = &v
		b := in.decideBallot
		s.DecidedAt = &b
	}

	ballots := make(map[Ballot]struct{})
	for b := range in.promised {
		ballots[b] = struct{}{}
	}
	for b := range in.proposedValue {
		ballots[b] = struct{}{}
	}
	for b := range in.accepted {
		ballots[b] = struct{}{}
	}
	for b := range ballots {
		r := RoundState{
			Ballot:     b,
			Promises:   make(map[int]*Vote, len(in.promised[b])),
			AcceptedBy: make([]int, 0, len(in.accepted[b])),
		}
		for sender, prior := range in.promised[b] {
			if prior != nil {
				v := *prior
				prior = &v
			}
			r.Promises[sender] = prior
		}
		if v, ok := in.proposedValue[b]; ok {
			r.Proposed = &v
		}
		for sender := range in.accepted[b] {
			r.AcceptedBy = append(r.AcceptedBy, sender)
		}
		sort.Ints(r.AcceptedBy)
		s.Rounds = append(s.Rounds, r)
	}
	sort.Slice(s.Rounds, func(i, j int) bool {
		return s.Rounds[i].Ballot.Less(s.Rounds[j].Ballot)
	})
	return s
}

// Round returns the bookkeeping for ballot b, if this host issued it.
func (s InstanceState) Round(b Ballot) (RoundState, bool) {
	for _, r := range s.Rounds {
		if r.Ballot == b {
			return r, true
		}
	}
	return RoundState{}, false
}
