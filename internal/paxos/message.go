package paxos

import (
	"errors"
	"fmt"
	"strconv"
)

// Value is the opaque payload a consensus instance decides on.
type Value string

// HostValue is the placeholder value a host proposes when no client value
// was submitted for an instance.
func HostValue(id int) Value {
	return Value(strconv.Itoa(id))
}

// Vote is an acceptor's record of the ballot it accepted and the value
// carried by that ballot.
type Vote struct {
	Ballot Ballot `json:"ballot"`
	Value  Value  `json:"value"`
}

func (v Vote) String() string {
	return fmt.Sprintf("%s:%q", v.Ballot, v.Value)
}

type Kind uint8

const (
	KindPrepare Kind = iota + 1
	KindPromise
	KindAccept
	KindAccepted
	KindDecide
)

var kindNames = map[Kind]string{
	KindPrepare:  "prepare",
	KindPromise:  "promise",
	KindAccept:   "accept",
	KindAccepted: "accepted",
	KindDecide:   "decide",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown(" + strconv.Itoa(int(k)) + ")"
}

// Message is every protocol message in one flat, comparable struct so that
// it can be used directly as a set member by the network.
//
// Fields used per kind:
//
//	Prepare  {Key, Ballot}
//	Promise  {Key, Sender, Ballot, Prior/HasPrior}
//	Accept   {Key, Ballot, Value}
//	Accepted {Key, Sender, Ballot}
//	Decide   {Key, Ballot, Value}
type Message struct {
	Kind     Kind   `json:"kind"`
	Key      uint64 `json:"key"`
	Sender   int    `json:"sender"`
	Ballot   Ballot `json:"ballot"`
	Value    Value  `json:"value,omitempty"`
	HasPrior bool   `json:"has_prior,omitempty"`
	Prior    Vote   `json:"prior"`
}

func NewPrepare(key uint64, b Ballot) Message {
	return Message{Kind: KindPrepare, Key: key, Ballot: b}
}

// NewPromise builds a promise reply. prior is the sender's accepted vote, or
// nil if it has not accepted anything for key.
func NewPromise(key uint64, sender int, b Ballot, prior *Vote) Message {
	m := Message{Kind: KindPromise, Key: key, Sender: sender, Ballot: b}
	if prior != nil {
		m.HasPrior = true
		m.Prior = *prior
	}
	return m
}

func NewAccept(key uint64, b Ballot, v Value) Message {
	return Message{Kind: KindAccept, Key: key, Ballot: b, Value: v}
}

func NewAccepted(key uint64, sender int, b Ballot) Message {
	return Message{Kind: KindAccepted, Key: key, Sender: sender, Ballot: b}
}

func NewDecide(key uint64, b Ballot, v Value) Message {
	return Message{Kind: KindDecide, Key: key, Ballot: b, Value: v}
}

// PriorVote returns the accepted vote reported by a promise, if any.
func (m Message) PriorVote() (*Vote, bool) {
	if !m.HasPrior {
		return nil, false
	}
	v := m.Prior
	return &v, true
}

// Broadcast reports whether m is addressed to every host. Promise and
// Accepted replies are addressed to the proposer that owns the ballot.
func (m Message) Broadcast() bool {
	return m.Kind == KindPrepare || m.Kind == KindAccept || m.Kind == KindDecide
}

// Destination is the host a reply is addressed to. Only meaningful when
// Broadcast is false.
func (m Message) Destination() int {
	return m.Ballot.Pid
}

func (m Message) String() string {
	switch m.Kind {
	case KindPrepare:
		return fmt.Sprintf("Prepare{key=%d ballot=%s}", m.Key, m.Ballot)
	case KindPromise:
		prior := "none"
		if m.HasPrior {
			prior = m.Prior.String()
		}
		return fmt.Sprintf("Promise{key=%d sender=%d ballot=%s accepted=%s}", m.Key, m.Sender, m.Ballot, prior)
	case KindAccept:
		return fmt.Sprintf("Accept{key=%d ballot=%s value=%q}", m.Key, m.Ballot, m.Value)
	case KindAccepted:
		return fmt.Sprintf("Accepted{key=%d sender=%d ballot=%s}", m.Key, m.Sender, m.Ballot)
	case KindDecide:
		return fmt.Sprintf("Decide{key=%d ballot=%s value=%q}", m.Key, m.Ballot, m.Value)
	}
	return fmt.Sprintf("Message{kind=%s}", m.Kind)
}

var ErrMalformedMessage = errors.New("malformed message")

// Validate checks that m is well formed for a cluster of numHosts hosts.
// Receivers drop messages that fail validation.
func (m Message) Validate(numHosts int) error {
	if _, ok := kindNames[m.Kind]; !ok {
		return fmt.Errorf("%w: unknown kind %d", ErrMalformedMessage, m.Kind)
	}
	if !validPid(m.Ballot, numHosts) {
		return fmt.Errorf("%w: %s ballot %s out of range", ErrMalformedMessage, m.Kind, m.Ballot)
	}
	if m.Ballot.Num == 0 {
		// ballot (0,*) is never issued, every proposer starts from num 1
		return fmt.Errorf("%w: %s carries unissued ballot %s", ErrMalformedMessage, m.Kind, m.Ballot)
	}
	switch m.Kind {
	case KindPromise, KindAccepted:
		if m.Sender < 0 || m.Sender >= numHosts {
			return fmt.Errorf("%w: %s sender %d out of range", ErrMalformedMessage, m.Kind, m.Sender)
		}
	}
	if m.Kind == KindPromise {
		if m.HasPrior && (!validPid(m.Prior.Ballot, numHosts) || m.Prior.Ballot.Num == 0) {
			return fmt.Errorf("%w: promise prior ballot %s out of range", ErrMalformedMessage, m.Prior.Ballot)
		}
		if !m.HasPrior && m.Prior != (Vote{}) {
			return fmt.Errorf("%w: promise carries a prior without has_prior", ErrMalformedMessage)
		}
	}
	return nil
}

func validPid(b Ballot, numHosts int) bool {
	return b.Pid >= 0 && b.Pid < numHosts
}
