// Package system composes a fixed set of hosts over one shared network and
// drives them through an interleaving of atomic host actions.
package system

import (
	"fmt"
	"io/ioutil"
	"log"
	"sort"

	"cs.umass.edu/synod/internal/network"
	"cs.umass.edu/synod/internal/paxos"
)

// System is 2f+1 hosts sharing one in-flight message set. Hosts never touch
// each other's state; they only interact through the network.
type System struct {
	numFailures int
	hosts       []*paxos.Host
	net         *network.InFlight
	logger      *log.Logger
}

type Option func(*System)

// WithLogger logs host transitions and scheduler progress to l.
func WithLogger(l *log.Logger) Option {
	return func(s *System) { s.logger = l }
}

func New(numFailures int, opts ...Option) (*System, error) {
	s := &System{
		numFailures: numFailures,
		net:         network.NewInFlight(),
		logger:      log.New(ioutil.Discard, "", 0),
	}
	for _, opt := range opts {
		opt(s)
	}
	numHosts := 2*numFailures + 1
	for id := 0; id < numHosts; id++ {
		c, err := paxos.NewConstants(id, numFailures)
		if err != nil {
			return nil, fmt.Errorf("host %d: %w", id, err)
		}
		h, err := paxos.NewHost(c, paxos.WithLogger(s.logger))
		if err != nil {
			return nil, err
		}
		s.hosts = append(s.hosts, h)
	}
	return s, nil
}

func (s *System) NumHosts() int              { return len(s.hosts) }
func (s *System) NumFailures() int           { return s.numFailures }
func (s *System) Host(id int) *paxos.Host    { return s.hosts[id] }
func (s *System) Hosts() []*paxos.Host       { return s.hosts }
func (s *System) Network() *network.InFlight { return s.net }

// Transition is one atomic step: a host and one of its actions. Msg is only
// used by receive actions, Key only by the others.
type Transition struct {
	Host   int
	Action paxos.Action
	Key    uint64
	Msg    paxos.Message
}

func (t Transition) String() string {
	switch t.Action {
	case paxos.ActionPromise, paxos.ActionPromised, paxos.ActionAccept, paxos.ActionAccepted, paxos.ActionDecide:
		return fmt.Sprintf("host %d %s %s", t.Host, t.Action, t.Msg)
	}
	return fmt.Sprintf("host %d %s key=%d", t.Host, t.Action, t.Key)
}

// Step applies t and reports whether it was enabled. Every other host and
// every other instance is left as it was.
func (s *System) Step(t Transition) bool {
	if t.Host < 0 || t.Host >= len(s.hosts) {
		return false
	}
	h := s.hosts[t.Host]
	switch t.Action {
	case paxos.ActionInitRequest:
		return h.InitRequest(t.Key)
	case paxos.ActionSendPrepare:
		return h.SendPrepare(s.net, t.Key)
	case paxos.ActionSendAccept:
		return h.SendAccept(s.net, t.Key)
	case paxos.ActionSendDecide:
		return h.SendDecide(s.net, t.Key)
	case paxos.ActionPromise:
		return h.Promise(s.net, t.Msg)
	case paxos.ActionPromised:
		return h.Promised(s.net, t.Msg)
	case paxos.ActionAccept:
		return h.Accept(s.net, t.Msg)
	case paxos.ActionAccepted:
		return h.Accepted(s.net, t.Msg)
	case paxos.ActionDecide:
		return h.Decide(s.net, t.Msg)
	}
	return false
}

// Candidates lists every transition that might be enabled for the given
// keys, in deterministic order. Disabled ones are no-ops under Step.
func (s *System) Candidates(keys []uint64) []Transition {
	var out []Transition
	for id := range s.hosts {
		for _, k := range keys {
			for _, a := range []paxos.Action{
				paxos.ActionInitRequest,
				paxos.ActionSendPrepare,
				paxos.ActionSendAccept,
				paxos.ActionSendDecide,
			} {
				out = append(out, Transition{Host: id, Action: a, Key: k})
			}
		}
	}
	for _, m := range s.net.Messages() {
		a, ok := paxos.ReceiveAction(m.Kind)
		if !ok {
			continue
		}
		if !m.Broadcast() {
			out = append(out, Transition{Host: m.Destination(), Action: a, Msg: m})
			continue
		}
		for id := range s.hosts {
			out = append(out, Transition{Host: id, Action: a, Msg: m})
		}
	}
	return out
}

// InitAll creates, on every host, the instance at that host's cursor.
func (s *System) InitAll() {
	for _, h := range s.hosts {
		h.InitRequest(h.CurrentKey())
	}
}

// NextInstanceAll advances every host's cursor by one slot.
func (s *System) NextInstanceAll() bool {
	ok := true
	for _, h := range s.hosts {
		ok = h.NextInstance() && ok
	}
	return ok
}

// Keys returns the union of instance keys across hosts.
func (s *System) Keys() []uint64 {
	seen := make(map[uint64]struct{})
	for _, h := range s.hosts {
		for _, k := range h.Keys() {
			seen[k] = struct{}{}
		}
	}
	keys := make([]uint64, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Decisions is the abstract view of the system: the single value decided
// for each key. Hosts disagreeing on a key is reported as a violation.
func (s *System) Decisions() (map[uint64]paxos.Value, error) {
	decided := make(map[uint64]paxos.Value)
	owner := make(map[uint64]int)
	for _, h := range s.hosts {
		for _, k := range h.Keys() {
			v, ok := h.Decided(k)
			if !ok {
				continue
			}
			if prev, seen := decided[k]; seen && prev != v {
				return nil, violationf("agreement", k, "host %d decided %q, host %d decided %q", owner[k], prev, h.ID(), v)
			}
			decided[k] = v
			owner[k] = h.ID()
		}
	}
	return decided, nil
}

// Announced returns, per key, the value carried by any Decide message in
// flight. A Decide is only sent once a quorum accepted its value.
func (s *System) Announced() map[uint64]paxos.Value {
	out := make(map[uint64]paxos.Value)
	for _, m := range s.net.OfKind(paxos.KindDecide) {
		out[m.Key] = m.Value
	}
	return out
}
