// Package network holds the append-only record of every message ever sent.
// Delivery is membership: a message can be received once it is in the set,
// any number of times and in any order.
package network

import (
	"sort"
	"sync"

	"cs.umass.edu/synod/internal/paxos"
)

// InFlight is a monotonically growing message set. It is safe for
// concurrent use; Send is a pure insert and Recv a pure membership check.
type InFlight struct {
	mu   sync.RWMutex
	msgs map[paxos.Message]struct{}
}

var _ paxos.Network = (*InFlight)(nil)

func NewInFlight() *InFlight {
	return &InFlight{msgs: make(map[paxos.Message]struct{})}
}

func (n *InFlight) Send(m paxos.Message) {
	n.mu.Lock()
	n.msgs[m] = struct{}{}
	n.mu.Unlock()
}

// Add inserts m and reports whether it was new.
func (n *InFlight) Add(m paxos.Message) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.msgs[m]; ok {
		return false
	}
	n.msgs[m] = struct{}{}
	return true
}

func (n *InFlight) Recv(m paxos.Message) bool {
	n.mu.RLock()
	_, ok := n.msgs[m]
	n.mu.RUnlock()
	return ok
}

func (n *InFlight) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.msgs)
}

// Messages returns every message in a deterministic order.
func (n *InFlight) Messages() []paxos.Message {
	return n.Filter(func(paxos.Message) bool { return true })
}

// OfKind returns the messages of one kind in a deterministic order.
func (n *InFlight) OfKind(k paxos.Kind) []paxos.Message {
	return n.Filter(func(m paxos.Message) bool { return m.Kind == k })
}

func (n *InFlight) Filter(keep func(paxos.Message) bool) []paxos.Message {
	n.mu.RLock()
	out := make([]paxos.Message, 0, len(n.msgs))
	for m := range n.msgs {
		if keep(m) {
			out = append(out, m)
		}
	}
	n.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return Less(out[i], out[j]) })
	return out
}

// Less is a total order over messages, used to make snapshots reproducible.
func Less(a, b paxos.Message) bool {
	if a.Key != b.Key {
		return a.Key < b.Key
	}
	if c := paxos.Compare(a.Ballot, b.Ballot); c != 0 {
		return c < 0
	}
	if a.Kind != b.Kind {
		return a.Kind < b.Kind
	}
	if a.Sender != b.Sender {
		return a.Sender < b.Sender
	}
	if a.Value != b.Value {
		return a.Value < b.Value
	}
	if a.HasPrior != b.HasPrior {
		return !a.HasPrior
	}
	if c := paxos.Compare(a.Prior.Ballot, b.Prior.Ballot); c != 0 {
		return c < 0
	}
	return a.Prior.Value < b.Prior.Value
}
