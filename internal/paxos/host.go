package paxos

import (
	"fmt"
	"io/ioutil"
	"log"
	"math"
	"sort"
	"sync"
)

// Action names one of the nine host transitions.
type Action uint8

const (
	ActionInitRequest Action = iota + 1
	ActionSendPrepare
	ActionPromise
	ActionPromised
	ActionSendAccept
	ActionAccept
	ActionAccepted
	ActionSendDecide
	ActionDecide
)

var actionNames = [...]string{
	ActionInitRequest: "init_request",
	ActionSendPrepare: "send_prepare",
	ActionPromise:     "promise",
	ActionPromised:    "promised",
	ActionSendAccept:  "send_accept",
	ActionAccept:      "accept",
	ActionAccepted:    "accepted",
	ActionSendDecide:  "send_decide",
	ActionDecide:      "decide",
}

func (a Action) String() string {
	if int(a) < len(actionNames) && actionNames[a] != "" {
		return actionNames[a]
	}
	return fmt.Sprintf("action(%d)", a)
}

// ReceiveAction maps a message kind to the action that consumes it.
func ReceiveAction(k Kind) (Action, bool) {
	switch k {
	case KindPrepare:
		return ActionPromise, true
	case KindPromise:
		return ActionPromised, true
	case KindAccept:
		return ActionAccept, true
	case KindAccepted:
		return ActionAccepted, true
	case KindDecide:
		return ActionDecide, true
	}
	return 0, false
}

// Host is one participant. It plays proposer, acceptor and learner for every
// instance it knows about. Each exported action runs as a single critical
// section over one instance, plus at most one Recv and one Send on the
// supplied Network. An action whose precondition does not hold changes
// nothing and returns false.
type Host struct {
	c Constants

	mu        sync.Mutex
	instances map[uint64]*Instance
	cursor    uint64

	logger *log.Logger
}

type HostOption func(*Host)

// WithLogger routes the host's transition log to l.
func WithLogger(l *log.Logger) HostOption {
	return func(h *Host) {
		if l != nil {
			h.logger = l
		}
	}
}

func NewHost(c Constants, opts ...HostOption) (*Host, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	h := &Host{
		c:         c,
		instances: make(map[uint64]*Instance),
		logger:    log.New(ioutil.Discard, "", 0),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

func (h *Host) ID() int               { return h.c.ID }
func (h *Host) Constants() Constants { return h.c }

func (h *Host) logf(format string, args ...interface{}) {
	h.logger.Printf("[host %d] "+format, append([]interface{}{h.c.ID}, args...)...)
}

// InitRequest creates the instance for key with the host's placeholder
// value as its candidate.
func (h *Host) InitRequest(key uint64) bool {
	return h.Submit(key, HostValue(h.c.ID))
}

// Submit creates the instance for key, proposing v if this host ends up
// choosing the value. It is disabled if the instance already exists.
func (h *Host) Submit(key uint64, v Value) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.instances[key]; ok {
		return false
	}
	h.instances[key] = newInstance(key, v)
	h.logf("init_request key=%d candidate=%q", key, v)
	return true
}

// SetCandidate replaces the candidate of an existing instance with v, as
// long as this host has neither proposed a value for key nor decided it.
func (h *Host) SetCandidate(key uint64, v Value) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	in, ok := h.instances[key]
	if !ok || !in.setCandidate(v) {
		return false
	}
	h.logf("set_candidate key=%d candidate=%q", key, v)
	return true
}

func (h *Host) SendPrepare(net Network, key uint64) bool {
	return h.proposerStep(net, key, ActionSendPrepare, (*Instance).sendPrepare)
}

func (h *Host) SendAccept(net Network, key uint64) bool {
	return h.proposerStep(net, key, ActionSendAccept, (*Instance).sendAccept)
}

// SendDecide does not mutate the instance and stays enabled once a round has
// an accept quorum.
func (h *Host) SendDecide(net Network, key uint64) bool {
	return h.proposerStep(net, key, ActionSendDecide, (*Instance).sendDecide)
}

func (h *Host) proposerStep(net Network, key uint64, a Action, step func(*Instance, Constants) (Message, bool)) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	in, ok := h.instances[key]
	if !ok {
		return false
	}
	m, ok := step(in, h.c)
	if !ok {
		return false
	}
	net.Send(m)
	h.logf("%s -> %s", a, m)
	return true
}

// Promise answers a Prepare with a strictly greater ballot.
func (h *Host) Promise(net Network, m Message) bool {
	return h.replyStep(net, m, KindPrepare, ActionPromise, (*Instance).promise)
}

// Accept applies an Accept whose ballot is at least the current ballot.
func (h *Host) Accept(net Network, m Message) bool {
	return h.replyStep(net, m, KindAccept, ActionAccept, (*Instance).accept)
}

func (h *Host) replyStep(net Network, m Message, kind Kind, a Action, step func(*Instance, Constants, Message) (Message, bool)) bool {
	if m.Kind != kind {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	in, ok := h.instances[m.Key]
	if !ok || !net.Recv(m) {
		return false
	}
	reply, ok := step(in, h.c, m)
	if !ok {
		return false
	}
	net.Send(reply)
	h.logf("%s %s -> %s", a, m, reply)
	return true
}

func (h *Host) Promised(net Network, m Message) bool {
	return h.recvStep(net, m, KindPromise, ActionPromised, (*Instance).promisedBy)
}

func (h *Host) Accepted(net Network, m Message) bool {
	return h.recvStep(net, m, KindAccepted, ActionAccepted, (*Instance).acceptedBy)
}

func (h *Host) Decide(net Network, m Message) bool {
	return h.recvStep(net, m, KindDecide, ActionDecide, (*Instance).decide)
}

func (h *Host) recvStep(net Network, m Message, kind Kind, a Action, step func(*Instance, Message) bool) bool {
	if m.Kind != kind {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	in, ok := h.instances[m.Key]
	if !ok || !net.Recv(m) {
		return false
	}
	if !step(in, m) {
		return false
	}
	h.logf("%s %s", a, m)
	return true
}

// Deliver fires the receive action matching m's kind.
func (h *Host) Deliver(net Network, m Message) bool {
	switch m.Kind {
	case KindPrepare:
		return h.Promise(net, m)
	case KindPromise:
		return h.Promised(net, m)
	case KindAccept:
		return h.Accept(net, m)
	case KindAccepted:
		return h.Accepted(net, m)
	case KindDecide:
		return h.Decide(net, m)
	}
	return false
}

// Instance returns a copy of the state held for key.
func (h *Host) Instance(key uint64) (InstanceState, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	in, ok := h.instances[key]
	if !ok {
		return InstanceState{}, false
	}
	return in.snapshot(), true
}

// Decided returns the value this host learned for key.
func (h *Host) Decided(key uint64) (Value, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	in, ok := h.instances[key]
	if !ok || in.decideValue == nil {
		return "", false
	}
	return *in.decideValue, true
}

// Keys lists the instances this host has created, in ascending order.
func (h *Host) Keys() []uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	keys := make([]uint64, 0, len(h.instances))
	for k := range h.instances {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// CurrentKey is the log slot a driver walking instances in order is on.
func (h *Host) CurrentKey() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cursor
}

// NextInstance moves the cursor to the next slot. It returns false once the
// key space is exhausted.
func (h *Host) NextInstance() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cursor == math.MaxUint64 {
		return false
	}
	h.cursor++
	return true
}
