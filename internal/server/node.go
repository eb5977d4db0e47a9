// Package server runs one synod host as an HTTP node. Every node is
// proposer, acceptor and learner; nodes exchange protocol messages as JSON
// over POST /message.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"cs.umass.edu/synod/internal/network"
	"cs.umass.edu/synod/internal/paxos"
)

// Node owns one host. Inbound messages are recorded in the inbox, which is
// the host's view of the network, and applied one at a time by the node's
// loop.
type Node struct {
	cfg   Config
	host  *paxos.Host
	inbox *network.InFlight
	out   *Sender
	link  link

	queue   chan paxos.Message
	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	done    chan struct{}
}

// link is the host's Network: receipt is membership in the inbox, sending
// goes through the fan-out sender.
type link struct {
	inbox *network.InFlight
	out   *Sender
}

func (l link) Send(m paxos.Message)      { l.out.Send(m) }
func (l link) Recv(m paxos.Message) bool { return l.inbox.Recv(m) }

func NewNode(cfg Config) (*Node, error) {
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c, err := paxos.NewConstants(cfg.ID, cfg.NumFailures)
	if err != nil {
		return nil, err
	}
	host, err := paxos.NewHost(c, paxos.WithLogger(cfg.Logger))
	if err != nil {
		return nil, err
	}
	n := &Node{
		cfg:    cfg,
		host:   host,
		inbox:  network.NewInFlight(),
		queue:  make(chan paxos.Message, cfg.QueueSize),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	n.out = newSender(cfg, func(m paxos.Message) { n.enqueue(m) })
	n.link = link{inbox: n.inbox, out: n.out}
	return n, nil
}

func (n *Node) ID() int           { return n.cfg.ID }
func (n *Node) Host() *paxos.Host { return n.host }

func (n *Node) logf(format string, args ...interface{}) {
	n.cfg.Logger.Printf("[host %d] "+format, append([]interface{}{n.cfg.ID}, args...)...)
}

// Start runs the node's message loop until Stop is called.
func (n *Node) Start() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.started {
		return
	}
	n.started = true
	go n.loop()
}

// Stop ends the message loop and waits for in-flight sends to finish.
func (n *Node) Stop() {
	n.mu.Lock()
	select {
	case <-n.stopCh:
		n.mu.Unlock()
		return
	default:
		close(n.stopCh)
	}
	started := n.started
	n.mu.Unlock()
	if started {
		<-n.done
	}
	n.out.Close()
}

func (n *Node) enqueue(m paxos.Message) bool {
	n.inbox.Send(m)
	select {
	case n.queue <- m:
		return true
	case <-n.stopCh:
		return false
	}
}

func (n *Node) loop() {
	defer close(n.done)
	for {
		select {
		case <-n.stopCh:
			return
		case m := <-n.queue:
			n.handle(m)
		}
	}
}

// handle applies one delivered message and then lets the proposer side
// react to it.
func (n *Node) handle(m paxos.Message) {
	if m.Broadcast() {
		// acceptors and learners hear of an instance from its first
		// Prepare, Accept or Decide; replies for unknown keys are dropped
		n.host.InitRequest(m.Key)
	}
	if !n.host.Deliver(n.link, m) {
		return
	}
	switch m.Kind {
	case paxos.KindPromise:
		n.host.SendAccept(n.link, m.Key)
	case paxos.KindAccepted:
		n.host.SendDecide(n.link, m.Key)
	}
}

var (
	ErrValueFixed = errors.New("instance already has a proposed value on this host")
	ErrNotStarted = errors.New("please try again later")
)

// Propose starts a round for key. value, if not nil, becomes this node's
// candidate. That is refused with ErrValueFixed once the node has proposed
// a value for key or learned its decision.
func (n *Node) Propose(key uint64, value *paxos.Value) error {
	if value == nil {
		n.host.InitRequest(key)
	} else if !n.host.Submit(key, *value) && !n.host.SetCandidate(key, *value) {
		return ErrValueFixed
	}
	if !n.host.SendPrepare(n.link, key) {
		return ErrNotStarted
	}
	return nil
}

// Decision reports the value decided for key. The host's own decide_value
// wins; failing that, the highest Decide in the inbox is reported, since a
// Decide is only ever sent for a value a quorum accepted.
func (n *Node) Decision(key uint64) (Decision, bool) {
	if st, ok := n.host.Instance(key); ok && st.Decided != nil {
		return Decision{Key: key, Value: *st.Decided, Ballot: *st.DecidedAt, Applied: true}, true
	}
	decides := n.inbox.Filter(func(m paxos.Message) bool {
		return m.Kind == paxos.KindDecide && m.Key == key
	})
	if len(decides) == 0 {
		return Decision{}, false
	}
	last := decides[len(decides)-1]
	return Decision{Key: key, Value: last.Value, Ballot: last.Ballot}, true
}

// Handler returns the node's HTTP API.
func (n *Node) Handler() http.Handler {
	e := gin.New()
	e.Use(gin.Recovery())
	e.Use(gin.Logger())

	e.POST("/message", handleMessage(n))
	e.POST("/propose/:key", handlePropose(n))
	e.GET("/instances/:key", handleInstance(n))
	e.GET("/decided/:key", handleDecided(n))

	return e
}

// ListenAndServe serves the node's API on addr until ctx is done.
func (n *Node) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      n.Handler(),
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
	}
	n.Start()
	defer n.Stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
