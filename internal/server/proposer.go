package server

import (
	"bytes"
	"encoding/json"
	"io/ioutil"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"cs.umass.edu/synod/internal/network"
	"cs.umass.edu/synod/internal/paxos"
)

// ProposeRequest is the optional body of POST /propose/:key.
type ProposeRequest struct {
	Value *paxos.Value `json:"value"`
}

type ProposeResponse struct {
	Key     uint64       `json:"key"`
	Started bool         `json:"started"`
	Decided *paxos.Value `json:"decided,omitempty"`
	Error   string       `json:"error,omitempty"`
}

// handlePropose starts a new round for the instance. The round runs
// asynchronously; clients poll /decided/:key for the outcome.
func handlePropose(n *Node) gin.HandlerFunc {
	return func(c *gin.Context) {
		key, err := strconv.ParseUint(c.Param("key"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, ProposeResponse{Error: "invalid instance key"})
			return
		}

		var req ProposeRequest
		payload, err := ioutil.ReadAll(c.Request.Body)
		if err != nil {
			n.logf("failed to read propose request: %v", err)
			c.JSON(http.StatusBadRequest, ProposeResponse{Key: key, Error: "failed to read request"})
			return
		}
		if len(bytes.TrimSpace(payload)) > 0 {
			if err := json.Unmarshal(payload, &req); err != nil {
				c.JSON(http.StatusBadRequest, ProposeResponse{Key: key, Error: "failed to parse request"})
				return
			}
		}

		err = n.Propose(key, req.Value)
		if err == nil {
			c.JSON(http.StatusAccepted, ProposeResponse{Key: key, Started: true})
			return
		}

		resp := ProposeResponse{Key: key, Error: err.Error()}
		if v, ok := n.host.Decided(key); ok {
			resp.Decided = &v
			resp.Error = ""
		}
		c.JSON(http.StatusConflict, resp)
	}
}

// Sender fans messages out to peers over HTTP. Broadcast messages go to
// every node, replies only to the proposer owning the ballot. Each distinct
// message is handed to the wire once; a failed post is retried a bounded
// number of times and then dropped.
type Sender struct {
	self   int
	peers  []string
	client *http.Client
	local  func(paxos.Message)
	sent   *network.InFlight
	logger *log.Logger

	retries    int
	retryDelay time.Duration

	wg      sync.WaitGroup
	closing chan struct{}
	once    sync.Once
}

func newSender(cfg Config, local func(paxos.Message)) *Sender {
	return &Sender{
		self:       cfg.ID,
		peers:      cfg.Peers,
		client:     &http.Client{Timeout: cfg.Timeout},
		local:      local,
		sent:       network.NewInFlight(),
		logger:     cfg.Logger,
		retries:    cfg.Retries,
		retryDelay: cfg.RetryDelay,
		closing:    make(chan struct{}),
	}
}

func (s *Sender) Send(m paxos.Message) {
	if !s.sent.Add(m) {
		return
	}
	if !m.Broadcast() {
		s.deliver(m.Destination(), m)
		return
	}
	for id := range s.peers {
		s.deliver(id, m)
	}
}

// deliver never blocks: Send is called from inside a host action.
func (s *Sender) deliver(id int, m paxos.Message) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if id == s.self {
			s.local(m)
			return
		}
		s.post(id, m)
	}()
}

func (s *Sender) post(id int, m paxos.Message) {
	body, err := json.Marshal(m)
	if err != nil {
		s.logger.Printf("[host %d] failed to encode %s: %v", s.self, m, err)
		return
	}
	endpoint := strings.TrimRight(s.peers[id], "/") + "/message"
	for attempt := 1; ; attempt++ {
		if !s.postOnce(id, endpoint, body, m) {
			return
		}
		if attempt > s.retries {
			// dropped on the wire, the protocol only relies on never acting
			// on a message it did not receive
			s.logger.Printf("[host %d] giving up on %s to host %d after %d attempts", s.self, m, id, attempt)
			return
		}
		select {
		case <-time.After(s.retryDelay * time.Duration(attempt)):
		case <-s.closing:
			return
		}
	}
}

// postOnce reports whether the post failed in a way worth retrying.
func (s *Sender) postOnce(id int, endpoint string, body []byte, m paxos.Message) bool {
	resp, err := s.client.Post(endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		s.logger.Printf("[host %d] failed to send %s to host %d: %v", s.self, m, id, err)
		return true
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusAccepted:
		return false
	case resp.StatusCode >= http.StatusInternalServerError:
		s.logger.Printf("[host %d] host %d unavailable for %s: %s", s.self, id, m, resp.Status)
		return true
	}
	s.logger.Printf("[host %d] host %d refused %s: %s", s.self, id, m, resp.Status)
	return false
}

// Close stops pending retries and waits for outstanding sends.
func (s *Sender) Close() {
	s.once.Do(func() { close(s.closing) })
	s.wg.Wait()
}

// Sent returns the distinct messages this node has sent.
func (s *Sender) Sent() []paxos.Message { return s.sent.Messages() }
