package server

import (
	"encoding/json"
	"io/ioutil"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"cs.umass.edu/synod/internal/paxos"
)

// handleMessage receives one protocol message. Malformed messages are
// dropped with 400; everything else is queued for the node's loop.
func handleMessage(n *Node) gin.HandlerFunc {
	return func(c *gin.Context) {
		payload, err := ioutil.ReadAll(c.Request.Body)
		if err != nil {
			n.logf("failed to read message: %v", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read message"})
			return
		}
		var m paxos.Message
		if err := json.Unmarshal(payload, &m); err != nil {
			n.logf("failed to parse message: %v", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "failed to parse message"})
			return
		}
		if err := m.Validate(len(n.cfg.Peers)); err != nil {
			n.logf("dropping %s: %v", m, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if !n.enqueue(m) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "node stopped"})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"queued": m.Kind.String()})
	}
}

func parseKey(c *gin.Context) (uint64, bool) {
	key, err := strconv.ParseUint(c.Param("key"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid instance key"})
		return 0, false
	}
	return key, true
}

func handleInstance(n *Node) gin.HandlerFunc {
	return func(c *gin.Context) {
		key, ok := parseKey(c)
		if !ok {
			return
		}
		st, ok := n.host.Instance(key)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown instance"})
			return
		}
		c.JSON(http.StatusOK, st)
	}
}

// Decision is what a node knows about the outcome of an instance. Applied
// is true when the host's own learner state holds the value; otherwise the
// value comes from a Decide this node received but could not apply.
type Decision struct {
	Key     uint64       `json:"key"`
	Value   paxos.Value  `json:"value"`
	Ballot  paxos.Ballot `json:"ballot"`
	Applied bool         `json:"applied"`
}

func handleDecided(n *Node) gin.HandlerFunc {
	return func(c *gin.Context) {
		key, ok := parseKey(c)
		if !ok {
			return
		}
		d, ok := n.Decision(key)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "not decided"})
			return
		}
		c.JSON(http.StatusOK, d)
	}
}
