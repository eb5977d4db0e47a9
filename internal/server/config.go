package server

import (
	"errors"
	"fmt"
	"io/ioutil"
	"log"
	"net/url"
	"time"
)

// Config describes one node of a synod cluster.
type Config struct {
	// ID is this node's host id, an index into Peers.
	ID          int
	NumFailures int
	// Peers holds the base URL of every node, this one included, indexed by
	// host id.
	Peers []string

	// Timeout bounds each outbound message post.
	Timeout time.Duration
	// QueueSize is the capacity of the inbound message queue.
	QueueSize int
	// Retries is how many times a failed post is retried, with a linearly
	// growing RetryDelay between attempts. Negative disables retries.
	Retries    int
	RetryDelay time.Duration

	Logger *log.Logger
}

var ErrBadConfig = errors.New("bad node config")

func (c *Config) setDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 2 * time.Second
	}
	if c.QueueSize == 0 {
		c.QueueSize = 1024
	}
	if c.Retries == 0 {
		c.Retries = 3
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 100 * time.Millisecond
	}
	if c.Logger == nil {
		c.Logger = log.New(ioutil.Discard, "", 0)
	}
}

func (c Config) Validate() error {
	if c.NumFailures <= 0 {
		return fmt.Errorf("%w: failures must be positive (%d)", ErrBadConfig, c.NumFailures)
	}
	if want := 2*c.NumFailures + 1; len(c.Peers) != want {
		return fmt.Errorf("%w: %d peers given, %d failures need %d", ErrBadConfig, len(c.Peers), c.NumFailures, want)
	}
	if c.ID < 0 || c.ID >= len(c.Peers) {
		return fmt.Errorf("%w: id %d out of range", ErrBadConfig, c.ID)
	}
	for i, p := range c.Peers {
		if _, err := url.ParseRequestURI(p); err != nil {
			return fmt.Errorf("%w: peer %d: %v", ErrBadConfig, i, err)
		}
	}
	return nil
}

// LocalPeers returns n peer URLs on 127.0.0.1 starting at basePort.
func LocalPeers(basePort, n int) []string {
	peers := make([]string, n)
	for i := range peers {
		peers[i] = fmt.Sprintf("http://127.0.0.1:%d", basePort+i)
	}
	return peers
}
