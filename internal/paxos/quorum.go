package paxos

import (
	"errors"
	"fmt"
)

// Constants is a host's fixed identity and cluster configuration.
type Constants struct {
	ID          int `json:"id"`
	NumHosts    int `json:"num_hosts"`
	NumFailures int `json:"num_failures"`
}

var ErrMalformedConstants = errors.New("malformed constants")

// NewConstants returns the constants for host id in a cluster that tolerates
// numFailures failures, i.e. 2*numFailures+1 hosts.
func NewConstants(id, numFailures int) (Constants, error) {
	c := Constants{ID: id, NumHosts: 2*numFailures + 1, NumFailures: numFailures}
	return c, c.Validate()
}

func (c Constants) Validate() error {
	if c.NumFailures <= 0 {
		return fmt.Errorf("%w: num_failures must be positive (%d)", ErrMalformedConstants, c.NumFailures)
	}
	if c.NumHosts != 2*c.NumFailures+1 {
		return fmt.Errorf("%w: num_hosts %d != 2*%d+1", ErrMalformedConstants, c.NumHosts, c.NumFailures)
	}
	if c.ID < 0 || c.ID >= c.NumHosts {
		return fmt.Errorf("%w: id %d not in [0,%d)", ErrMalformedConstants, c.ID, c.NumHosts)
	}
	return nil
}

// IsQuorum reports whether n distinct hosts form a quorum, that is a strict
// majority of the 2f+1 hosts.
func (c Constants) IsQuorum(n int) bool {
	return n > c.NumFailures
}

// MaxAcceptedValue picks the value paired with the greatest ballot among the
// prior acceptances reported in a set of promise responses. found is false
// when no responder reported an acceptance; the caller then proposes its
// own value.
//
// Equal ballots always carry equal values, so the result does not depend on
// map iteration order.
func MaxAcceptedValue(responses map[int]*Vote) (value Value, found bool) {
	var best Vote
	for _, prior := range responses {
		if prior == nil {
			continue
		}
		if !found || Compare(prior.Ballot, best.Ballot) > 0 {
			best = *prior
			found = true
		}
	}
	return best.Value, found
}
