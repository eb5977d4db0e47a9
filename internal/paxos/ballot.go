package paxos

import (
	"fmt"
	"math"
)

// Ballot ranks competing proposals for one instance. Ballots are ordered by
// Num first, then by Pid. A proposer only ever issues ballots carrying its
// own id as Pid, so two hosts never create the same ballot.
type Ballot struct {
	Num uint64 `json:"num"`
	Pid int    `json:"pid"`
}

// ZeroBallot is the ballot every instance starts from.
var ZeroBallot = Ballot{}

// Compare returns -1 if a < b, 0 if a == b and 1 if a > b.
func Compare(a, b Ballot) int {
	switch {
	case a.Num < b.Num:
		return -1
	case a.Num > b.Num:
		return 1
	case a.Pid < b.Pid:
		return -1
	case a.Pid > b.Pid:
		return 1
	}
	return 0
}

func (b Ballot) Less(other Ballot) bool    { return Compare(b, other) < 0 }
func (b Ballot) Greater(other Ballot) bool { return Compare(b, other) > 0 }
func (b Ballot) IsZero() bool              { return b == ZeroBallot }

// Next returns the next ballot pid would issue after b. ok is false when the
// round counter is exhausted.
func (b Ballot) Next(pid int) (next Ballot, ok bool) {
	if b.Num == math.MaxUint64 {
		return Ballot{}, false
	}
	return Ballot{Num: b.Num + 1, Pid: pid}, true
}

func (b Ballot) String() string {
	return fmt.Sprintf("(%d,%d)", b.Num, b.Pid)
}
