package paxos

// Network is the channel hosts communicate through. Send never fails. Recv
// reports whether m has ever been sent, which is the precondition for any
// host to act on it. A message may be received any number of times and in
// any order.
type Network interface {
	Send(m Message)
	Recv(m Message) bool
}
