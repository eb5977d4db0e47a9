package network

import (
	"reflect"
	"sync"
	"testing"

	"cs.umass.edu/synod/internal/paxos"
)

func TestSendRecv(t *testing.T) {
	n := NewInFlight()
	m := paxos.NewPrepare(1, paxos.Ballot{Num: 1, Pid: 0})
	if n.Recv(m) {
		t.Fatal("recv before send")
	}
	n.Send(m)
	n.Send(m)
	if !n.Recv(m) || !n.Recv(m) {
		t.Fatal("a sent message must stay receivable")
	}
	if n.Len() != 1 {
		t.Fatalf("Len = %d, duplicates must collapse", n.Len())
	}
	if n.Add(m) {
		t.Fatal("Add reported an existing message as new")
	}
}

func TestMessagesDeterministic(t *testing.T) {
	b1 := paxos.Ballot{Num: 1, Pid: 0}
	b2 := paxos.Ballot{Num: 2, Pid: 1}
	msgs := []paxos.Message{
		paxos.NewDecide(1, b1, "v"),
		paxos.NewAccepted(0, 2, b2),
		paxos.NewPromise(0, 1, b2, &paxos.Vote{Ballot: b1, Value: "v"}),
		paxos.NewPromise(0, 1, b2, nil),
		paxos.NewPrepare(0, b1),
	}
	n := NewInFlight()
	for _, m := range msgs {
		n.Send(m)
	}
	first := n.Messages()
	for i := 0; i < 20; i++ {
		if got := n.Messages(); !reflect.DeepEqual(got, first) {
			t.Fatalf("snapshot order changed: %v vs %v", got, first)
		}
	}
	if first[0] != paxos.NewPrepare(0, b1) {
		t.Fatalf("first = %s", first[0])
	}
	if got := n.OfKind(paxos.KindPromise); len(got) != 2 || got[0].HasPrior {
		t.Fatalf("OfKind(promise) = %v", got)
	}
}

func TestConcurrentSend(t *testing.T) {
	n := NewInFlight()
	var wg sync.WaitGroup
	for pid := 0; pid < 8; pid++ {
		wg.Add(1)
		go func(pid int) {
			defer wg.Done()
			for num := uint64(1); num <= 100; num++ {
				m := paxos.NewPrepare(0, paxos.Ballot{Num: num, Pid: pid})
				n.Send(m)
				if !n.Recv(m) {
					t.Errorf("lost %s", m)
				}
			}
		}(pid)
	}
	wg.Wait()
	if n.Len() != 800 {
		t.Fatalf("Len = %d", n.Len())
	}
}
