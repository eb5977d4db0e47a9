package paxos

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestMessageValidate(t *testing.T) {
	b := Ballot{Num: 1, Pid: 0}
	tests := []struct {
		name string
		m    Message
		ok   bool
	}{
		{"prepare", NewPrepare(0, b), true},
		{"promise with prior", NewPromise(0, 2, Ballot{2, 1}, vote(1, 0, "v")), true},
		{"accepted", NewAccepted(3, 1, b), true},
		{"decide", NewDecide(3, b, "v"), true},
		{"unknown kind", Message{Kind: 42, Ballot: b}, false},
		{"zero kind", Message{Ballot: b}, false},
		{"pid out of range", NewPrepare(0, Ballot{1, 3}), false},
		{"negative pid", NewAccept(0, Ballot{1, -1}, "v"), false},
		{"unissued ballot", NewPrepare(0, Ballot{0, 1}), false},
		{"sender out of range", NewAccepted(0, 7, b), false},
		{"prior out of range", NewPromise(0, 0, b, vote(1, 9, "v")), false},
		{"prior without flag", Message{Kind: KindPromise, Ballot: b, Prior: *vote(1, 0, "v")}, false},
	}
	for _, tt := range tests {
		err := tt.m.Validate(3)
		if (err == nil) != tt.ok {
			t.Errorf("%s: Validate = %v, want ok=%v", tt.name, err, tt.ok)
		}
		if err != nil && !errors.Is(err, ErrMalformedMessage) {
			t.Errorf("%s: error %v does not wrap ErrMalformedMessage", tt.name, err)
		}
	}
}

func TestMessageRouting(t *testing.T) {
	b := Ballot{Num: 2, Pid: 1}
	for _, m := range []Message{NewPrepare(0, b), NewAccept(0, b, "v"), NewDecide(0, b, "v")} {
		if !m.Broadcast() {
			t.Errorf("%s should be broadcast", m)
		}
	}
	for _, m := range []Message{NewPromise(0, 2, b, nil), NewAccepted(0, 2, b)} {
		if m.Broadcast() || m.Destination() != 1 {
			t.Errorf("%s should be addressed to host 1", m)
		}
	}
}

func TestPromiseWireForm(t *testing.T) {
	raw := `{"kind":2,"key":7,"sender":1,"ballot":{"num":3,"pid":2},"has_prior":true,"prior":{"ballot":{"num":1,"pid":0},"value":"x"}}`
	var m Message
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		t.Fatal(err)
	}
	want := NewPromise(7, 1, Ballot{3, 2}, vote(1, 0, "x"))
	if m != want {
		t.Fatalf("decoded %s, want %s", m, want)
	}
	if prior, ok := m.PriorVote(); !ok || prior.Value != "x" {
		t.Fatalf("PriorVote = %v, %v", prior, ok)
	}
}
