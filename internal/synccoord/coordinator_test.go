package synccoord

import (
	"context"
	"testing"
	"time"
)

func TestSoleParticipantIsLead(t *testing.T) {
	c := NewCoordinator(DefaultConfig("host-a"), nil)
	c.recomputeLead()
	if !c.IsLead() {
		t.Fatal("expected sole participant to be lead")
	}
}

func TestLowestIDWinsLead(t *testing.T) {
	cfgA := DefaultConfig("host-b")
	cfgB := DefaultConfig("host-a")
	a := NewCoordinator(cfgA, nil)
	b := NewCoordinator(cfgB, nil)

	a.members["host-a"] = newMember("host-a")
	b.members["host-b"] = newMember("host-b")

	a.recomputeLead()
	b.recomputeLead()

	if a.IsLead() {
		t.Fatal("host-b should not be lead when host-a is alive")
	}
	if !b.IsLead() {
		t.Fatal("host-a should be lead (lowest id)")
	}
}

func TestSuspectMemberExcludedFromElection(t *testing.T) {
	c := NewCoordinator(DefaultConfig("host-b"), nil)
	c.members["host-a"] = newMember("host-a")
	c.recomputeLead()
	if c.IsLead() {
		t.Fatal("host-b should not be lead while host-a is alive")
	}

	c.members["host-a"].SetState(StateSuspect, 1)
	c.recomputeLead()
	if !c.IsLead() {
		t.Fatal("host-b should become lead once host-a is suspect")
	}
}

func TestOnLeadChangeFiresOnTransition(t *testing.T) {
	changes := make(chan bool, 4)
	c := NewCoordinator(DefaultConfig("host-b"), func(isLead bool) { changes <- isLead })
	c.members["host-a"] = newMember("host-a")
	c.recomputeLead()

	c.members["host-a"].SetState(StateLeft, 1)
	c.recomputeLead()

	select {
	case isLead := <-changes:
		if !isLead {
			t.Fatal("expected transition to lead=true")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for lead change callback")
	}
}

func TestServeRespondsToCancellation(t *testing.T) {
	c := NewCoordinator(DefaultConfig("host-a"), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Serve(ctx) }()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after context cancellation")
	}
}
