package models

import "testing"

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to TaskStatus }{
		{TaskPending, TaskInProgress},
		{TaskPending, TaskBlocked},
		{TaskPending, TaskCancelled},
		{TaskInProgress, TaskDone},
		{TaskInProgress, TaskBlocked},
		{TaskInProgress, TaskCancelled},
		{TaskBlocked, TaskInProgress},
		{TaskBlocked, TaskCancelled},
		{TaskPending, TaskPending},
	}
	for _, tc := range allowed {
		if !CanTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be allowed", tc.from, tc.to)
		}
	}

	denied := []struct{ from, to TaskStatus }{
		{TaskPending, TaskDone},
		{TaskBlocked, TaskDone},
		{TaskDone, TaskPending},
		{TaskDone, TaskCancelled},
		{TaskCancelled, TaskInProgress},
		{TaskCancelled, TaskDone},
	}
	for _, tc := range denied {
		if CanTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be denied", tc.from, tc.to)
		}
	}
}

func TestCompatible(t *testing.T) {
	cases := []struct {
		agent, task ExecutionMode
		want        bool
	}{
		{ModeAny, ModeRepo, true},
		{ModeRepo, ModeAny, true},
		{ModeRepo, ModeRepo, true},
		{ModeIsolated, ModeIsolated, true},
		{ModeIsolated, ModeRepo, false},
		{ModeRepo, ModeIsolated, false},
	}
	for _, tc := range cases {
		if got := Compatible(tc.agent, tc.task); got != tc.want {
			t.Errorf("Compatible(%s, %s) = %v, want %v", tc.agent, tc.task, got, tc.want)
		}
	}
}

func TestPriorityRank(t *testing.T) {
	if PriorityCritical.Rank() <= PriorityHigh.Rank() {
		t.Error("critical must outrank high")
	}
	if PriorityHigh.Rank() <= PriorityMedium.Rank() {
		t.Error("high must outrank medium")
	}
	if PriorityMedium.Rank() <= PriorityLow.Rank() {
		t.Error("medium must outrank low")
	}
}

func TestClaimLive(t *testing.T) {
	c := &Claim{LeaseExpiresAt: 1000}
	if !c.Live(999) {
		t.Error("claim should be live before expiry")
	}
	if c.Live(1000) {
		t.Error("claim should be dead at expiry")
	}
	var nilClaim *Claim
	if nilClaim.Live(0) {
		t.Error("nil claim is never live")
	}
}
