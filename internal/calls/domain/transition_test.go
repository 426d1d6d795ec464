package domain

import (
	"math/rand"
	"testing"
	"time"
)

func TestDecideTable(t *testing.T) {
	cases := []struct {
		name    string
		kind    Kind
		exists  bool
		current Status
		want    Transition
	}{
		{"start creates", KindStarted, false, "", Transition{OutcomeCreated, StatusRinging}},
		{"start duplicate", KindStarted, true, StatusInProgress, Transition{Outcome: OutcomeDuplicate}},
		{"answer ringing", KindAnswered, true, StatusRinging, Transition{OutcomeAnswered, StatusInProgress}},
		{"answer twice", KindAnswered, true, StatusInProgress, Transition{Outcome: OutcomeDuplicate}},
		{"answer after end", KindAnswered, true, StatusCompleted, Transition{Outcome: OutcomeDuplicate}},
		{"answer missing", KindAnswered, false, "", Transition{Outcome: OutcomeNotFound}},
		{"hold in progress", KindHeld, true, StatusInProgress, Transition{Outcome: OutcomeHeld}},
		{"unhold in progress", KindUnheld, true, StatusInProgress, Transition{Outcome: OutcomeUnheld}},
		{"hold ringing", KindHeld, true, StatusRinging, Transition{Outcome: OutcomeIgnored}},
		{"hold missing", KindHeld, false, "", Transition{Outcome: OutcomeNotFound}},
		{"end ringing", KindEnded, true, StatusRinging, Transition{OutcomeCompleted, StatusCompleted}},
		{"end in progress", KindEnded, true, StatusInProgress, Transition{OutcomeCompleted, StatusCompleted}},
		{"end twice", KindEnded, true, StatusCompleted, Transition{Outcome: OutcomeDuplicate}},
		{"end missing", KindEnded, false, "", Transition{Outcome: OutcomeNotFound}},
		{"unknown", KindUnknown, true, StatusRinging, Transition{Outcome: OutcomeIgnored}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Decide(tc.kind, tc.exists, tc.current)
			if got != tc.want {
				t.Fatalf("expected %+v, got %+v", tc.want, got)
			}
		})
	}
}

// Applying random event sequences must never lower the status rank.
func TestDecideNeverRegresses(t *testing.T) {
	kinds := []Kind{KindStarted, KindAnswered, KindHeld, KindUnheld, KindEnded, KindUnknown}
	rng := rand.New(rand.NewSource(42))

	for run := 0; run < 500; run++ {
		exists := false
		var current Status
		for step := 0; step < 12; step++ {
			tr := Decide(kinds[rng.Intn(len(kinds))], exists, current)
			if !tr.Mutates() {
				continue
			}
			if exists && tr.Next.Rank() <= current.Rank() {
				t.Fatalf("run %d step %d: %s -> %s regresses", run, step, current, tr.Next)
			}
			exists = true
			current = tr.Next
		}
	}
}

func TestCallDuration(t *testing.T) {
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	answered := created.Add(5 * time.Second)
	ended := created.Add(65 * time.Second)
	reported := 42
	negative := -3

	if got := CallDuration(&reported, created, &answered, ended); got != 42 {
		t.Fatalf("reported duration should win, got %d", got)
	}
	if got := CallDuration(nil, created, &answered, ended); got != 60 {
		t.Fatalf("expected 60s from answer, got %d", got)
	}
	if got := CallDuration(nil, created, nil, ended); got != 65 {
		t.Fatalf("expected 65s from creation, got %d", got)
	}
	if got := CallDuration(&negative, created, nil, ended); got != 0 {
		t.Fatalf("negative duration must clamp to 0, got %d", got)
	}
	if got := CallDuration(nil, created, nil, created.Add(-time.Second)); got != 0 {
		t.Fatalf("clock skew must clamp to 0, got %d", got)
	}
}
