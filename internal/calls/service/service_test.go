package service

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"agency_calls_backend/internal/calls/domain"
	"agency_calls_backend/internal/calls/normalizer"
	"agency_calls_backend/internal/calls/ports"
	"agency_calls_backend/internal/transcripts"
	"agency_calls_backend/platform/apperr"
	"agency_calls_backend/platform/logger"

	"github.com/google/uuid"
)

var t0 = time.Date(2026, 6, 10, 9, 0, 0, 0, time.UTC)

type harness struct {
	svc       *Service
	store     *fakeStore
	directory *fakeDirectory
	bus       *recordingBus
	norm      *normalizer.Normalizer
	tenant    uuid.UUID
}

func newHarness() *harness {
	h := &harness{
		store:     newFakeStore(),
		directory: &fakeDirectory{},
		bus:       &recordingBus{},
		norm:      normalizer.New(nil),
		tenant:    uuid.New(),
	}
	h.svc = New(h.store, h.directory, h.bus, transcripts.DefaultSchedule(), logger.Discard())
	h.svc.now = func() time.Time { return t0 }
	return h
}

func (h *harness) apply(t *testing.T, payload normalizer.Payload, at time.Time) (Result, error) {
	t.Helper()
	return h.svc.HandleEvent(context.Background(), h.tenant, h.norm.Normalize(payload, at))
}

func (h *harness) mustApply(t *testing.T, payload normalizer.Payload, at time.Time) Result {
	t.Helper()
	res, err := h.apply(t, payload, at)
	if err != nil {
		t.Fatalf("apply %v: %v", payload, err)
	}
	return res
}

func TestC1LifecycleProducesOneCompletedCallAndOneJob(t *testing.T) {
	h := newHarness()
	agentID := uuid.New()
	customerID := uuid.New()
	h.directory.agents = []ports.Agent{{ID: agentID, Extension: "101"}}
	h.directory.addCustomer("205-555-0100", ports.Customer{ID: customerID, Name: "Pat"})

	start := h.mustApply(t, normalizer.Payload{"kind": "call_start", "callId": "C1", "direction": "inbound", "from": "2055550100", "to": "101"}, t0)
	if start.Outcome != domain.OutcomeCreated {
		t.Fatalf("expected created, got %s", start.Outcome)
	}
	answer := h.mustApply(t, normalizer.Payload{"kind": "call_answered", "callId": "C1", "extension": "101"}, t0.Add(5*time.Second))
	if answer.Outcome != domain.OutcomeAnswered {
		t.Fatalf("expected answered, got %s", answer.Outcome)
	}
	end := h.mustApply(t, normalizer.Payload{"kind": "call_end", "callId": "C1", "duration": 42}, t0.Add(47*time.Second))
	if end.Outcome != domain.OutcomeCompleted {
		t.Fatalf("expected completed, got %s", end.Outcome)
	}

	call := h.store.session(h.tenant, "C1")
	if call == nil {
		t.Fatalf("expected a call session")
	}
	if len(h.store.sessions) != 1 {
		t.Fatalf("expected exactly one session, got %d", len(h.store.sessions))
	}
	if call.Status != domain.StatusCompleted {
		t.Fatalf("expected completed, got %s", call.Status)
	}
	if call.DurationSeconds == nil || *call.DurationSeconds != 42 {
		t.Fatalf("expected duration 42, got %v", call.DurationSeconds)
	}
	if call.CustomerID == nil || *call.CustomerID != customerID {
		t.Fatalf("expected customer resolved by ten-digit suffix")
	}
	if call.AgentID == nil || *call.AgentID != agentID {
		t.Fatalf("expected agent resolved on answer")
	}
	if h.store.jobCount() != 1 {
		t.Fatalf("expected one transcript job, got %d", h.store.jobCount())
	}

	job := h.store.jobs[call.ID]
	endedAt := t0.Add(47 * time.Second)
	if !job.NextAttemptAt.Equal(endedAt.Add(30 * time.Second)) {
		t.Fatalf("first attempt should be 30s after the call ended, got %s", job.NextAttemptAt)
	}
	if job.MaxAttempts != 10 {
		t.Fatalf("expected max attempts 10, got %d", job.MaxAttempts)
	}
	if job.CallerNumber != "+12055550100" || job.AgentExtension != "101" {
		t.Fatalf("unexpected job match keys %+v", job)
	}

	want := []string{"calls.call.started", "calls.call.answered", "calls.call.ended"}
	got := h.bus.names()
	if len(got) != len(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected events %v, got %v", want, got)
		}
	}
}

func TestReplayingEachEventTwiceMatchesApplyingOnce(t *testing.T) {
	events := []normalizer.Payload{
		{"event": "ringing", "call_id": "D1", "from": "2055550111"},
		{"event": "connected", "call_id": "D1", "ext": "200"},
		{"event": "hold", "call_id": "D1"},
		{"event": "unhold", "call_id": "D1"},
		{"event": "hangup", "call_id": "D1", "duration": "61"},
	}

	once := newHarness()
	twice := newHarness()
	twice.tenant = once.tenant

	for i, ev := range events {
		at := t0.Add(time.Duration(i) * time.Second)
		once.mustApply(t, ev, at)
		twice.mustApply(t, ev, at)
		res := twice.mustApply(t, ev, at)
		if i != 2 && i != 3 && res.Outcome != domain.OutcomeDuplicate {
			t.Fatalf("replay of event %d should be a duplicate, got %s", i, res.Outcome)
		}
	}

	a := once.store.session(once.tenant, "D1")
	b := twice.store.session(twice.tenant, "D1")
	if a.Status != b.Status || *a.DurationSeconds != *b.DurationSeconds || !a.AnsweredAt.Equal(*b.AnsweredAt) || !a.EndedAt.Equal(*b.EndedAt) {
		t.Fatalf("replayed state differs: %+v vs %+v", a, b)
	}
	if once.store.jobCount() != 1 || twice.store.jobCount() != 1 {
		t.Fatalf("expected one job each, got %d and %d", once.store.jobCount(), twice.store.jobCount())
	}
}

func TestStatusIsMonotonicUnderShuffledDelivery(t *testing.T) {
	base := []normalizer.Payload{
		{"event": "call_start", "call_id": "M1"},
		{"event": "answered", "call_id": "M1"},
		{"event": "hold", "call_id": "M1"},
		{"event": "retrieve", "call_id": "M1"},
		{"event": "call_end", "call_id": "M1"},
		{"event": "answered", "call_id": "M1"},
		{"event": "call_start", "call_id": "M1"},
	}
	rng := rand.New(rand.NewSource(7))

	for run := 0; run < 200; run++ {
		h := newHarness()
		order := rng.Perm(len(base))
		rank := 0
		for step, idx := range order {
			res, err := h.apply(t, base[idx], t0.Add(time.Duration(step)*time.Second))
			if err != nil && !apperr.Is(err, apperr.KindNotFound) {
				t.Fatalf("run %d: unexpected error %v", run, err)
			}
			if res.Outcome == domain.OutcomeNotFound && err == nil {
				t.Fatalf("run %d: not found must carry an error", run)
			}
			call := h.store.session(h.tenant, "M1")
			if call == nil {
				continue
			}
			if call.Status.Rank() < rank {
				t.Fatalf("run %d step %d: status regressed to %s", run, step, call.Status)
			}
			rank = call.Status.Rank()
		}
	}
}

func TestEndedOnRingingCallCompletesAndEnqueues(t *testing.T) {
	h := newHarness()
	h.mustApply(t, normalizer.Payload{"event": "incoming", "call_id": "R1", "from": "2055550100"}, t0)
	res := h.mustApply(t, normalizer.Payload{"event": "disconnected", "call_id": "R1"}, t0.Add(20*time.Second))

	if res.Outcome != domain.OutcomeCompleted {
		t.Fatalf("expected completed, got %s", res.Outcome)
	}
	call := h.store.session(h.tenant, "R1")
	if call.AnsweredAt != nil {
		t.Fatalf("unanswered call must not get an answer time")
	}
	if *call.DurationSeconds != 20 {
		t.Fatalf("expected duration measured from creation, got %d", *call.DurationSeconds)
	}
	if h.store.jobCount() != 1 {
		t.Fatalf("expected a transcript job for the missed call")
	}
}

func TestEventsForUnknownCallsAreNotFound(t *testing.T) {
	h := newHarness()
	for _, kind := range []string{"answered", "hangup", "hold"} {
		res, err := h.apply(t, normalizer.Payload{"event": kind, "call_id": "ghost"}, t0)
		if !apperr.Is(err, apperr.KindNotFound) {
			t.Fatalf("%s: expected not found error, got %v", kind, err)
		}
		if res.Outcome != domain.OutcomeNotFound {
			t.Fatalf("%s: expected not_found outcome, got %s", kind, res.Outcome)
		}
	}
	if len(h.store.sessions) != 0 {
		t.Fatalf("not-found events must not create sessions")
	}
}

func TestUnknownKindsAndMissingIDsAreIgnored(t *testing.T) {
	h := newHarness()
	for _, p := range []normalizer.Payload{
		{"event": "transfer", "call_id": "X1"},
		{"event": "call_start"},
	} {
		res, err := h.apply(t, p, t0)
		if err != nil || res.Outcome != domain.OutcomeIgnored {
			t.Fatalf("expected ignored, got %s / %v", res.Outcome, err)
		}
	}
}

func TestHoldIsDisplayOnly(t *testing.T) {
	h := newHarness()
	h.mustApply(t, normalizer.Payload{"event": "call_start", "call_id": "H1"}, t0)

	res := h.mustApply(t, normalizer.Payload{"event": "hold", "call_id": "H1"}, t0)
	if res.Outcome != domain.OutcomeIgnored {
		t.Fatalf("hold on a ringing call should be ignored, got %s", res.Outcome)
	}

	h.mustApply(t, normalizer.Payload{"event": "answered", "call_id": "H1"}, t0)
	res = h.mustApply(t, normalizer.Payload{"event": "on_hold", "call_id": "H1"}, t0)
	if res.Outcome != domain.OutcomeHeld || res.Status != domain.StatusInProgress {
		t.Fatalf("expected held while in progress, got %s/%s", res.Outcome, res.Status)
	}
	res = h.mustApply(t, normalizer.Payload{"event": "resume", "call_id": "H1"}, t0)
	if res.Outcome != domain.OutcomeUnheld || res.Status != domain.StatusInProgress {
		t.Fatalf("expected unheld while in progress, got %s/%s", res.Outcome, res.Status)
	}

	names := h.bus.names()
	if names[len(names)-2] != "calls.call.held" || names[len(names)-1] != "calls.call.unheld" {
		t.Fatalf("expected hold events to be published, got %v", names)
	}
}

func TestSessionReadyBeforeStartIsFlushedOnCreation(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	ready := h.norm.NormalizeSessionReady(normalizer.Payload{"callId": "B1", "sessionId": "S-1", "externalNumber": "2055550100"}, t0)
	res, err := h.svc.HandleSessionReady(ctx, h.tenant, ready)
	if err != nil || res.Outcome != domain.OutcomeBuffered {
		t.Fatalf("expected buffered, got %s / %v", res.Outcome, err)
	}

	// A later event for the same call replaces the buffered one.
	ready.SessionID = "S-2"
	if _, err := h.svc.HandleSessionReady(ctx, h.tenant, ready); err != nil {
		t.Fatalf("second session ready: %v", err)
	}
	if len(h.store.pending) != 1 {
		t.Fatalf("expected one buffered entry, got %d", len(h.store.pending))
	}

	h.mustApply(t, normalizer.Payload{"event": "call_start", "call_id": "B1"}, t0.Add(time.Second))

	call := h.store.session(h.tenant, "B1")
	if call.TranscriptionSessionID == nil || *call.TranscriptionSessionID != "S-2" {
		t.Fatalf("expected buffered session S-2 on the new call, got %v", call.TranscriptionSessionID)
	}
	if call.ExternalPartyNumber == nil || *call.ExternalPartyNumber != "+12055550100" {
		t.Fatalf("expected external party number from the buffer")
	}
	if len(h.store.pending) != 0 {
		t.Fatalf("buffer entry must be consumed on creation")
	}
}

func TestSessionReadyAfterStartAttachesDirectly(t *testing.T) {
	h := newHarness()
	h.mustApply(t, normalizer.Payload{"event": "call_start", "call_id": "A1"}, t0)

	ready := h.norm.NormalizeSessionReady(normalizer.Payload{"call_id": "A1", "session_id": "S-9"}, t0)
	res, err := h.svc.HandleSessionReady(context.Background(), h.tenant, ready)
	if err != nil || res.Outcome != domain.OutcomeAttached {
		t.Fatalf("expected attached, got %s / %v", res.Outcome, err)
	}
	call := h.store.session(h.tenant, "A1")
	if call.TranscriptionSessionID == nil || *call.TranscriptionSessionID != "S-9" {
		t.Fatalf("expected session attached")
	}
	if len(h.store.pending) != 0 {
		t.Fatalf("attach must not buffer")
	}
}

func TestCaptureIsBestEffort(t *testing.T) {
	h := newHarness()
	capture := &fakeCapture{startErr: errors.New("capture offline")}
	h.svc.SetCaptureController(capture)

	h.mustApply(t, normalizer.Payload{"event": "call_start", "call_id": "P1"}, t0)
	res := h.mustApply(t, normalizer.Payload{"event": "answered", "call_id": "P1"}, t0)
	if res.Outcome != domain.OutcomeAnswered {
		t.Fatalf("capture failure must not block the transition, got %s", res.Outcome)
	}
	if len(capture.started) != 1 {
		t.Fatalf("expected a start capture attempt")
	}
}

func TestCaptureSessionIsAttachedAndStopped(t *testing.T) {
	h := newHarness()
	capture := &fakeCapture{session: &ports.CaptureSession{SessionID: "cap-1"}}
	h.svc.SetCaptureController(capture)

	h.mustApply(t, normalizer.Payload{"event": "call_start", "call_id": "P2"}, t0)
	h.mustApply(t, normalizer.Payload{"event": "answered", "call_id": "P2"}, t0)
	call := h.store.session(h.tenant, "P2")
	if call.TranscriptionSessionID == nil || *call.TranscriptionSessionID != "cap-1" {
		t.Fatalf("expected capture session attached")
	}

	h.mustApply(t, normalizer.Payload{"event": "hangup", "call_id": "P2"}, t0.Add(time.Minute))
	if len(capture.stopped) != 1 || capture.stopped[0] != "cap-1" {
		t.Fatalf("expected capture stopped for cap-1, got %v", capture.stopped)
	}
}

func TestMatchAgentTiers(t *testing.T) {
	agents := []ports.Agent{
		{ID: uuid.New(), Extension: "4101"},
		{ID: uuid.New(), Extension: "101"},
		{ID: uuid.New(), Extension: "22"},
	}

	cases := []struct {
		ext  string
		want int
	}{
		{"101", 1},   // exact beats suffix
		{"4101", 0},  // exact
		{"9101", 1},  // last three digits
		{"70022", 2}, // suffix of input
		{"01", 0},    // input is a suffix of a known extension, first in order
		{"555", -1},
		{"", -1},
	}
	for _, tc := range cases {
		got := MatchAgent(tc.ext, agents)
		if tc.want < 0 {
			if got != nil {
				t.Fatalf("%q: expected no match, got %s", tc.ext, got.Extension)
			}
			continue
		}
		if got == nil || got.ID != agents[tc.want].ID {
			t.Fatalf("%q: expected agent %s", tc.ext, agents[tc.want].Extension)
		}
	}
}

func TestGetCallAndListRecent(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	res := h.mustApply(t, normalizer.Payload{"event": "call_start", "call_id": "G1"}, t0)
	h.mustApply(t, normalizer.Payload{"event": "call_start", "call_id": "G2"}, t0.Add(time.Minute))

	call, err := h.svc.GetCall(ctx, h.tenant, *res.CallID)
	if err != nil || call.ExternalCallID != "G1" {
		t.Fatalf("expected G1, got %+v / %v", call, err)
	}
	if _, err := h.svc.GetCall(ctx, uuid.New(), *res.CallID); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("other tenants must not see the call, got %v", err)
	}

	calls, err := h.svc.ListRecent(ctx, h.tenant, 0)
	if err != nil || len(calls) != 2 || calls[0].ExternalCallID != "G2" {
		t.Fatalf("expected newest first, got %+v / %v", calls, err)
	}
}

func TestPurgeOrphanedCorrelations(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	old := h.norm.NormalizeSessionReady(normalizer.Payload{"call_id": "O1", "session_id": "S"}, t0.Add(-48*time.Hour))
	fresh := h.norm.NormalizeSessionReady(normalizer.Payload{"call_id": "O2", "session_id": "S"}, t0.Add(-time.Hour))
	for _, r := range []normalizer.SessionReady{old, fresh} {
		if _, err := h.svc.HandleSessionReady(ctx, h.tenant, r); err != nil {
			t.Fatalf("buffer: %v", err)
		}
	}

	purged, err := h.svc.PurgeOrphanedCorrelations(ctx, 24*time.Hour)
	if err != nil || purged != 1 {
		t.Fatalf("expected one purged entry, got %d / %v", purged, err)
	}
	if _, ok := h.store.pending[key(h.tenant, "O2")]; !ok {
		t.Fatalf("fresh entry must survive the purge")
	}
}
