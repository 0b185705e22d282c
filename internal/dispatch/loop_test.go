package dispatch

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"sarkhati/internal/broker"
)

func newTestSession(t *testing.T, mode Mode, doer Doer) *Session {
	t.Helper()
	s, err := NewSession(broker.NameMofid, mofidBrokers(), mode, doer, nil)
	if err != nil {
		t.Fatalf("NewSession returned error: %v", err)
	}
	return s
}

func TestRun_TestModeSendsSingleBatch(t *testing.T) {
	doer := &fakeDoer{}
	s := newTestSession(t, Mode{TestMode: true}, doer)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if got := doer.requestCount(); got != 2 {
		t.Fatalf("expected one request per order, got %d", got)
	}
	if s.State() != StateStopped {
		t.Errorf("expected session stopped, got %s", s.State())
	}

	req := doer.reqs[0]
	if req.Method != http.MethodPost {
		t.Errorf("expected POST, got %s", req.Method)
	}
	if req.URL.String() != broker.MofidOrderURL {
		t.Errorf("unexpected endpoint %s", req.URL)
	}
	if req.Header.Get("Cookie") != "session=abc" {
		t.Errorf("expected session cookie on request, got %q", req.Header.Get("Cookie"))
	}

	joined := string(doer.bodies[0]) + string(doer.bodies[1])
	if !strings.Contains(joined, `"orderSide":"Buy"`) || !strings.Contains(joined, `"orderSide":"Sell"`) {
		t.Errorf("expected both orders sent, got %s", joined)
	}
}

func TestRun_ResendsFullListEveryBatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	doer := &fakeDoer{}
	doer.onRequest = func(n int) {
		if n >= 6 {
			cancel()
		}
	}
	s := newTestSession(t, Mode{}, doer)

	err := s.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	// cancellation lands between batches, so every started batch finishes whole
	got := doer.requestCount()
	if got%2 != 0 {
		t.Errorf("expected completed batches only, got %d requests", got)
	}
	if got < 6 {
		t.Errorf("expected at least three batches, got %d requests", got)
	}
	if s.State() != StateStopped {
		t.Errorf("expected session stopped, got %s", s.State())
	}
}

func TestRun_CurlOnlySkipsTransport(t *testing.T) {
	doer := &fakeDoer{}
	s := newTestSession(t, Mode{TestMode: true, CurlOnly: true}, doer)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if got := doer.requestCount(); got != 0 {
		t.Errorf("curl-only mode must not hit the transport, got %d requests", got)
	}
}

func TestSendBatch_CountsHTTPFailures(t *testing.T) {
	doer := &fakeDoer{status: http.StatusUnauthorized}
	s := newTestSession(t, Mode{}, doer)

	result := s.sendBatch(context.Background(), 1)
	if result.Failed() != 2 || result.Succeeded() != 0 {
		t.Errorf("expected all orders to fail, got failed=%d succeeded=%d", result.Failed(), result.Succeeded())
	}
	for i, o := range result.Outcomes {
		if o.Kind != broker.OutcomeHTTPFailure {
			t.Errorf("outcome %d: expected http failure, got %v", i, o.Kind)
		}
		if o.Status != http.StatusUnauthorized {
			t.Errorf("outcome %d: expected status 401, got %d", i, o.Status)
		}
	}
}

func TestSendBatch_CountsTransportFailures(t *testing.T) {
	doer := &fakeDoer{err: errors.New("connection refused")}
	s := newTestSession(t, Mode{}, doer)

	result := s.sendBatch(context.Background(), 1)
	if result.Failed() != 2 {
		t.Errorf("expected transport failures, got %d", result.Failed())
	}
	for i, o := range result.Outcomes {
		if o.Kind != broker.OutcomeTransportFailure {
			t.Errorf("outcome %d: expected transport failure, got %v", i, o.Kind)
		}
	}
}

func TestSendOne_ReportsResponseBody(t *testing.T) {
	doer := &fakeDoer{status: http.StatusBadRequest, body: `{"error":"کد نماد نامعتبر است"}`}
	s := newTestSession(t, Mode{}, doer)

	outcome := s.sendOne(context.Background(), 1, 0)
	if outcome.Kind != broker.OutcomeHTTPFailure {
		t.Fatalf("expected http failure, got %v", outcome.Kind)
	}
	if outcome.Status != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", outcome.Status)
	}
	if outcome.Snippet != `{"error":"کد نماد نامعتبر است"}` {
		t.Errorf("expected response body in snippet, got %q", outcome.Snippet)
	}
	// the request payload must stay the serialized order
	if !strings.Contains(string(doer.bodies[0]), `"orderSide":"Buy"`) {
		t.Errorf("unexpected request payload %s", doer.bodies[0])
	}
}

func TestRun_FailedBatchBacksOff(t *testing.T) {
	doer := &fakeDoer{status: http.StatusInternalServerError}
	s := newTestSession(t, Mode{TestMode: true}, doer)
	s.failureBackoff = 60 * time.Millisecond

	start := time.Now()
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < s.failureBackoff {
		t.Errorf("expected failure backoff before stopping, elapsed %s", elapsed)
	}
}

func TestAfterBatch_PicksDelayByOutcome(t *testing.T) {
	s := newTestSession(t, Mode{}, &fakeDoer{})
	s.batchDelay = time.Millisecond
	s.failureBackoff = 50 * time.Millisecond

	clean := BatchResult{Batch: 1, Outcomes: []broker.Outcome{{Kind: broker.OutcomeSuccess}}}
	if _, err := s.afterBatch(context.Background(), clean); err != nil {
		t.Fatalf("afterBatch returned error: %v", err)
	}
	if s.State() != StateWaitingDelay {
		t.Errorf("expected waiting_delay after clean batch, got %s", s.State())
	}

	failed := BatchResult{Batch: 2, Outcomes: []broker.Outcome{{Kind: broker.OutcomeHTTPFailure, Status: http.StatusInternalServerError}}}
	start := time.Now()
	if _, err := s.afterBatch(context.Background(), failed); err != nil {
		t.Fatalf("afterBatch returned error: %v", err)
	}
	if s.State() != StateBackingOff {
		t.Errorf("expected backing_off after failed batch, got %s", s.State())
	}
	if elapsed := time.Since(start); elapsed < s.failureBackoff {
		t.Errorf("expected %s backoff, waited only %s", s.failureBackoff, elapsed)
	}
}

func TestSendBatch_OutcomesAlignWithOrders(t *testing.T) {
	doer := &fakeDoer{}
	s := newTestSession(t, Mode{}, doer)

	result := s.sendBatch(context.Background(), 1)
	if len(result.Outcomes) != s.Orders() {
		t.Fatalf("expected %d outcomes, got %d", s.Orders(), len(result.Outcomes))
	}
	if result.Succeeded() != 2 {
		t.Errorf("expected all orders accepted, got %d", result.Succeeded())
	}
}

func TestStateString(t *testing.T) {
	states := map[State]string{
		StateIdle:          "idle",
		StateCalibrating:   "calibrating",
		StateWaitingTarget: "waiting_target",
		StateSending:       "sending",
		StateWaitingDelay:  "waiting_delay",
		StateBackingOff:    "backing_off",
		StateStopped:       "stopped",
	}
	for state, want := range states {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}
