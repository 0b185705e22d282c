package app

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"sarkhati/internal/broker"
	"sarkhati/internal/config"
)

type stubDoer struct{}

func (stubDoer) Do(req *http.Request) (*http.Response, error) {
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader("{}")),
	}, nil
}

func testConfig(selector string) *config.Config {
	return &config.Config{
		App:      config.AppConfig{Environment: "test"},
		Dispatch: config.DispatchConfig{Broker: selector, TestMode: true},
		Brokers: config.BrokersConfig{
			Mofid: &config.MofidConfig{
				BrokerConfig: config.BrokerConfig{
					Cookie:     "session=abc",
					BatchDelay: time.Millisecond,
					RateLimit:  time.Microsecond,
				},
				Orders: []config.OrderConfig{
					{Side: "buy", Price: 1000, Quantity: 10, ISIN: "IRO1FOLD0001"},
				},
			},
			// 凭证缺失，构建必然失败
			Danayan: &config.DanayanConfig{
				Orders: []config.OrderConfig{
					{Side: "buy", Price: 1000, Quantity: 10, ISIN: "IRO1FOLD0001"},
				},
			},
		},
	}
}

func TestBuildSessions_AllSkipsInvalid(t *testing.T) {
	a := New(testConfig("all"), zap.NewNop(), stubDoer{})
	sessions, skipped, err := a.buildSessions(zap.NewNop())
	if err != nil {
		t.Fatalf("buildSessions returned error: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected invalid danayan skipped, got %d sessions", len(sessions))
	}
	if skipped != 1 {
		t.Errorf("expected one skipped broker, got %d", skipped)
	}
	if sessions[0].Broker() != broker.NameMofid {
		t.Errorf("unexpected session broker %s", sessions[0].Broker())
	}
}

func TestBuildSessions_AllFailsWhenNothingUsable(t *testing.T) {
	cfg := testConfig("all")
	cfg.Brokers.Mofid.Cookie = ""

	a := New(cfg, zap.NewNop(), stubDoer{})
	if _, _, err := a.buildSessions(zap.NewNop()); err == nil {
		t.Fatalf("expected error when no session can be built")
	}
}

func TestBuildSessions_SingleSelectorIsStrict(t *testing.T) {
	a := New(testConfig("danayan"), zap.NewNop(), stubDoer{})
	if _, _, err := a.buildSessions(zap.NewNop()); err == nil {
		t.Fatalf("expected error for explicitly selected invalid broker")
	}
}

func TestRun_TestModeCompletes(t *testing.T) {
	cfg := testConfig("mofid")
	a := New(cfg, zap.NewNop(), stubDoer{})

	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
}

func TestRun_ConfigCurlOnlyImpliesTestMode(t *testing.T) {
	cfg := testConfig("mofid")
	cfg.Dispatch.TestMode = false
	cfg.Dispatch.CurlOnly = true
	a := New(cfg, zap.NewNop(), stubDoer{})

	done := make(chan error, 1)
	go func() { done <- a.Run(context.Background()) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("curl-only run did not stop after a single pass")
	}
}

func TestRun_SkippedBrokerMakesExitNonZero(t *testing.T) {
	a := New(testConfig("all"), zap.NewNop(), stubDoer{})

	err := a.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "构建失败") {
		t.Fatalf("expected build-failure error after run, got %v", err)
	}
}
