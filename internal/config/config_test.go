package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"sarkhati/internal/broker"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalConfig = `
app:
  environment: test
dispatch:
  broker: mofid
brokers:
  mofid:
    cookie: "session=abc"
    batch_delay: 150ms
    rate_limit: 250ms
    orders:
      - side: buy
        price: 1000
        quantity: 10
        isin: IRO1FOLD0001
`

func TestLoad_MinimalConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.App.Environment != "test" {
		t.Errorf("unexpected environment %q", cfg.App.Environment)
	}
	if cfg.Dispatch.Broker != "mofid" {
		t.Errorf("unexpected broker selector %q", cfg.Dispatch.Broker)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected logging defaults applied, got %q", cfg.Logging.Level)
	}

	if cfg.Brokers.Mofid == nil {
		t.Fatalf("expected mofid section decoded")
	}
	if cfg.Brokers.Danayan != nil || cfg.Brokers.Bidar != nil {
		t.Errorf("expected absent broker sections to stay nil")
	}
	if cfg.Brokers.Mofid.BatchDelay != 150*time.Millisecond {
		t.Errorf("expected batch_delay 150ms, got %s", cfg.Brokers.Mofid.BatchDelay)
	}
	if cfg.Brokers.Mofid.RateLimit != 250*time.Millisecond {
		t.Errorf("expected rate_limit 250ms, got %s", cfg.Brokers.Mofid.RateLimit)
	}
	if len(cfg.Brokers.Mofid.Orders) != 1 {
		t.Fatalf("expected one order, got %d", len(cfg.Brokers.Mofid.Orders))
	}

	got := cfg.Brokers.Configured()
	if len(got) != 1 || got[0] != broker.NameMofid {
		t.Errorf("unexpected configured brokers %v", got)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestLoad_RejectsUnknownBrokerSelector(t *testing.T) {
	content := strings.Replace(minimalConfig, "broker: mofid", "broker: parsian", 1)
	_, err := Load(writeConfig(t, content))
	if err == nil || !strings.Contains(err.Error(), "parsian") {
		t.Errorf("expected unknown broker error, got %v", err)
	}
}

func TestLoad_RejectsEmptyBrokers(t *testing.T) {
	content := `
app:
  environment: test
dispatch:
  broker: all
`
	_, err := Load(writeConfig(t, content))
	if err == nil || !strings.Contains(err.Error(), "至少需要配置一家券商") {
		t.Errorf("expected empty brokers error, got %v", err)
	}
}

func TestLoad_CalibrationSection(t *testing.T) {
	content := `
app:
  environment: test
dispatch:
  broker: bidar
brokers:
  bidar:
    authorization: tok
    target_time: "08:45:00.000"
    delay_model: half_rtt
    calibration:
      enabled: true
      probe_count: 7
      probe_interval: 400ms
      estimator: p90
    orders:
      - side: buy
        price: 1000
        quantity: 10
        isin: IRO1FOLD0001
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	b := cfg.Brokers.Bidar
	if b == nil {
		t.Fatalf("expected bidar section decoded")
	}
	if !b.Calibration.Enabled || b.Calibration.ProbeCount != 7 {
		t.Errorf("unexpected calibration %+v", b.Calibration)
	}
	if b.Calibration.ProbeInterval != 400*time.Millisecond {
		t.Errorf("expected probe interval 400ms, got %s", b.Calibration.ProbeInterval)
	}
	if b.DelayModel != "half_rtt" {
		t.Errorf("unexpected delay model %q", b.DelayModel)
	}
	if b.TargetTime != "08:45:00.000" {
		t.Errorf("unexpected target time %q", b.TargetTime)
	}
}

func TestOrderConfig_Order(t *testing.T) {
	oc := OrderConfig{Side: "sell", Price: 1200, Quantity: 5, ISIN: "IRO1FOLD0001"}
	ord, err := oc.Order()
	if err != nil {
		t.Fatalf("Order returned error: %v", err)
	}
	if ord.Side != broker.SideSell || ord.Validity != broker.ValidityDay {
		t.Errorf("unexpected order %+v", ord)
	}

	oc.Side = "short"
	if _, err := oc.Order(); err == nil {
		t.Errorf("expected error for unknown side")
	}
}
