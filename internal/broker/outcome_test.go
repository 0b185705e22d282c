package broker

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestClassifyStatus(t *testing.T) {
	if o := ClassifyStatus(200, []byte("ok")); o.Kind != OutcomeSuccess || o.Failed() {
		t.Errorf("expected 200 to classify as success, got %+v", o)
	}
	if o := ClassifyStatus(201, nil); o.Kind != OutcomeSuccess {
		t.Errorf("expected 201 to classify as success, got %+v", o)
	}
	if o := ClassifyStatus(401, []byte("expired")); o.Kind != OutcomeHTTPFailure || !o.Failed() {
		t.Errorf("expected 401 to classify as http failure, got %+v", o)
	}
	if o := ClassifyStatus(500, nil); o.Status != 500 {
		t.Errorf("expected status preserved, got %d", o.Status)
	}
}

func TestTransportFailure(t *testing.T) {
	o := TransportFailure(errors.New("connection refused"))
	if o.Kind != OutcomeTransportFailure || !o.Failed() {
		t.Errorf("expected transport failure, got %+v", o)
	}
	if o.Status != 0 {
		t.Errorf("transport failure must not carry a status code, got %d", o.Status)
	}
	if o.Reason != "connection refused" {
		t.Errorf("unexpected reason %q", o.Reason)
	}
}

func TestBodySnippet_Truncates(t *testing.T) {
	long := strings.Repeat("x", 2000)
	if got := BodySnippet([]byte(long)); len(got) != 512 {
		t.Errorf("expected snippet truncated to 512 bytes, got %d", len(got))
	}
}

func TestBodySnippet_TruncatesOnRuneBoundary(t *testing.T) {
	// shift by one byte so the 512-byte cut would land mid-rune
	long := "a" + strings.Repeat("خ", 600)
	got := BodySnippet([]byte(long))
	if !utf8.ValidString(got) {
		t.Fatalf("snippet is not valid UTF-8: %q", got[len(got)-4:])
	}
	if len(got) > 512 {
		t.Errorf("expected snippet at most 512 bytes, got %d", len(got))
	}
	if len(got) < 510 {
		t.Errorf("expected cut near the limit, got %d bytes", len(got))
	}
}

func TestDecodeUnicodeEscapes(t *testing.T) {
	in := `{"message":"خطا"}`
	got := DecodeUnicodeEscapes(in)
	if got != `{"message":"خطا"}` {
		t.Errorf("unexpected decode result %q", got)
	}

	// malformed escapes pass through untouched
	if got := DecodeUnicodeEscapes(`\uZZZZ plain`); got != `\uZZZZ plain` {
		t.Errorf("expected malformed escape preserved, got %q", got)
	}
	if got := DecodeUnicodeEscapes("no escapes"); got != "no escapes" {
		t.Errorf("expected passthrough, got %q", got)
	}
}
