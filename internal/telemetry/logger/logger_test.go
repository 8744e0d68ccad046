package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func newBufferLogger(t *testing.T, format string) (Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	l, err := New(Config{Level: "debug", Format: format, Output: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { SetLevel("info") })
	return l, &buf
}

func TestNew_JSON(t *testing.T) {
	l, buf := newBufferLogger(t, "json")
	l.Info("hello", "subject_id", "u1")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%s)", err, buf.String())
	}
	if entry["msg"] != "hello" || entry["subject_id"] != "u1" {
		t.Errorf("entry = %v", entry)
	}
}

func TestSetLevel(t *testing.T) {
	l, buf := newBufferLogger(t, "text")

	SetLevel("warn")
	if GetLevel() != "warn" {
		t.Fatalf("GetLevel() = %q, want warn", GetLevel())
	}
	l.Info("suppressed")
	if buf.Len() != 0 {
		t.Errorf("info written at warn level: %s", buf.String())
	}
	l.Warn("visible")
	if !strings.Contains(buf.String(), "visible") {
		t.Errorf("warn not written: %s", buf.String())
	}
}

func TestRedaction(t *testing.T) {
	l, buf := newBufferLogger(t, "json")
	l.Info("call",
		"client_secret", "hunter2",
		"credential_fp", "abc123def456",
		"header", "Bearer abcdefghijklmnop",
		"jwt", "eyJhbGciOiJIUzI1NiJ9.payload.sig",
	)
	out := buf.String()

	if strings.Contains(out, "hunter2") {
		t.Error("client_secret was not redacted")
	}
	if !strings.Contains(out, "abc123def456") {
		t.Error("credential_fp should be left intact")
	}
	if strings.Contains(out, "abcdefghijklmnop") {
		t.Error("bearer value was not masked")
	}
	if strings.Contains(out, "payload") {
		t.Error("jwt value was not masked")
	}
}

func TestRedactString(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"eyJ12", "eyJ***"},
		{"eyJabcdefghij", "eyJabc...hij"},
		{"Bearer 1234567890", "Bearer 123...890"},
	}
	for _, tt := range tests {
		if got := RedactString(tt.in); got != tt.want {
			t.Errorf("RedactString(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIsSensitiveKey(t *testing.T) {
	for key, want := range map[string]bool{
		"password":       true,
		"Client_Secret":  true,
		"access_token":   true,
		"credential_fp":  false,
		"token_type":     false,
		"subject_id":     false,
		"encryption_key": true,
		"attempt":        false,
	} {
		if got := IsSensitiveKey(key); got != want {
			t.Errorf("IsSensitiveKey(%q) = %v, want %v", key, got, want)
		}
	}
}

func TestContextHelpers(t *testing.T) {
	l, buf := newBufferLogger(t, "json")
	ctx := WithLogger(context.Background(), l)
	ctx, id := EnsureRequestID(ctx)
	if id == "" {
		t.Fatal("EnsureRequestID() returned empty id")
	}
	if _, again := EnsureRequestID(ctx); again != id {
		t.Errorf("EnsureRequestID() replaced existing id: %q != %q", again, id)
	}

	L(ctx).Info("scoped")
	if !strings.Contains(buf.String(), id) {
		t.Errorf("request_id missing from output: %s", buf.String())
	}
}

func TestFromContext_Default(t *testing.T) {
	if FromContext(context.Background()) != Default() {
		t.Error("FromContext() without logger should return Default()")
	}
	if OrDefault(nil) != Default() {
		t.Error("OrDefault(nil) should return Default()")
	}
}

func TestDiscard(t *testing.T) {
	l := Discard()
	l.Error("nothing")
	l.With("k", "v").Info("nothing")
}
