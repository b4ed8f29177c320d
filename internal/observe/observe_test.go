package observe

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	buf := &bytes.Buffer{}
	obs := New(buf, true)

	if obs == nil {
		t.Fatal("expected non-nil Observer")
	}
	if obs.log == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestNewJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	obs := NewJSON(buf, true)

	obs.Log().Info().Str("query", "project deadline").Msg("search served")

	output := buf.String()
	if !strings.Contains(output, "search served") {
		t.Errorf("expected output to contain 'search served', got %q", output)
	}
	if !strings.Contains(output, "project deadline") {
		t.Errorf("expected output to contain field value, got %q", output)
	}
}

func TestObserver_Component(t *testing.T) {
	buf := &bytes.Buffer{}
	obs := NewJSON(buf, true)

	obs.Component("store").Info().Int("batch", 3).Msg("batch saved")

	output := buf.String()
	if !strings.Contains(output, "store") {
		t.Errorf("expected component field in output, got %q", output)
	}
	if !strings.Contains(output, "batch saved") {
		t.Errorf("expected message in output, got %q", output)
	}
}

func TestObserver_QuietByDefault(t *testing.T) {
	buf := &bytes.Buffer{}
	obs := New(buf, false)

	obs.Log().Info().Msg("hidden")
	if strings.Contains(buf.String(), "hidden") {
		t.Errorf("info should be suppressed when not verbose, got %q", buf.String())
	}

	obs.Log().Warn().Msg("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Errorf("warn should pass when not verbose, got %q", buf.String())
	}
}

func TestDiscard(t *testing.T) {
	obs := OrDiscard(nil)
	if obs == nil || obs.Log() == nil {
		t.Fatal("expected usable discarding observer")
	}
	obs.Component("cache").Error().Msg("ignored")
}

func TestObserver_StartSpan(t *testing.T) {
	obs := Discard()

	spanCtx, span := obs.StartSpan(context.Background(), "flush")
	if spanCtx == nil {
		t.Fatal("expected non-nil context from StartSpan")
	}
	if span == nil {
		t.Fatal("expected non-nil span from StartSpan")
	}
	span.End()

	if err := obs.Close(); err != nil {
		t.Errorf("expected nil error from Close, got %v", err)
	}
}
