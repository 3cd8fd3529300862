package nociception

import (
	"testing"

	"github.com/murphys7017/mk2/internal/observation"
)

func TestMakePainAlert(t *testing.T) {
	obs := MakePainAlert("adapter", "text_input", observation.SeverityHigh, PainOpts{
		Message:       "read failed",
		ExceptionType: "timeout",
	})
	if err := obs.Validate(); err != nil {
		t.Fatalf("pain alert must validate: %v", err)
	}
	if obs.Type != observation.TypeAlert {
		t.Errorf("type = %s, want alert", obs.Type)
	}
	if obs.SessionKey != SystemSessionKey {
		t.Errorf("session = %s, want system", obs.SessionKey)
	}
	if obs.Payload.Alert.AlertType != PainAlertType {
		t.Errorf("alert_type = %s", obs.Payload.Alert.AlertType)
	}
	if obs.SourceName != "adapter:text_input" {
		t.Errorf("source = %s", obs.SourceName)
	}
}

func TestExtractPainKey(t *testing.T) {
	obs := MakePainAlert("adapter", "text_input", observation.SeverityLow, PainOpts{})
	if got := ExtractPainKey(obs); got != "adapter:text_input" {
		t.Errorf("key = %s", got)
	}

	plain := observation.NewMessage("text_input", "dm:a", "a", "hi")
	if got := ExtractPainKey(plain); got != "unknown:unknown" {
		t.Errorf("non-alert key = %s", got)
	}
}

func TestExtractPainSeverity(t *testing.T) {
	obs := MakePainAlert("gate", "drop_burst", observation.SeverityCritical, PainOpts{})
	if got := ExtractPainSeverity(obs); got != "critical" {
		t.Errorf("severity = %s", got)
	}
}
