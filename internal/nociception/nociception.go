// Package nociception standardizes error surfacing as pain ALERT events and
// holds the protection-reflex constants.
package nociception

import (
	"fmt"
	"time"

	"github.com/murphys7017/mk2/internal/observation"
)

// Protection parameters. Pain bursts cool adapters down and suppress fan-out.
const (
	PainWindow          = 60 * time.Second
	PainBurstThreshold  = 5
	AdapterCooldown     = 300 * time.Second
	DropWindow          = 30 * time.Second
	DropBurstThreshold  = 50
	FanoutSuppressSpan  = 60 * time.Second
)

// PainAlertType labels standardized pain alerts.
const PainAlertType = "pain"

// SystemSessionKey is the reserved routing key for the system session.
const SystemSessionKey = "system"

// PainOpts carries the optional fields of a pain alert.
type PainOpts struct {
	Message       string
	ExceptionType string
	SessionKey    string
	Data          map[string]any
}

// MakePainAlert builds a standardized ALERT observation routed to the system
// session. source_kind/source_id form the aggregation key.
func MakePainAlert(sourceKind, sourceID string, severity observation.Severity, opts PainOpts) *observation.Observation {
	sessionKey := opts.SessionKey
	if sessionKey == "" {
		sessionKey = SystemSessionKey
	}
	data := map[string]any{
		"source_kind": sourceKind,
		"source_id":   sourceID,
	}
	for k, v := range opts.Data {
		data[k] = v
	}

	obs := observation.New(observation.TypeAlert, fmt.Sprintf("%s:%s", sourceKind, sourceID), observation.SourceInternal)
	obs.SessionKey = sessionKey
	obs.Actor = observation.Actor{ActorID: "system", ActorType: observation.ActorSystem}
	obs.Payload.Alert = &observation.AlertPayload{
		AlertType:     PainAlertType,
		Severity:      severity,
		Message:       opts.Message,
		ExceptionType: opts.ExceptionType,
		Data:          data,
	}
	return obs
}

// ExtractPainKey returns the "source_kind:source_id" aggregation key, or
// "unknown:unknown" for non-standard alerts.
func ExtractPainKey(obs *observation.Observation) string {
	if obs.Type != observation.TypeAlert || obs.Payload.Alert == nil {
		return "unknown:unknown"
	}
	data := obs.Payload.Alert.Data
	kind, _ := data["source_kind"].(string)
	id, _ := data["source_id"].(string)
	if kind == "" {
		kind = "unknown"
	}
	if id == "" {
		id = "unknown"
	}
	return kind + ":" + id
}

// ExtractPainSeverity returns the alert severity, or "unknown".
func ExtractPainSeverity(obs *observation.Observation) string {
	if obs.Type != observation.TypeAlert || obs.Payload.Alert == nil {
		return "unknown"
	}
	return string(obs.Payload.Alert.Severity)
}
