// Package observation defines the universal event flowing through the core.
package observation

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Type classifies what kind of world event was observed.
type Type string

const (
	TypeMessage   Type = "message"
	TypeAlert     Type = "alert"
	TypeControl   Type = "control"
	TypeSchedule  Type = "schedule"
	TypeWorldData Type = "world_data"
	TypeSystem    Type = "system"
)

// SourceKind labels event provenance. Observability only, never decisions.
type SourceKind string

const (
	SourceExternal SourceKind = "external"
	SourceInternal SourceKind = "internal"
	SourceSystem   SourceKind = "system"
)

// ActorType classifies who caused an observation.
type ActorType string

const (
	ActorUser    ActorType = "user"
	ActorAgent   ActorType = "agent"
	ActorSystem  ActorType = "system"
	ActorService ActorType = "service"
	ActorUnknown ActorType = "unknown"
)

// Severity grades ALERT payloads.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Quality flags mark input quality hints. They never make decisions.
const (
	FlagEmptyContent    = "EMPTY_CONTENT"
	FlagMissingIdentity = "MISSING_IDENTITY"
	FlagMissingSession  = "MISSING_SESSION"
	FlagDuplicate       = "DUPLICATE"
	FlagTruncated       = "TRUNCATED"
	FlagUnsupported     = "UNSUPPORTED"
	FlagLowConfidence   = "LOW_CONFIDENCE"
)

// AgentSourcePrefix marks source names of handler-emitted observations.
// Events carrying it must never be handed back to the agent.
const AgentSourcePrefix = "agent:"

// Actor identifies who caused an observation.
type Actor struct {
	ActorID     string    `json:"actor_id,omitempty"`
	ActorType   ActorType `json:"actor_type"`
	DisplayName string    `json:"display_name,omitempty"`
}

// EvidenceRef points at the raw event this observation was derived from.
type EvidenceRef struct {
	RawEventID  string `json:"raw_event_id,omitempty"`
	RawEventURI string `json:"raw_event_uri,omitempty"`
}

// AttachmentRef references an attachment without carrying bytes.
type AttachmentRef struct {
	ID       string `json:"id"`
	Kind     string `json:"kind,omitempty"`
	URI      string `json:"uri,omitempty"`
	Filename string `json:"filename,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

// MessagePayload carries a MESSAGE observation.
type MessagePayload struct {
	Text        string          `json:"text,omitempty"`
	Attachments []AttachmentRef `json:"attachments,omitempty"`
	Mentions    []string        `json:"mentions,omitempty"`
	ReplyTo     string          `json:"reply_to,omitempty"`
}

// Empty reports whether the message has no usable content.
func (p *MessagePayload) Empty() bool {
	return strings.TrimSpace(p.Text) == "" && len(p.Attachments) == 0
}

// AlertPayload carries an ALERT observation.
type AlertPayload struct {
	AlertType     string         `json:"alert_type"`
	Severity      Severity       `json:"severity"`
	Message       string         `json:"message,omitempty"`
	ExceptionType string         `json:"exception_type,omitempty"`
	Data          map[string]any `json:"data,omitempty"`
}

// ControlPayload carries a CONTROL observation.
// Notable kinds: tuning_suggestion, tuning_applied, system_mode_changed,
// tuning_reverted.
type ControlPayload struct {
	Kind string         `json:"kind"`
	Data map[string]any `json:"data,omitempty"`
}

// SchedulePayload carries a SCHEDULE observation.
type SchedulePayload struct {
	ScheduleID string         `json:"schedule_id"`
	Data       map[string]any `json:"data,omitempty"`
}

// WorldDataPayload carries structured external data.
type WorldDataPayload struct {
	SchemaID        string         `json:"schema_id"`
	Data            map[string]any `json:"data,omitempty"`
	ValiditySeconds int            `json:"validity_seconds,omitempty"`
}

// SystemPayload carries internal system events.
type SystemPayload struct {
	Kind string         `json:"kind,omitempty"`
	Data map[string]any `json:"data,omitempty"`
}

// Payload is the tagged union of per-type payloads. Exactly the field
// matching Observation.Type is set.
type Payload struct {
	Message   *MessagePayload   `json:"message,omitempty"`
	Alert     *AlertPayload     `json:"alert,omitempty"`
	Control   *ControlPayload   `json:"control,omitempty"`
	Schedule  *SchedulePayload  `json:"schedule,omitempty"`
	WorldData *WorldDataPayload `json:"world_data,omitempty"`
	System    *SystemPayload    `json:"system,omitempty"`
}

// Observation is the single event type carried between every component.
// Adapters produce them; the gate decides on them; the agent consumes them.
type Observation struct {
	ObsID      string      `json:"obs_id"`
	Type       Type        `json:"obs_type"`
	SessionKey string      `json:"session_key,omitempty"`
	Actor      Actor       `json:"actor"`
	SourceName string      `json:"source_name"`
	SourceKind SourceKind  `json:"source_kind"`
	Timestamp  time.Time   `json:"timestamp"`
	ReceivedAt time.Time   `json:"received_at"`
	Payload    Payload     `json:"payload"`
	Evidence   EvidenceRef `json:"evidence"`

	// Metadata is mutated in flight (e.g. the memory event id is written
	// back after AppendEvent).
	Metadata map[string]any `json:"metadata,omitempty"`

	QualityFlags map[string]bool `json:"quality_flags,omitempty"`
	Confidence   float64         `json:"confidence,omitempty"`
}

// New returns an observation skeleton with identity and timestamps filled in.
func New(t Type, sourceName string, sourceKind SourceKind) *Observation {
	now := time.Now().UTC()
	return &Observation{
		ObsID:      uuid.NewString(),
		Type:       t,
		SourceName: sourceName,
		SourceKind: sourceKind,
		Timestamp:  now,
		ReceivedAt: now,
		Actor:      Actor{ActorType: ActorUnknown},
		Metadata:   map[string]any{},
	}
}

// AddFlag marks a quality flag on the observation.
func (o *Observation) AddFlag(flag string) {
	if o.QualityFlags == nil {
		o.QualityFlags = map[string]bool{}
	}
	o.QualityFlags[flag] = true
}

// HasFlag reports whether a quality flag is set.
func (o *Observation) HasFlag(flag string) bool {
	return o.QualityFlags[flag]
}

// AgentSourced reports whether this observation was emitted by the handler
// itself. Such events are delivered outward but never fed back to the agent.
func (o *Observation) AgentSourced() bool {
	return strings.HasPrefix(o.SourceName, AgentSourcePrefix) || o.Actor.ActorID == "agent"
}

// Text returns the normalized message text, or "" for non-MESSAGE events.
func (o *Observation) Text() string {
	if o.Payload.Message == nil {
		return ""
	}
	return strings.TrimSpace(o.Payload.Message.Text)
}

// Validate performs the minimal adapter-level checks. It rejects structurally
// invalid events and records quality flags for degraded-but-acceptable ones.
func (o *Observation) Validate() error {
	if o.SourceName == "" {
		return fmt.Errorf("observation %s: source_name must not be empty", o.ObsID)
	}
	if o.Timestamp.IsZero() || o.ReceivedAt.IsZero() {
		return fmt.Errorf("observation %s: timestamps must be set", o.ObsID)
	}
	if o.Confidence < 0 || o.Confidence > 1 {
		return fmt.Errorf("observation %s: confidence must be in [0,1]", o.ObsID)
	}

	switch o.Type {
	case TypeMessage:
		if o.Payload.Message == nil {
			return fmt.Errorf("observation %s: MESSAGE without message payload", o.ObsID)
		}
		if o.Payload.Message.Empty() {
			o.AddFlag(FlagEmptyContent)
		}
		if o.SessionKey == "" {
			o.AddFlag(FlagMissingSession)
		}
		if o.Actor.ActorID == "" {
			o.AddFlag(FlagMissingIdentity)
		}
	case TypeAlert:
		if o.Payload.Alert == nil {
			return fmt.Errorf("observation %s: ALERT without alert payload", o.ObsID)
		}
	case TypeControl:
		if o.Payload.Control == nil {
			return fmt.Errorf("observation %s: CONTROL without control payload", o.ObsID)
		}
	case TypeWorldData:
		if o.Payload.WorldData == nil || o.Payload.WorldData.SchemaID == "" {
			return fmt.Errorf("observation %s: WORLD_DATA requires schema_id", o.ObsID)
		}
	case TypeSchedule, TypeSystem:
		// Opaque structured payloads; nothing to check here.
	default:
		return fmt.Errorf("observation %s: unknown obs_type %q", o.ObsID, o.Type)
	}
	return nil
}

// NewMessage builds a MESSAGE observation; a non-empty actorID marks the
// actor as a user. It does not call Validate.
func NewMessage(sourceName, sessionKey, actorID, text string) *Observation {
	obs := New(TypeMessage, sourceName, SourceExternal)
	obs.SessionKey = sessionKey
	actorType := ActorUnknown
	if actorID != "" {
		actorType = ActorUser
	}
	obs.Actor = Actor{ActorID: actorID, ActorType: actorType}
	obs.Payload.Message = &MessagePayload{Text: text}
	return obs
}

// NewControl builds a CONTROL observation addressed at the given session.
func NewControl(sourceName, sessionKey, kind string, data map[string]any) *Observation {
	obs := New(TypeControl, sourceName, SourceInternal)
	obs.SessionKey = sessionKey
	obs.Actor = Actor{ActorID: "system", ActorType: ActorSystem}
	obs.Payload.Control = &ControlPayload{Kind: kind, Data: data}
	return obs
}

// NewSchedule builds a SCHEDULE observation.
func NewSchedule(sourceName, sessionKey, scheduleID string, data map[string]any) *Observation {
	obs := New(TypeSchedule, sourceName, SourceInternal)
	obs.SessionKey = sessionKey
	obs.Actor = Actor{ActorID: "system", ActorType: ActorSystem}
	obs.Payload.Schedule = &SchedulePayload{ScheduleID: scheduleID, Data: data}
	return obs
}
