package pkg

import "time"

// TurnRole describes who authored a transcript turn.
type TurnRole string

const (
	RoleSystem    TurnRole = "system"
	RoleUser      TurnRole = "user"
	RoleAssistant TurnRole = "assistant"
)

// Turn is a single entry in a session transcript.  Transcripts are
// append-only: turns are never edited or removed once stored.
type Turn struct {
	Role      TurnRole  `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is the durable record of one consultation.  It is keyed by a
// caller-supplied session identifier and created lazily on the first
// message.  OwnerRef is empty for anonymous sessions; it may be claimed
// once by an authenticated caller but never moves between two accounts.
type Session struct {
	SessionID        string        `json:"session_id"`
	OwnerRef         string        `json:"owner_ref,omitempty"`
	Stage            string        `json:"stage"`
	Title            string        `json:"title"`
	Transcript       []Turn        `json:"transcript"`
	DetectedSymptoms []string      `json:"detected_symptoms"`
	Prescription     *Prescription `json:"prescription,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// Anonymous reports whether the session has no owning account.
func (s *Session) Anonymous() bool { return s.OwnerRef == "" }

// MessageCount returns the number of non-system turns in the transcript.
func (s *Session) MessageCount() int {
	n := 0
	for _, t := range s.Transcript {
		if t.Role != RoleSystem {
			n++
		}
	}
	return n
}

// HasPrescription reports whether a complete prescription is cached on the
// session.  Both the payload and the disclaimer must be present; a partial
// write does not count.
func (s *Session) HasPrescription() bool {
	return s.Prescription != nil && len(s.Prescription.Payload) > 0 && s.Prescription.Disclaimer != ""
}

// Medicine is one suggested remedy inside a prescription payload.
type Medicine struct {
	Name                 string `json:"name"`
	Dosage               string `json:"dosage"`
	Duration             string `json:"duration"`
	Purpose              string `json:"purpose"`
	PrescriptionRequired bool   `json:"prescription_required"`
	Availability         string `json:"indian_availability"`
	Notes                string `json:"notes"`
}

// PrescriptionPayload is the structured artifact synthesized from a
// completed consultation transcript.
type PrescriptionPayload struct {
	DescriptionOfIssue string     `json:"description_of_issue"`
	AIAnalysis         string     `json:"ai_analysis"`
	Medicines          []Medicine `json:"medicines"`
	GeneralTips        []string   `json:"general_tips"`
	DiagnosticTests    []string   `json:"diagnostic_tests"`
	EmergencySigns     []string   `json:"emergency_signs"`
	FollowUp           string     `json:"follow_up"`
}

// Prescription is the cached artifact stored on a session.  Payload keeps
// the raw JSON bytes exactly as first persisted so repeated reads are
// byte-identical.  Once both Payload and Disclaimer are set the value is
// immutable.
type Prescription struct {
	GeneratedAt time.Time `json:"generated_at"`
	Disclaimer  string    `json:"disclaimer"`
	Payload     []byte    `json:"payload"`
}

// ReplyMetadata accompanies every conversational reply.
type ReplyMetadata struct {
	Stage             string   `json:"stage"`
	CurrentStage      string   `json:"current_stage"`
	NextStage         bool     `json:"next_stage"`
	DetectedSymptoms  []string `json:"detected_symptoms"`
	ConfidenceLevel   float64  `json:"confidence_level"`
	SuggestedFollowup string   `json:"suggested_followup"`
}

// Reply is the result of one conversational turn.
type Reply struct {
	Message  string        `json:"message"`
	Metadata ReplyMetadata `json:"metadata"`
}

// SessionStatus is the lightweight projection returned by the status
// endpoint.
type SessionStatus struct {
	Exists           bool      `json:"exists"`
	Stage            string    `json:"stage,omitempty"`
	MessageCount     int       `json:"messages_count,omitempty"`
	DetectedSymptoms []string  `json:"detected_symptoms,omitempty"`
	LastUpdated      time.Time `json:"last_updated,omitempty"`
}

// SessionPreview summarises a session for the history listing.
type SessionPreview struct {
	SessionID       string    `json:"session_id"`
	Title           string    `json:"title"`
	Stage           string    `json:"stage"`
	MessageCount    int       `json:"messages_count"`
	HasPrescription bool      `json:"has_prescription"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// ChatRequest is the transport payload for a conversational turn.
type ChatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// ChatResponse wraps a reply with the session identifier so callers that
// let the server mint the id can keep using it.
type ChatResponse struct {
	SessionID string        `json:"session_id"`
	Message   string        `json:"message"`
	Metadata  ReplyMetadata `json:"metadata"`
}
