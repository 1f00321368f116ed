package core

// stages.go defines the fixed consultation workflow.  The catalog is a
// total order: a session starts at the first stage and only ever moves
// forward through it, one step at a time.

const (
	StageGreeting           = "greeting"
	StageSymptomCollection  = "symptom_collection"
	StageDetailedAssessment = "detailed_assessment"
	StageMedicalHistory     = "medical_history"
	StageAnalysis           = "analysis"
	StageRecommendations    = "recommendations"
	StageFollowUp           = "follow_up"

	// StageEmergency and StageError are sentinels reported in reply
	// metadata.  They are not part of the ordered catalog and are never
	// persisted as a session's stage.
	StageEmergency = "emergency"
	StageError     = "error"
)

// stageOrder fixes the forward direction of the consultation.
var stageOrder = []string{
	StageGreeting,
	StageSymptomCollection,
	StageDetailedAssessment,
	StageMedicalHistory,
	StageAnalysis,
	StageRecommendations,
	StageFollowUp,
}

// FirstStage returns the stage every new session starts in.
func FirstStage() string { return stageOrder[0] }

// StageIndex returns the position of the stage in the catalog's order and
// whether the stage is a member of the catalog at all.
func StageIndex(stage string) (int, bool) {
	for i, s := range stageOrder {
		if s == stage {
			return i, true
		}
	}
	return -1, false
}

// ValidStage reports whether the name belongs to the ordered catalog.
// Sentinel stages are not valid session stages.
func ValidStage(stage string) bool {
	_, ok := StageIndex(stage)
	return ok
}

// NextStage returns the stage one position forward in the catalog.  The
// last stage is its own successor, and an unknown stage is returned
// unchanged so callers never leave the catalog by advancing.
func NextStage(stage string) string {
	idx, ok := StageIndex(stage)
	if !ok || idx == len(stageOrder)-1 {
		return stage
	}
	return stageOrder[idx+1]
}

// stageInstructions returns the policy text appended to the master prompt
// for the given stage.  Unknown stages fall back to the greeting
// instructions, which keeps the prompt well formed even if storage holds a
// stage this build no longer knows.
func stageInstructions(stage string) string {
	if text, ok := stagePrompts[stage]; ok {
		return text
	}
	return stagePrompts[StageGreeting]
}
