package core

import "testing"

func TestStageOrderIsForwardOnly(t *testing.T) {
	if FirstStage() != StageGreeting {
		t.Fatalf("unexpected first stage: %s", FirstStage())
	}

	prev := -1
	for _, s := range stageOrder {
		idx, ok := StageIndex(s)
		if !ok {
			t.Fatalf("stage %s not indexable", s)
		}
		if idx <= prev {
			t.Fatalf("stage %s out of order", s)
		}
		prev = idx
	}
}

func TestNextStageAdvancesOneStep(t *testing.T) {
	if got := NextStage(StageGreeting); got != StageSymptomCollection {
		t.Fatalf("NextStage(greeting) = %s", got)
	}
	if got := NextStage(StageAnalysis); got != StageRecommendations {
		t.Fatalf("NextStage(analysis) = %s", got)
	}
}

func TestNextStageClampsAtLast(t *testing.T) {
	if got := NextStage(StageFollowUp); got != StageFollowUp {
		t.Fatalf("last stage must be its own successor, got %s", got)
	}
}

func TestNextStageUnknownIsUnchanged(t *testing.T) {
	if got := NextStage("made_up"); got != "made_up" {
		t.Fatalf("unknown stage must be returned unchanged, got %s", got)
	}
}

func TestSentinelStagesAreNotCatalogMembers(t *testing.T) {
	for _, s := range []string{StageEmergency, StageError, "nonsense"} {
		if ValidStage(s) {
			t.Fatalf("%s must not be a valid catalog stage", s)
		}
	}
	for _, s := range stageOrder {
		if !ValidStage(s) {
			t.Fatalf("%s must be a valid catalog stage", s)
		}
	}
}

func TestStageInstructionsAlwaysPresent(t *testing.T) {
	for _, s := range stageOrder {
		if stageInstructions(s) == "" {
			t.Fatalf("stage %s has no instructions", s)
		}
	}
	// Unknown stages fall back rather than producing an empty prompt.
	if stageInstructions("made_up") == "" {
		t.Fatal("fallback instructions missing")
	}
}
