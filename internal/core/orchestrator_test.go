package core_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docongo/internal/core"
	"docongo/internal/llm"
	"docongo/pkg"
	"docongo/pkg/errs"
)

// modelJSON builds a well-formed conversational model reply.
func modelJSON(message, currentStage string, nextStage bool, symptoms ...string) string {
	list := ""
	for i, s := range symptoms {
		if i > 0 {
			list += ","
		}
		list += fmt.Sprintf("%q", s)
	}
	return fmt.Sprintf(
		`{"message":%q,"current_stage":%q,"next_stage":%v,"detected_symptoms":[%s],"confidence_level":0.8,"suggested_followup":"next question"}`,
		message, currentStage, nextStage, list)
}

func TestRespondEndToEnd(t *testing.T) {
	ctx := context.Background()
	store := core.NewMemoryStore()
	client := llm.NewMockClient(llm.MockResponse{
		Content: modelJSON("I'm sorry to hear that. How long has it lasted?", core.StageGreeting, true, "headache"),
	})
	o := core.NewOrchestrator(client, store)

	reply, err := o.Respond(ctx, "s1", "I have a headache")
	require.NoError(t, err)

	assert.Equal(t, "I'm sorry to hear that. How long has it lasted?", reply.Message)
	assert.Contains(t, reply.Metadata.DetectedSymptoms, "headache")
	assert.Equal(t, core.StageSymptomCollection, reply.Metadata.Stage)
	assert.True(t, reply.Metadata.NextStage)
	assert.InDelta(t, 0.8, reply.Metadata.ConfidenceLevel, 1e-9)
	assert.Equal(t, 1, client.CallCount())

	session, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, core.StageSymptomCollection, session.Stage)
	assert.Equal(t, "I have a headache", session.Title)

	// system seed + user + raw assistant
	require.Len(t, session.Transcript, 3)
	assert.Equal(t, pkg.RoleSystem, session.Transcript[0].Role)
	assert.Equal(t, pkg.RoleUser, session.Transcript[1].Role)
	assert.Equal(t, pkg.RoleAssistant, session.Transcript[2].Role)
}

func TestRespondSymptomSetOnlyGrows(t *testing.T) {
	ctx := context.Background()
	store := core.NewMemoryStore()
	client := llm.NewMockClient(
		llm.MockResponse{Content: modelJSON("ok", core.StageGreeting, false, "headache", "nausea")},
		llm.MockResponse{Content: modelJSON("ok", core.StageGreeting, false, "nausea")},
		llm.MockResponse{Content: modelJSON("ok", core.StageGreeting, false)},
	)
	o := core.NewOrchestrator(client, store)

	sizes := make([]int, 0, 3)
	for _, msg := range []string{"first", "second", "third"} {
		reply, err := o.Respond(ctx, "s1", msg)
		require.NoError(t, err)
		sizes = append(sizes, len(reply.Metadata.DetectedSymptoms))
	}

	assert.Equal(t, []int{2, 2, 2}, sizes)

	session, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"headache", "nausea"}, session.DetectedSymptoms)
}

func TestRespondStageNeverRegresses(t *testing.T) {
	ctx := context.Background()
	store := core.NewMemoryStore()
	client := llm.NewMockClient(
		// Advance to symptom_collection.
		llm.MockResponse{Content: modelJSON("a", core.StageGreeting, true)},
		// Model claims an earlier stage; must be ignored.
		llm.MockResponse{Content: modelJSON("b", core.StageGreeting, false)},
		// Model claims a stage three steps ahead; clamped to one step.
		llm.MockResponse{Content: modelJSON("c", core.StageRecommendations, false)},
	)
	o := core.NewOrchestrator(client, store)

	var stages []string
	for _, msg := range []string{"one", "two", "three"} {
		reply, err := o.Respond(ctx, "s1", msg)
		require.NoError(t, err)
		stages = append(stages, reply.Metadata.Stage)
	}

	assert.Equal(t, []string{
		core.StageSymptomCollection,
		core.StageSymptomCollection,
		core.StageDetailedAssessment,
	}, stages)
}

func TestRespondClaimAndAdvanceMoveOneStepTotal(t *testing.T) {
	ctx := context.Background()
	store := core.NewMemoryStore()
	// current_stage one ahead AND next_stage=true must still advance by
	// exactly one position.
	client := llm.NewMockClient(llm.MockResponse{
		Content: modelJSON("a", core.StageSymptomCollection, true),
	})
	o := core.NewOrchestrator(client, store)

	reply, err := o.Respond(ctx, "s1", "hello")
	require.NoError(t, err)
	assert.Equal(t, core.StageSymptomCollection, reply.Metadata.Stage)
}

func TestRespondRepairsGarbageOutput(t *testing.T) {
	ctx := context.Background()
	store := core.NewMemoryStore()
	client := llm.NewMockClient(llm.MockResponse{Content: "%%% complete nonsense %%%"})
	o := core.NewOrchestrator(client, store)

	reply, err := o.Respond(ctx, "s1", "I feel dizzy")
	require.NoError(t, err)

	assert.NotEmpty(t, reply.Message)
	assert.GreaterOrEqual(t, reply.Metadata.ConfidenceLevel, 0.0)
	assert.LessOrEqual(t, reply.Metadata.ConfidenceLevel, 1.0)
	assert.False(t, reply.Metadata.NextStage)

	// The raw exchange still lands in the transcript.
	session, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "%%% complete nonsense %%%", session.Transcript[len(session.Transcript)-1].Content)
}

func TestRespondAbsorbsGatewayFailure(t *testing.T) {
	ctx := context.Background()
	store := core.NewMemoryStore()
	client := llm.NewMockClient(llm.MockResponse{Err: errors.Wrap(errs.ErrModelTransport, "quota exceeded")})
	o := core.NewOrchestrator(client, store)

	reply, err := o.Respond(ctx, "s1", "hello doctor")
	require.NoError(t, err)

	assert.NotEmpty(t, reply.Message)
	assert.Equal(t, core.StageGreeting, reply.Metadata.Stage)
	assert.False(t, reply.Metadata.NextStage)
}

func TestRespondEmergencyShortCircuit(t *testing.T) {
	ctx := context.Background()
	store := core.NewMemoryStore()
	client := llm.NewMockClient(llm.MockResponse{
		Content: modelJSON("ok", core.StageGreeting, true, "headache"),
	})
	o := core.NewOrchestrator(client, store)

	// Establish a session first so the emergency turn has somewhere to go.
	_, err := o.Respond(ctx, "s1", "I have a headache")
	require.NoError(t, err)
	before, err := store.Get(ctx, "s1")
	require.NoError(t, err)

	reply, err := o.Respond(ctx, "s1", "now I'm having severe chest pain")
	require.NoError(t, err)

	assert.Equal(t, core.EmergencyResponse, reply.Message)
	assert.Equal(t, core.StageEmergency, reply.Metadata.Stage)
	assert.InDelta(t, 1.0, reply.Metadata.ConfidenceLevel, 1e-9)
	assert.False(t, reply.Metadata.NextStage)
	assert.Equal(t, 1, client.CallCount(), "emergency must not spend a model call")

	after, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	// Stage untouched, user turn audited, no assistant turn added.
	assert.Equal(t, before.Stage, after.Stage)
	require.Len(t, after.Transcript, len(before.Transcript)+1)
	assert.Equal(t, pkg.RoleUser, after.Transcript[len(after.Transcript)-1].Role)
}

func TestRespondEmergencyOnUnknownSession(t *testing.T) {
	ctx := context.Background()
	store := core.NewMemoryStore()
	client := llm.NewMockClient()
	o := core.NewOrchestrator(client, store)

	reply, err := o.Respond(ctx, "fresh", "severe bleeding everywhere")
	require.NoError(t, err)

	assert.Equal(t, core.StageEmergency, reply.Metadata.Stage)
	assert.Zero(t, client.CallCount())
	// A pure emergency message does not create a session.
	_, err = store.Get(ctx, "fresh")
	assert.True(t, errors.Is(err, errs.ErrNotFound))
}

func TestResetProducesFreshSession(t *testing.T) {
	ctx := context.Background()
	store := core.NewMemoryStore()
	client := llm.NewMockClient(
		llm.MockResponse{Content: modelJSON("a", core.StageGreeting, true, "headache")},
		llm.MockResponse{Content: modelJSON("b", core.StageGreeting, false)},
	)
	o := core.NewOrchestrator(client, store)

	_, err := o.Respond(ctx, "s1", "I have a headache")
	require.NoError(t, err)
	require.NoError(t, o.Reset(ctx, "s1"))

	// Resetting again is a no-op, not an error.
	require.NoError(t, o.Reset(ctx, "s1"))

	_, err = o.Respond(ctx, "s1", "starting over")
	require.NoError(t, err)

	session, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, core.StageGreeting, session.Stage)
	assert.Empty(t, session.DetectedSymptoms)
	assert.Equal(t, "starting over", session.Title)
}

func TestRespondValidation(t *testing.T) {
	o := core.NewOrchestrator(llm.NewMockClient(), core.NewMemoryStore())

	_, err := o.Respond(context.Background(), "", "hello")
	assert.True(t, errors.Is(err, errs.ErrValidation))

	_, err = o.Respond(context.Background(), "s1", "   ")
	assert.True(t, errors.Is(err, errs.ErrValidation))
}

func TestStatus(t *testing.T) {
	ctx := context.Background()
	store := core.NewMemoryStore()
	client := llm.NewMockClient(llm.MockResponse{
		Content: modelJSON("ok", core.StageGreeting, false, "cough"),
	})
	o := core.NewOrchestrator(client, store)

	status, err := o.Status(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, status.Exists)

	_, err = o.Respond(ctx, "s1", "I have a cough")
	require.NoError(t, err)

	status, err = o.Status(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, status.Exists)
	assert.Equal(t, core.StageGreeting, status.Stage)
	assert.Equal(t, 2, status.MessageCount)
	assert.Equal(t, []string{"cough"}, status.DetectedSymptoms)
}

func TestTitleSetOnce(t *testing.T) {
	ctx := context.Background()
	store := core.NewMemoryStore()
	client := llm.NewMockClient(llm.MockResponse{Content: modelJSON("ok", core.StageGreeting, false)})
	o := core.NewOrchestrator(client, store)

	_, err := o.Respond(ctx, "s1", "My very first complaint")
	require.NoError(t, err)
	_, err = o.Respond(ctx, "s1", "A completely different message")
	require.NoError(t, err)

	session, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "My very first complaint", session.Title)
}
