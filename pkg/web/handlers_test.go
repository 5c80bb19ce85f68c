package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenciapixel/connectflow/pkg/engine"
	"github.com/agenciapixel/connectflow/pkg/gateway"
	"github.com/agenciapixel/connectflow/pkg/models"
	"github.com/agenciapixel/connectflow/pkg/persistence/memory"
	"github.com/agenciapixel/connectflow/pkg/web"
)

type fakeGateway struct {
	mu  sync.Mutex
	ops []gateway.Operation
}

func (g *fakeGateway) Execute(_ context.Context, op gateway.Operation, token gateway.Token) (*gateway.Ack, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.ops = append(g.ops, op)

	return &gateway.Ack{ProviderID: "prov-" + token.String()}, nil
}

func setupTestApp(t *testing.T) (*fiber.App, *memory.Persistence) {
	t.Helper()

	p := memory.NewPersistence()
	eng := engine.New(engine.Config{
		Persistence: p,
		Gateway:     &fakeGateway{},
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	handlers := web.NewAPIHandlers(eng, p, validator.New(validator.WithRequiredStructEnabled()))

	app := fiber.New()
	handlers.Register(app)

	return app, p
}

func doJSON(t *testing.T, app *fiber.App, method, path string, payload any) (*http.Response, []byte) {
	t.Helper()

	var body []byte

	if str, ok := payload.(string); ok {
		body = []byte(str)
	} else if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		require.NoError(t, err)
	}

	req := httptest.NewRequest(method, path, bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp, raw
}

func messageFlowRequest(groupID string) web.PublishFlowRequest {
	return web.PublishFlowRequest{
		Name:        "Welcome Flow",
		ChannelType: "whatsapp",
		FlowGroupID: groupID,
		Steps: []models.Step{
			{
				ID:     "hello",
				Type:   models.StepTypeMessage,
				Config: &models.MessageConfig{Template: "hi {{.contact_id}}"},
			},
		},
	}
}

func waitFlowRequest() web.PublishFlowRequest {
	return web.PublishFlowRequest{
		Name:        "Reply Flow",
		ChannelType: "whatsapp",
		Steps: []models.Step{
			{
				ID:     "ask",
				Type:   models.StepTypeWaitForResponse,
				Config: &models.WaitForResponseConfig{TimeoutSeconds: 3600},
				Branches: map[string]string{
					models.BranchReplied: "thanks",
					models.BranchTimeout: "nudge",
				},
			},
			{
				ID:     "thanks",
				Type:   models.StepTypeMessage,
				Config: &models.MessageConfig{Template: "thanks!"},
			},
			{
				ID:     "nudge",
				Type:   models.StepTypeMessage,
				Config: &models.MessageConfig{Template: "still there?"},
			},
		},
	}
}

func publishFlow(t *testing.T, app *fiber.App, req web.PublishFlowRequest) models.FlowDefinition {
	t.Helper()

	resp, body := doJSON(t, app, http.MethodPost, "/flows/publish", req)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var flow models.FlowDefinition
	require.NoError(t, json.Unmarshal(body, &flow))

	return flow
}

func enroll(t *testing.T, app *fiber.App, contactID, flowID string) web.RunResponse {
	t.Helper()

	resp, body := doJSON(t, app, http.MethodPost, "/runs", web.EnrollRequest{ContactID: contactID, FlowID: flowID})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var run web.RunResponse
	require.NoError(t, json.Unmarshal(body, &run))

	return run
}

func TestValidateFlow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		requestBody    any
		expectedStatus int
		expectValid    bool
	}{
		{
			name:           "valid flow",
			requestBody:    messageFlowRequest(""),
			expectedStatus: http.StatusOK,
			expectValid:    true,
		},
		{
			name: "dangling successor",
			requestBody: web.ValidateFlowRequest{
				Name:        "Broken Flow",
				ChannelType: "whatsapp",
				Steps: []models.Step{
					{
						ID:     "hello",
						Type:   models.StepTypeMessage,
						Config: &models.MessageConfig{Template: "hi"},
						Next:   "missing",
					},
				},
			},
			expectedStatus: http.StatusOK,
			expectValid:    false,
		},
		{
			name:           "invalid JSON",
			requestBody:    "not-json",
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "missing steps",
			requestBody: web.ValidateFlowRequest{
				Name:        "Empty Flow",
				ChannelType: "sms",
			},
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			app, _ := setupTestApp(t)

			resp, body := doJSON(t, app, http.MethodPost, "/flows/validate", tt.requestBody)
			assert.Equal(t, tt.expectedStatus, resp.StatusCode, string(body))

			if tt.expectedStatus != http.StatusOK {
				return
			}

			var result web.ValidationResultResponse
			require.NoError(t, json.Unmarshal(body, &result))
			assert.Equal(t, tt.expectValid, result.Valid)

			if !tt.expectValid {
				assert.NotEmpty(t, result.Errors)
			}
		})
	}
}

func TestValidateFlowReportsConfigShapeProblems(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	// An unknown step type and a mis-shaped delay config would both blow
	// up step decoding; validation must report them per step instead.
	body := `{
		"name": "Broken Flow",
		"channel_type": "whatsapp",
		"steps": [
			{"id": "beam", "type": "teleport", "config": {}},
			{"id": "pause", "type": "delay", "config": {"amount": "soon"}}
		]
	}`

	resp, raw := doJSON(t, app, http.MethodPost, "/flows/validate", body)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))

	var result web.ValidationResultResponse
	require.NoError(t, json.Unmarshal(raw, &result))
	assert.False(t, result.Valid)
	require.NotEmpty(t, result.Errors)

	stepIDs := make([]string, 0, len(result.Errors))
	for _, issue := range result.Errors {
		stepIDs = append(stepIDs, issue.StepID)
	}

	assert.Contains(t, stepIDs, "beam")
	assert.Contains(t, stepIDs, "pause")
}

func TestPublishFlowRejectsUnknownStepType(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	body := `{
		"name": "Broken Flow",
		"channel_type": "whatsapp",
		"steps": [
			{"id": "beam", "type": "teleport", "config": {}}
		]
	}`

	resp, raw := doJSON(t, app, http.MethodPost, "/flows/publish", body)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode, string(raw))

	var result web.ValidationResultResponse
	require.NoError(t, json.Unmarshal(raw, &result))
	assert.False(t, result.Valid)
	require.NotEmpty(t, result.Errors)
	assert.Equal(t, "beam", result.Errors[0].StepID)
}

func TestPublishFlow(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	first := publishFlow(t, app, messageFlowRequest(""))
	assert.Equal(t, 1, first.Version)
	assert.Equal(t, models.FlowStatusPublished, first.Status)
	assert.NotEmpty(t, first.FlowGroupID)

	// Publishing into the same group yields the next version.
	second := publishFlow(t, app, messageFlowRequest(first.FlowGroupID))
	assert.Equal(t, 2, second.Version)
	assert.Equal(t, first.FlowGroupID, second.FlowGroupID)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestPublishFlowRejectsInvalidDraft(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	req := messageFlowRequest("")
	req.Steps[0].Next = "missing"

	resp, body := doJSON(t, app, http.MethodPost, "/flows/publish", req)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	var result web.ValidationResultResponse
	require.NoError(t, json.Unmarshal(body, &result))
	assert.False(t, result.Valid)
	assert.NotEmpty(t, result.Errors)
}

func TestEnrollRunsFlowToCompletion(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	flow := publishFlow(t, app, messageFlowRequest(""))

	run := enroll(t, app, "alice", flow.ID)
	assert.Equal(t, "completed", run.Status)
	assert.Len(t, run.History, 1)

	again := enroll(t, app, "alice", flow.ID)
	assert.NotEqual(t, run.ID, again.ID, "a terminal run no longer blocks enrollment")
}

func TestEnrollIsIdempotentWhileRunIsActive(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	flow := publishFlow(t, app, waitFlowRequest())

	first := enroll(t, app, "alice", flow.ID)
	second := enroll(t, app, "alice", flow.ID)
	assert.Equal(t, first.ID, second.ID, "duplicate triggers must land on the same run")
}

func TestGetRun(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	flow := publishFlow(t, app, waitFlowRequest())
	run := enroll(t, app, "alice", flow.ID)
	assert.Equal(t, "waiting", run.Status)

	resp, body := doJSON(t, app, http.MethodGet, "/runs/"+run.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got web.RunResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, "ask", got.CurrentStepID)
	assert.NotNil(t, got.WaitingSince)

	resp, _ = doJSON(t, app, http.MethodGet, "/runs/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCancelRun(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	flow := publishFlow(t, app, waitFlowRequest())
	run := enroll(t, app, "alice", flow.ID)

	resp, body := doJSON(t, app, http.MethodPost, "/runs/"+run.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got web.RunResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "cancelled", got.Status)
}

func TestInboundEventResolvesWaitingRun(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	flow := publishFlow(t, app, waitFlowRequest())
	run := enroll(t, app, "alice", flow.ID)
	require.Equal(t, "waiting", run.Status)

	resp, _ := doJSON(t, app, http.MethodPost, "/events", web.InboundEventRequest{
		ContactID: "alice",
		Channel:   "whatsapp",
		Payload:   map[string]any{"text": "yes"},
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, body := doJSON(t, app, http.MethodGet, "/runs/"+run.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got web.RunResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "completed", got.Status)
	assert.Equal(t, "thanks", got.History[len(got.History)-1].StepID)
}

func TestInboundEventWithNoWaitingRunIsAccepted(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	resp, _ := doJSON(t, app, http.MethodPost, "/events", web.InboundEventRequest{
		ContactID: "nobody",
		Channel:   "whatsapp",
	})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}
