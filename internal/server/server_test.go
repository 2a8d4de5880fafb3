package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talkxo/sequence-email/internal/canvas"
	"github.com/talkxo/sequence-email/internal/dispatch"
	"github.com/talkxo/sequence-email/internal/sequence"
)

type fakeGenerator struct {
	err      error
	deadline time.Duration
	previous []sequence.Email
	entered  chan struct{}
	block    chan struct{}
}

func (f *fakeGenerator) GenerateSequence(ctx context.Context, form sequence.FormData) ([]sequence.Email, error) {
	if dl, ok := ctx.Deadline(); ok {
		f.deadline = time.Until(dl)
	}
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	if f.err != nil {
		return nil, f.err
	}
	emails := make([]sequence.Email, form.NumberOfEmails)
	for i := range emails {
		emails[i] = sequence.Email{EmailNumber: i + 1, Subject: fmt.Sprintf("Subject %d", i+1), Body: "body"}
	}
	return emails, nil
}

func (f *fakeGenerator) GenerateEmail(_ context.Context, _ sequence.FormData, n int, previous []sequence.Email) (sequence.Email, error) {
	f.previous = previous
	if f.err != nil {
		return sequence.Email{}, f.err
	}
	return sequence.Email{EmailNumber: n, Subject: "Single", Body: "body"}, nil
}

func (f *fakeGenerator) Autofill(_ context.Context, description string) (sequence.Autofill, error) {
	if f.err != nil {
		return sequence.Autofill{}, f.err
	}
	return sequence.Autofill{TargetAudience: "Founders", PainPoints: "time", PrimaryGoal: "purchase", ToneOfVoice: "casual"}, nil
}

func (f *fakeGenerator) GenerateVariant(_ context.Context, subject string, _ sequence.FormData) (sequence.ABVariants, error) {
	if f.err != nil {
		return sequence.ABVariants{}, f.err
	}
	return sequence.ABVariants{VariantA: subject, VariantB: "Alt " + subject}, nil
}

type fakeStats struct{}

func (fakeStats) Stats() dispatch.Stats {
	return dispatch.Stats{TotalCredentials: 2, ActiveCredentials: 2}
}

var fixedNow = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

func newTestServer(gen *fakeGenerator) (*Server, *canvas.Editor) {
	editor := canvas.NewEditor(canvas.WithClock(func() time.Time { return fixedNow }))
	s := New(Options{
		Generator: gen,
		Stats:     fakeStats{},
		Editor:    editor,
		Gatherer:  prometheus.NewRegistry(),
		Now:       func() time.Time { return fixedNow },
	})
	return s, editor
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m), w.Body.String())
	return m
}

const validForm = `{"productDescription":"BudgetPro for freelancers","primaryGoal":"purchase","toneOfVoice":"friendly","numberOfEmails":3}`

func TestHealth(t *testing.T) {
	s, _ := newTestServer(&fakeGenerator{})
	w := do(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSPreflight(t *testing.T) {
	s, _ := newTestServer(&fakeGenerator{})
	w := do(t, s, http.MethodOptions, "/api/generate", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "PATCH")
}

func TestStatsAndModels(t *testing.T) {
	s, _ := newTestServer(&fakeGenerator{})

	w := do(t, s, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, decode(t, w)["totalCredentials"])

	w = do(t, s, http.MethodGet, "/api/models", "")
	require.Equal(t, http.StatusOK, w.Code)
	m := decode(t, w)
	assert.Len(t, m["models"], len(dispatch.DefaultModels))
	assert.Equal(t, dispatch.DefaultModels[0].ID, m["best"].(map[string]any)["id"])
}

func TestSetCredential(t *testing.T) {
	pool, err := dispatch.NewPool([]dispatch.Credential{{Name: "Primary", Secret: "a"}, {Name: "Secondary", Secret: "b"}})
	require.NoError(t, err)
	s := New(Options{
		Generator:   &fakeGenerator{},
		Stats:       pool,
		Credentials: pool,
		Editor:      canvas.NewEditor(),
		Gatherer:    prometheus.NewRegistry(),
	})

	w := do(t, s, http.MethodPatch, "/api/credentials/Primary", `{"active": false}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, false, decode(t, w)["active"])
	assert.Equal(t, 1, pool.ActiveCount())
	assert.Equal(t, "Secondary", pool.Current().Name)

	w = do(t, s, http.MethodGet, "/api/stats", "")
	assert.EqualValues(t, 1, decode(t, w)["activeCredentials"])

	w = do(t, s, http.MethodPatch, "/api/credentials/Missing", `{"active": true}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, s, http.MethodPatch, "/api/credentials/Primary", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSetCredentialUnconfigured(t *testing.T) {
	s, _ := newTestServer(&fakeGenerator{})
	w := do(t, s, http.MethodPatch, "/api/credentials/Primary", `{"active": false}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestNodeTypes(t *testing.T) {
	s, _ := newTestServer(&fakeGenerator{})
	w := do(t, s, http.MethodGet, "/api/canvas/node-types", "")
	require.Equal(t, http.StatusOK, w.Code)
	types := decode(t, w)["types"].([]any)
	require.Len(t, types, len(canvas.NodeTypes))
	assert.Equal(t, "email", types[0])
	assert.Contains(t, types, "ab-test")
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(&fakeGenerator{})
	w := do(t, s, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGenerate(t *testing.T) {
	gen := &fakeGenerator{}
	s, _ := newTestServer(gen)

	w := do(t, s, http.MethodPost, "/api/generate", validForm)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	m := decode(t, w)
	assert.Equal(t, true, m["success"])
	assert.Len(t, m["emails"], 3)

	// 3 emails get the 60s floor.
	assert.InDelta(t, float64(60*time.Second), float64(gen.deadline), float64(time.Second))
}

func TestGenerateValidation(t *testing.T) {
	s, _ := newTestServer(&fakeGenerator{})

	for _, body := range []string{
		`{"numberOfEmails":3}`,
		`{"productDescription":"x","numberOfEmails":11}`,
		`{not json`,
	} {
		w := do(t, s, http.MethodPost, "/api/generate", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
		assert.Equal(t, false, decode(t, w)["success"])
	}
}

func TestGenerateErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
		msg  string
	}{
		{"timeout", &dispatch.ExhaustedError{Attempts: 3, Model: "m", Timeout: true, Err: context.DeadlineExceeded}, http.StatusRequestTimeout, "Request timed out. Please try again."},
		{"failure", &dispatch.ExhaustedError{Attempts: 3, Model: "m", Err: errors.New("API error (status 500)")}, http.StatusInternalServerError, "Failed to generate email sequence"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer(&fakeGenerator{err: tt.err})
			w := do(t, s, http.MethodPost, "/api/generate", validForm)
			assert.Equal(t, tt.code, w.Code)
			m := decode(t, w)
			assert.Equal(t, tt.msg, m["error"])
			assert.Contains(t, m["message"], "attempt(s) on m")
		})
	}
}

func TestGenerateSingle(t *testing.T) {
	gen := &fakeGenerator{}
	s, _ := newTestServer(gen)

	body := `{"formData":` + validForm + `,"previousEmails":[{"emailNumber":1,"subject":"First","body":"b"}],"emailNumber":2}`
	w := do(t, s, http.MethodPost, "/api/generate-single", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	email := decode(t, w)["email"].(map[string]any)
	assert.EqualValues(t, 2, email["emailNumber"])
	require.Len(t, gen.previous, 1)
	assert.Equal(t, "First", gen.previous[0].Subject)

	w = do(t, s, http.MethodPost, "/api/generate-single", `{"emailNumber":2}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Missing required fields", decode(t, w)["error"])
}

func TestAutofill(t *testing.T) {
	s, _ := newTestServer(&fakeGenerator{})

	w := do(t, s, http.MethodPost, "/api/autofill", `{"productDescription":"An onboarding toolkit for SaaS"}`)
	require.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)["data"].(map[string]any)
	assert.Equal(t, "Founders", data["targetAudience"])

	w = do(t, s, http.MethodPost, "/api/autofill", `{"productDescription":"  tiny  "}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, sequence.ErrDescriptionTooShort.Error(), decode(t, w)["error"])
}

func TestAutofillTimeout(t *testing.T) {
	s, _ := newTestServer(&fakeGenerator{err: fmt.Errorf("autofill: %w", context.DeadlineExceeded)})
	w := do(t, s, http.MethodPost, "/api/autofill", `{"productDescription":"An onboarding toolkit for SaaS"}`)
	assert.Equal(t, http.StatusRequestTimeout, w.Code)
}

func TestGenerateAB(t *testing.T) {
	s, _ := newTestServer(&fakeGenerator{})

	body := `{"originalSubject":"Welcome aboard","formData":` + validForm + `,"emailNumber":1}`
	w := do(t, s, http.MethodPost, "/api/generate-ab", body)
	require.Equal(t, http.StatusOK, w.Code)
	v := decode(t, w)["variants"].(map[string]any)
	assert.Equal(t, "Welcome aboard", v["variantA"])
	assert.Equal(t, "Alt Welcome aboard", v["variantB"])

	w = do(t, s, http.MethodPost, "/api/generate-ab", `{"formData":`+validForm+`,"emailNumber":1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGenerateAwaitsSlot(t *testing.T) {
	gen := &fakeGenerator{entered: make(chan struct{}, 1), block: make(chan struct{})}
	editor := canvas.NewEditor()
	s := New(Options{Generator: gen, Editor: editor, Gatherer: prometheus.NewRegistry(), MaxConcurrent: 1})

	done := make(chan int, 1)
	go func() {
		done <- do(t, s, http.MethodPost, "/api/generate", validForm).Code
	}()

	// Wait for the first request to take the only slot.
	select {
	case <-gen.entered:
	case <-time.After(time.Second):
		t.Fatal("first request never reached the generator")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/generate", strings.NewReader(validForm)).WithContext(ctx)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	close(gen.block)
	assert.Equal(t, http.StatusOK, <-done)
}

func TestCanvasFlow(t *testing.T) {
	s, editor := newTestServer(&fakeGenerator{})

	seed := `{"emails":[{"emailNumber":1,"subject":"One","body":"b1"},{"emailNumber":2,"subject":"Two","body":"b2"}],"formData":` + validForm + `}`
	w := do(t, s, http.MethodPost, "/api/canvas/seed", seed)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Len(t, decode(t, w)["nodes"], 3)

	w = do(t, s, http.MethodGet, "/api/canvas", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["connections"], 2)

	w = do(t, s, http.MethodPost, "/api/canvas/nodes", `{"type":"wait"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	waitID := decode(t, w)["id"].(string)

	w = do(t, s, http.MethodPost, "/api/canvas/nodes", `{"type":"webhook"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, s, http.MethodPatch, "/api/canvas/nodes/email-2", `{"position":{"x":0,"y":0}}`)
	require.Equal(t, http.StatusOK, w.Code)
	st := editor.State()
	assert.Equal(t, "email-2", st.Nodes[1].ID)
	assert.Equal(t, "trigger-start", st.Connections[0].From)
	assert.Equal(t, "email-2", st.Connections[0].To)

	w = do(t, s, http.MethodPatch, "/api/canvas/nodes/"+waitID, `{"data":{"duration":"4"}}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 4, decode(t, w)["data"].(map[string]any)["duration"])

	w = do(t, s, http.MethodPost, "/api/canvas/connections", `{"from":"email-1","to":"`+waitID+`","label":"later"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	connID := decode(t, w)["id"].(string)

	w = do(t, s, http.MethodPost, "/api/canvas/connections", `{"from":"email-1","to":"email-1"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, s, http.MethodDelete, "/api/canvas/connections/"+connID, "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = do(t, s, http.MethodDelete, "/api/canvas/connections/"+connID, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, s, http.MethodPost, "/api/canvas/connect/start", `{"nodeId":"`+waitID+`"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, waitID, decode(t, w)["connectionStart"])
	w = do(t, s, http.MethodPost, "/api/canvas/connect/complete", `{"nodeId":"email-1"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, waitID, decode(t, w)["from"])

	w = do(t, s, http.MethodPost, "/api/canvas/select/email-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "email-1", decode(t, w)["selectedNode"].(map[string]any)["id"])

	w = do(t, s, http.MethodDelete, "/api/canvas/nodes/email-1", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = do(t, s, http.MethodDelete, "/api/canvas/nodes/email-1", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	for _, c := range editor.State().Connections {
		assert.NotEqual(t, "email-1", c.From)
		assert.NotEqual(t, "email-1", c.To)
	}
	assert.Nil(t, editor.State().SelectedNode)
}

func TestCanvasSaveLoad(t *testing.T) {
	s, editor := newTestServer(&fakeGenerator{})
	editor.Seed([]sequence.Email{{EmailNumber: 1, Subject: "One", Body: "b"}}, nil)

	w := do(t, s, http.MethodGet, "/api/canvas/save", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `attachment; filename="email-sequence-2026-05-04.json"`, w.Header().Get("Content-Disposition"))
	saved := w.Body.String()

	other, otherEditor := newTestServer(&fakeGenerator{})
	w = do(t, other, http.MethodPost, "/api/canvas/load", saved)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, editor.State().Nodes, otherEditor.State().Nodes)

	before := otherEditor.State()
	w = do(t, other, http.MethodPost, "/api/canvas/load", `{"nodes":[{"id":"x","type":"bogus"}]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Error loading sequence file", decode(t, w)["error"])
	assert.Equal(t, before, otherEditor.State())
}

func TestCanvasExportAndMermaid(t *testing.T) {
	s, editor := newTestServer(&fakeGenerator{})

	w := do(t, s, http.MethodGet, "/api/canvas/mermaid", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	editor.Seed([]sequence.Email{{EmailNumber: 1, Subject: "One", Body: "b"}}, nil)

	w = do(t, s, http.MethodGet, "/api/canvas/export", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `attachment; filename="email-sequence-export-2026-05-04.json"`, w.Header().Get("Content-Disposition"))
	m := decode(t, w)
	assert.Len(t, m["sequence"], 1)
	assert.EqualValues(t, 1, m["metadata"].(map[string]any)["totalEmails"])

	w = do(t, s, http.MethodGet, "/api/canvas/mermaid", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("graph TD\n")))
	assert.Contains(t, w.Body.String(), "N1 --> N2")
}
