package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/talkxo/sequence-email/internal/sequence"
)

// acquire holds a generation slot until the returned release is called. It
// fails when the client goes away while waiting.
func (s *Server) acquire(w http.ResponseWriter, r *http.Request) (func(), bool) {
	if err := s.sem.Acquire(r.Context(), 1); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "server busy"})
		return nil, false
	}
	return func() { s.sem.Release(1) }, true
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var form sequence.FormData
	if err := decodeJSON(w, r, &form); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON"})
		return
	}
	if err := form.Validate(); err != nil {
		writeGenerationError(w, "", err)
		return
	}

	release, ok := s.acquire(w, r)
	if !ok {
		return
	}
	defer release()

	ctx, cancel := context.WithTimeout(r.Context(), sequence.SequenceTimeout(form.NumberOfEmails))
	defer cancel()

	emails, err := s.gen.GenerateSequence(ctx, form)
	if err != nil {
		writeGenerationError(w, "Failed to generate email sequence", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "emails": emails})
}

type generateSingleRequest struct {
	FormData       *sequence.FormData `json:"formData"`
	PreviousEmails []sequence.Email   `json:"previousEmails"`
	EmailNumber    int                `json:"emailNumber"`
}

func (s *Server) handleGenerateSingle(w http.ResponseWriter, r *http.Request) {
	var req generateSingleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON"})
		return
	}
	if req.FormData == nil || req.EmailNumber < 1 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Missing required fields"})
		return
	}

	release, ok := s.acquire(w, r)
	if !ok {
		return
	}
	defer release()

	ctx, cancel := s.singleTimeout(r)
	defer cancel()

	email, err := s.gen.GenerateEmail(ctx, *req.FormData, req.EmailNumber, req.PreviousEmails)
	if err != nil {
		writeGenerationError(w, "Failed to generate email", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "email": email})
}

type autofillRequest struct {
	ProductDescription string `json:"productDescription"`
}

func (s *Server) handleAutofill(w http.ResponseWriter, r *http.Request) {
	var req autofillRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON"})
		return
	}
	if len(strings.TrimSpace(req.ProductDescription)) < sequence.MinDescriptionLength {
		writeGenerationError(w, "", sequence.ErrDescriptionTooShort)
		return
	}

	release, ok := s.acquire(w, r)
	if !ok {
		return
	}
	defer release()

	ctx, cancel := s.singleTimeout(r)
	defer cancel()

	data, err := s.gen.Autofill(ctx, req.ProductDescription)
	if err != nil {
		writeGenerationError(w, "Failed to autofill form", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": data})
}

type generateABRequest struct {
	OriginalSubject string             `json:"originalSubject"`
	FormData        *sequence.FormData `json:"formData"`
	EmailNumber     int                `json:"emailNumber"`
}

func (s *Server) handleGenerateAB(w http.ResponseWriter, r *http.Request) {
	var req generateABRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON"})
		return
	}
	if strings.TrimSpace(req.OriginalSubject) == "" || req.FormData == nil || req.EmailNumber < 1 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Missing required fields for A/B variant generation"})
		return
	}

	release, ok := s.acquire(w, r)
	if !ok {
		return
	}
	defer release()

	ctx, cancel := s.singleTimeout(r)
	defer cancel()

	variants, err := s.gen.GenerateVariant(ctx, req.OriginalSubject, *req.FormData)
	if err != nil {
		writeGenerationError(w, "Failed to generate A/B variants", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "variants": variants})
}

func (s *Server) singleTimeout(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), sequence.SingleTimeout)
}
