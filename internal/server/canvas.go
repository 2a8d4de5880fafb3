package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/talkxo/sequence-email/internal/canvas"
	"github.com/talkxo/sequence-email/internal/sequence"
)

func (s *Server) handleCanvasState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.editor.State())
}

func (s *Server) handleNodeTypes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"types": canvas.NodeTypes})
}

type seedRequest struct {
	Emails   []sequence.Email   `json:"emails"`
	FormData *sequence.FormData `json:"formData"`
}

func (s *Server) handleCanvasSeed(w http.ResponseWriter, r *http.Request) {
	var req seedRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	s.editor.Seed(req.Emails, req.FormData)
	writeJSON(w, http.StatusOK, s.editor.State())
}

type addNodeRequest struct {
	Type     canvas.NodeType    `json:"type"`
	FormData *sequence.FormData `json:"formData"`
}

func (s *Server) handleAddNode(w http.ResponseWriter, r *http.Request) {
	var req addNodeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	node, err := s.editor.AddNode(req.Type, req.FormData)
	if err != nil {
		writeCanvasError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, node)
}

func (s *Server) handleUpdateNode(w http.ResponseWriter, r *http.Request) {
	var upd canvas.NodeUpdate
	if err := decodeJSON(w, r, &upd); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	node, err := s.editor.UpdateNode(chi.URLParam(r, "id"), upd)
	if err != nil {
		writeCanvasError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, node)
}

func (s *Server) handleDeleteNode(w http.ResponseWriter, r *http.Request) {
	if err := s.editor.DeleteNode(chi.URLParam(r, "id")); err != nil {
		writeCanvasError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	if err := s.editor.Select(chi.URLParam(r, "id")); err != nil {
		writeCanvasError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.editor.State())
}

type connectionRequest struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Label string `json:"label"`
}

func (s *Server) handleAddConnection(w http.ResponseWriter, r *http.Request) {
	var req connectionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	conn, err := s.editor.AddConnection(req.From, req.To, req.Label)
	if err != nil {
		writeCanvasError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, conn)
}

func (s *Server) handleDeleteConnection(w http.ResponseWriter, r *http.Request) {
	if err := s.editor.DeleteConnection(chi.URLParam(r, "id")); err != nil {
		writeCanvasError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type gestureRequest struct {
	NodeID string `json:"nodeId"`
}

func (s *Server) handleConnectStart(w http.ResponseWriter, r *http.Request) {
	var req gestureRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if err := s.editor.StartConnection(req.NodeID); err != nil {
		writeCanvasError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.editor.State())
}

func (s *Server) handleConnectComplete(w http.ResponseWriter, r *http.Request) {
	var req gestureRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	conn, err := s.editor.CompleteConnection(req.NodeID)
	if err != nil {
		writeCanvasError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, conn)
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	data, err := s.editor.Save()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", canvas.SaveFileName(s.now())))
	w.Write(data)
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 4<<20))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "read body"})
		return
	}
	if err := s.editor.Load(data); err != nil {
		if errors.Is(err, canvas.ErrMalformedDocument) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Error loading sequence file", "message": err.Error()})
			return
		}
		writeCanvasError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.editor.State())
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", canvas.ExportFileName(s.now())))
	writeJSON(w, http.StatusOK, s.editor.Export())
}

func (s *Server) handleMermaid(w http.ResponseWriter, r *http.Request) {
	out, err := s.editor.Mermaid()
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, out)
}
