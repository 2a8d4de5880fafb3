package canvas

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/talkxo/sequence-email/internal/sequence"
)

// ErrMalformedDocument is returned by Load when the input cannot be used.
var ErrMalformedDocument = errors.New("malformed canvas document")

// Document is the save format of a canvas.
type Document struct {
	Nodes       []Node             `json:"nodes"`
	Connections []Connection       `json:"connections"`
	FormData    *sequence.FormData `json:"formData"`
	Timestamp   time.Time          `json:"timestamp"`
}

// ExportedEmail is one email of an export document.
type ExportedEmail struct {
	Position int      `json:"position"`
	Subject  string   `json:"subject"`
	Content  string   `json:"content"`
	Type     NodeType `json:"type"`
}

// ExportedConnection is an edge without its id or label.
type ExportedConnection struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// ExportMetadata describes an export document.
type ExportMetadata struct {
	TotalEmails int                `json:"totalEmails"`
	CreatedAt   time.Time          `json:"createdAt"`
	FormData    *sequence.FormData `json:"formData"`
}

// ExportDocument is the reduced, email-only view of a canvas.
type ExportDocument struct {
	Sequence    []ExportedEmail      `json:"sequence"`
	Connections []ExportedConnection `json:"connections"`
	Metadata    ExportMetadata       `json:"metadata"`
}

// Selected returns the selected node, if any.
func (e *Editor) Selected() (Node, bool) {
	st := e.State()
	if st.SelectedNode == nil {
		return Node{}, false
	}
	return *st.SelectedNode, true
}

// Document returns the current canvas in save format.
func (e *Editor) Document() Document {
	st := e.State()
	return Document{
		Nodes:       st.Nodes,
		Connections: st.Connections,
		FormData:    st.FormData,
		Timestamp:   e.now().UTC(),
	}
}

// Save encodes the current canvas as an indented JSON document.
func (e *Editor) Save() ([]byte, error) {
	return json.MarshalIndent(e.Document(), "", "  ")
}

// Load replaces the canvas with a saved document. Missing top-level fields
// load as empty. Connections whose endpoints are not in the document are
// dropped. On error the current canvas is left untouched.
func (e *Editor) Load(data []byte) error {
	var doc struct {
		Nodes       []Node             `json:"nodes"`
		Connections []Connection       `json:"connections"`
		FormData    *sequence.FormData `json:"formData"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}

	seen := make(map[string]bool, len(doc.Nodes))
	for _, n := range doc.Nodes {
		if n.ID == "" {
			return fmt.Errorf("%w: node without id", ErrMalformedDocument)
		}
		if seen[n.ID] {
			return fmt.Errorf("%w: duplicate node id %q", ErrMalformedDocument, n.ID)
		}
		seen[n.ID] = true
	}

	return e.mutate(func(g *graph) error {
		conns := make([]Connection, 0, len(doc.Connections))
		for _, c := range doc.Connections {
			if !seen[c.From] || !seen[c.To] {
				slog.Warn("dropping dangling connection", "id", c.ID, "from", c.From, "to", c.To)
				continue
			}
			if c.ID == "" {
				c.ID = e.newID("conn")
			}
			conns = append(conns, c)
		}
		*g = graph{nodes: doc.Nodes, conns: conns, form: doc.FormData}
		return nil
	})
}

// Export returns the email-only view of the canvas. Empty subjects and
// contents are replaced with placeholders.
func (e *Editor) Export() ExportDocument {
	st := e.State()
	out := ExportDocument{
		Sequence:    []ExportedEmail{},
		Connections: make([]ExportedConnection, 0, len(st.Connections)),
		Metadata:    ExportMetadata{CreatedAt: e.now().UTC(), FormData: st.FormData},
	}
	for _, n := range st.Nodes {
		a, ok := n.Email()
		if !ok {
			continue
		}
		em := ExportedEmail{Position: a.SequencePosition, Subject: a.Subject, Content: a.Content, Type: n.Type}
		if em.Subject == "" {
			em.Subject = "No Subject"
		}
		if em.Content == "" {
			em.Content = "No Content"
		}
		out.Sequence = append(out.Sequence, em)
	}
	for _, c := range st.Connections {
		out.Connections = append(out.Connections, ExportedConnection{From: c.From, To: c.To})
	}
	out.Metadata.TotalEmails = len(out.Sequence)
	return out
}

// SaveFileName is the download name of a save document written at t.
func SaveFileName(t time.Time) string {
	return "email-sequence-" + t.UTC().Format(time.DateOnly) + ".json"
}

// ExportFileName is the download name of an export document written at t.
func ExportFileName(t time.Time) string {
	return "email-sequence-export-" + t.UTC().Format(time.DateOnly) + ".json"
}
