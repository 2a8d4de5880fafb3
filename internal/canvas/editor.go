package canvas

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/talkxo/sequence-email/internal/sequence"
)

var (
	ErrNodeNotFound       = errors.New("node not found")
	ErrConnectionNotFound = errors.New("connection not found")
	ErrInvalidConnection  = errors.New("invalid connection")
	ErrUnknownNodeType    = errors.New("unknown node type")
	ErrInvalidAttributes  = errors.New("invalid node attributes")
)

// Connection is a directed edge between two nodes.
type Connection struct {
	ID    string `json:"id"`
	From  string `json:"from"`
	To    string `json:"to"`
	Label string `json:"label,omitempty"`
}

// NodeUpdate is a partial update. Data keys are merged into the node's
// attributes; a Position on an email node pins it to the lane and restacks
// the ladder.
type NodeUpdate struct {
	Position *Position      `json:"position,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

// State is a snapshot of the editor.
type State struct {
	Nodes           []Node             `json:"nodes"`
	Connections     []Connection       `json:"connections"`
	SelectedNode    *Node              `json:"selectedNode"`
	ConnectionStart string             `json:"connectionStart,omitempty"`
	FormData        *sequence.FormData `json:"formData"`
}

// graph is the mutable editor state. Every operation works on a copy and
// the editor swaps it in whole, so nodes and connections change together.
type graph struct {
	nodes    []Node
	conns    []Connection
	selected string
	pending  string
	form     *sequence.FormData
}

func (g graph) clone() graph {
	c := g
	c.nodes = slices.Clone(g.nodes)
	c.conns = slices.Clone(g.conns)
	return c
}

func (g *graph) index(id string) int {
	return slices.IndexFunc(g.nodes, func(n Node) bool { return n.ID == id })
}

func (g *graph) has(id string) bool {
	return g.index(id) >= 0
}

// Editor is the single-writer owner of a workflow diagram. All public
// methods are safe for concurrent use; each one is applied atomically.
type Editor struct {
	mu          sync.Mutex
	g           graph
	newID       func(prefix string) string
	now         func() time.Time
	subscribers map[int]func(State)
	nextSub     int
}

// EditorOption configures an Editor.
type EditorOption func(*Editor)

// WithIDGenerator overrides node and connection id allocation.
func WithIDGenerator(fn func(prefix string) string) EditorOption {
	return func(e *Editor) { e.newID = fn }
}

// WithClock overrides the time source used for documents.
func WithClock(now func() time.Time) EditorOption {
	return func(e *Editor) { e.now = now }
}

// NewEditor returns an empty editor.
func NewEditor(opts ...EditorOption) *Editor {
	e := &Editor{
		newID:       func(prefix string) string { return prefix + "-" + uuid.NewString() },
		now:         time.Now,
		subscribers: make(map[int]func(State)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Subscribe registers fn to receive the state after every change. The
// returned func removes the subscription.
func (e *Editor) Subscribe(fn func(State)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextSub
	e.nextSub++
	e.subscribers[id] = fn
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.subscribers, id)
	}
}

// mutate applies fn to a copy of the graph and commits it only when fn
// succeeds.
func (e *Editor) mutate(fn func(g *graph) error) error {
	e.mu.Lock()
	work := e.g.clone()
	if err := fn(&work); err != nil {
		e.mu.Unlock()
		return err
	}
	e.g = work
	st := e.stateLocked()
	subs := make([]func(State), 0, len(e.subscribers))
	for _, fn := range e.subscribers {
		subs = append(subs, fn)
	}
	e.mu.Unlock()

	for _, fn := range subs {
		fn(st)
	}
	return nil
}

// State returns a snapshot of the current diagram.
func (e *Editor) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stateLocked()
}

func (e *Editor) stateLocked() State {
	st := State{
		Nodes:           slices.Clone(e.g.nodes),
		Connections:     slices.Clone(e.g.conns),
		ConnectionStart: e.g.pending,
	}
	if st.Nodes == nil {
		st.Nodes = []Node{}
	}
	if st.Connections == nil {
		st.Connections = []Connection{}
	}
	if i := e.g.index(e.g.selected); i >= 0 {
		n := e.g.nodes[i]
		st.SelectedNode = &n
	}
	if e.g.form != nil {
		f := *e.g.form
		st.FormData = &f
	}
	return st
}

// SetForm sets the product context used to fill new email nodes.
func (e *Editor) SetForm(form *sequence.FormData) {
	_ = e.mutate(func(g *graph) error {
		g.form = copyForm(form)
		return nil
	})
}

func copyForm(form *sequence.FormData) *sequence.FormData {
	if form == nil {
		return nil
	}
	f := *form
	return &f
}

// Seed replaces the diagram with a trigger followed by one email node per
// generated email, chained in order.
func (e *Editor) Seed(emails []sequence.Email, form *sequence.FormData) {
	_ = e.mutate(func(g *graph) error {
		trigger := Node{
			ID:       "trigger-start",
			Type:     NodeTrigger,
			Position: Position{X: LaneX, Y: TriggerY},
			Data:     TriggerAttributes{Event: "user_signup", Label: "User Signs Up"},
		}
		nodes := []Node{trigger}
		var conns []Connection
		for i, em := range emails {
			original := em
			n := Node{
				ID:       fmt.Sprintf("email-%d", i+1),
				Type:     NodeEmail,
				Position: Position{X: LaneX, Y: slotY(i)},
				Data: EmailAttributes{
					Subject:          em.Subject,
					Content:          em.Body,
					Template:         "default",
					SequencePosition: i + 1,
					OriginalEmail:    &original,
				},
			}
			from, id := nodes[len(nodes)-1].ID, fmt.Sprintf("conn-%d", i-1)
			if i == 0 {
				id = "conn-trigger"
			}
			conns = append(conns, Connection{ID: id, From: from, To: n.ID})
			nodes = append(nodes, n)
		}
		*g = graph{nodes: nodes, conns: conns, form: copyForm(form)}
		return nil
	})
}

// AddNode appends a node of type t one slot below the lowest email node.
// Email nodes are filled from the position templates using hint, or the
// editor's form when hint is nil, and are chained after the previous last
// email (or the trigger when they are the first email).
func (e *Editor) AddNode(t NodeType, hint *sequence.FormData) (Node, error) {
	if !t.Valid() {
		return Node{}, fmt.Errorf("%w: %q", ErrUnknownNodeType, t)
	}

	var created Node
	err := e.mutate(func(g *graph) error {
		form := hint
		if form == nil {
			form = g.form
		}

		emailCount := 0
		var last *Node
		for i := range g.nodes {
			n := &g.nodes[i]
			if n.Type != NodeEmail {
				continue
			}
			emailCount++
			if last == nil || n.Position.Y >= last.Position.Y {
				last = n
			}
		}

		y := StackOffset
		if last != nil {
			y = last.Position.Y + SlotHeight
		}
		n := Node{
			ID:       e.newID(string(t)),
			Type:     t,
			Position: Position{X: LaneX, Y: y},
			Data:     DefaultAttributes(t),
		}
		switch t {
		case NodeEmail:
			n.Data = emailTemplate(emailCount+1, form)
		case NodeTrigger:
			n.Position.Y = TriggerY
		}

		if t == NodeEmail {
			from := ""
			if last != nil {
				from = last.ID
			} else if i := slices.IndexFunc(g.nodes, func(n Node) bool { return n.Type == NodeTrigger }); i >= 0 {
				from = g.nodes[i].ID
			}
			if from != "" {
				g.conns = append(g.conns, Connection{ID: e.newID("conn"), From: from, To: n.ID})
			}
		}
		g.nodes = append(g.nodes, n)
		created = n
		return nil
	})
	return created, err
}

// UpdateNode applies a partial update to node id.
func (e *Editor) UpdateNode(id string, upd NodeUpdate) (Node, error) {
	var updated Node
	err := e.mutate(func(g *graph) error {
		i := g.index(id)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
		}
		n := g.nodes[i]
		if upd.Data != nil {
			attrs, err := mergeAttributes(n.Type, n.Data, upd.Data)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidAttributes, err)
			}
			n.Data = attrs
		}
		if upd.Position != nil {
			p := *upd.Position
			if n.Type == NodeEmail {
				p = Position{X: LaneX, Y: max(MinY, p.Y)}
			}
			n.Position = p
		}
		g.nodes[i] = n

		if upd.Position != nil && n.Type == NodeEmail {
			g.restack()
		}
		updated = g.nodes[g.index(id)]
		return nil
	})
	return updated, err
}

// DeleteNode removes node id and every connection touching it.
func (e *Editor) DeleteNode(id string) error {
	return e.mutate(func(g *graph) error {
		i := g.index(id)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
		}
		g.nodes = slices.Delete(g.nodes, i, i+1)
		g.conns = slices.DeleteFunc(g.conns, func(c Connection) bool { return c.From == id || c.To == id })
		if g.selected == id {
			g.selected = ""
		}
		if g.pending == id {
			g.pending = ""
		}
		return nil
	})
}

// AddConnection links two existing, distinct nodes. Cycles are allowed.
func (e *Editor) AddConnection(from, to, label string) (Connection, error) {
	var created Connection
	err := e.mutate(func(g *graph) error {
		if err := g.canConnect(from, to); err != nil {
			return err
		}
		created = Connection{ID: e.newID("conn"), From: from, To: to, Label: label}
		g.conns = append(g.conns, created)
		return nil
	})
	return created, err
}

func (g *graph) canConnect(from, to string) error {
	if from == to {
		return fmt.Errorf("%w: %s cannot connect to itself", ErrInvalidConnection, from)
	}
	for _, end := range []string{from, to} {
		if !g.has(end) {
			return fmt.Errorf("%w: %s", ErrNodeNotFound, end)
		}
	}
	return nil
}

// DeleteConnection removes connection id.
func (e *Editor) DeleteConnection(id string) error {
	return e.mutate(func(g *graph) error {
		i := slices.IndexFunc(g.conns, func(c Connection) bool { return c.ID == id })
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrConnectionNotFound, id)
		}
		g.conns = slices.Delete(g.conns, i, i+1)
		return nil
	})
}

// StartConnection records id as the source of a pending connection.
func (e *Editor) StartConnection(id string) error {
	return e.mutate(func(g *graph) error {
		if !g.has(id) {
			return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
		}
		g.pending = id
		return nil
	})
}

// CompleteConnection connects the pending source to id. The pending source
// is cleared whether or not a connection was made.
func (e *Editor) CompleteConnection(id string) (Connection, error) {
	var created Connection
	var connErr error
	err := e.mutate(func(g *graph) error {
		from := g.pending
		g.pending = ""
		if from == "" {
			connErr = fmt.Errorf("%w: no connection in progress", ErrInvalidConnection)
			return nil
		}
		if connErr = g.canConnect(from, id); connErr != nil {
			return nil
		}
		created = Connection{ID: e.newID("conn"), From: from, To: id}
		g.conns = append(g.conns, created)
		return nil
	})
	if err != nil {
		return Connection{}, err
	}
	return created, connErr
}

// Select marks id as the selected node. An empty id clears the selection.
func (e *Editor) Select(id string) error {
	return e.mutate(func(g *graph) error {
		if id != "" && !g.has(id) {
			return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
		}
		g.selected = id
		return nil
	})
}
