// Package canvas holds the editable workflow diagram built from a generated
// sequence: typed nodes, directed connections, the vertical email ladder
// layout, and the save/load/export documents.
package canvas

import (
	"encoding/json"
	"fmt"

	"github.com/mitchellh/mapstructure"
	"github.com/talkxo/sequence-email/internal/sequence"
)

// NodeType identifies the kind of workflow step a node represents.
type NodeType string

const (
	NodeEmail     NodeType = "email"
	NodeWait      NodeType = "wait"
	NodeTrigger   NodeType = "trigger"
	NodeABTest    NodeType = "ab-test"
	NodeCondition NodeType = "condition"
	NodeSplit     NodeType = "split"
)

// NodeTypes lists every supported node type.
var NodeTypes = []NodeType{NodeEmail, NodeWait, NodeTrigger, NodeABTest, NodeCondition, NodeSplit}

// Valid reports whether t is a known node type.
func (t NodeType) Valid() bool {
	switch t {
	case NodeEmail, NodeWait, NodeTrigger, NodeABTest, NodeCondition, NodeSplit:
		return true
	}
	return false
}

// Position is a node's canvas coordinate.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Attributes is the type-specific data of a node. Each NodeType has exactly
// one implementation.
type Attributes interface {
	nodeType() NodeType
}

// EmailAttributes is the data of an email step.
type EmailAttributes struct {
	Subject          string          `json:"subject"`
	Content          string          `json:"content"`
	Template         string          `json:"template"`
	SequencePosition int             `json:"sequencePosition,omitempty"`
	OriginalEmail    *sequence.Email `json:"originalEmail,omitempty"`
}

// WaitUnit is the unit of a wait step duration.
type WaitUnit string

const (
	UnitMinutes WaitUnit = "minutes"
	UnitHours   WaitUnit = "hours"
	UnitDays    WaitUnit = "days"
	UnitWeeks   WaitUnit = "weeks"
)

// WaitAttributes is the data of a delay step.
type WaitAttributes struct {
	Duration int      `json:"duration"`
	Unit     WaitUnit `json:"unit"`
}

// TriggerCondition filters which contacts a trigger admits.
type TriggerCondition struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    string `json:"value"`
}

// TriggerAttributes is the data of an entry step.
type TriggerAttributes struct {
	Event      string             `json:"event"`
	Label      string             `json:"label,omitempty"`
	Conditions []TriggerCondition `json:"conditions,omitempty"`
}

// Variant is one arm of an A/B test.
type Variant struct {
	Subject string `json:"subject"`
	Content string `json:"content"`
}

// ABTestAttributes is the data of an A/B test step.
type ABTestAttributes struct {
	VariantA Variant `json:"variantA"`
	VariantB Variant `json:"variantB"`
	// Split is the percentage of contacts sent variant A.
	Split int `json:"split"`
}

// ConditionAttributes is the data of a branch on a contact field.
type ConditionAttributes struct {
	Field     string `json:"field,omitempty"`
	Operator  string `json:"operator,omitempty"`
	Value     string `json:"value,omitempty"`
	TruePath  string `json:"truePath,omitempty"`
	FalsePath string `json:"falsePath,omitempty"`
}

// SplitAttributes is the data of a random percentage split.
type SplitAttributes struct {
	Percentage int    `json:"percentage,omitempty"`
	PathA      string `json:"pathA,omitempty"`
	PathB      string `json:"pathB,omitempty"`
}

func (EmailAttributes) nodeType() NodeType     { return NodeEmail }
func (WaitAttributes) nodeType() NodeType      { return NodeWait }
func (TriggerAttributes) nodeType() NodeType   { return NodeTrigger }
func (ABTestAttributes) nodeType() NodeType    { return NodeABTest }
func (ConditionAttributes) nodeType() NodeType { return NodeCondition }
func (SplitAttributes) nodeType() NodeType     { return NodeSplit }

// DefaultAttributes returns the initial data of a freshly added node.
func DefaultAttributes(t NodeType) Attributes {
	switch t {
	case NodeEmail:
		return EmailAttributes{Subject: "New Email", Template: "default"}
	case NodeWait:
		return WaitAttributes{Duration: 1, Unit: UnitDays}
	case NodeTrigger:
		return TriggerAttributes{Event: "signup", Conditions: []TriggerCondition{}}
	case NodeABTest:
		return ABTestAttributes{
			VariantA: Variant{Subject: "Variant A"},
			VariantB: Variant{Subject: "Variant B"},
			Split:    50,
		}
	case NodeCondition:
		return ConditionAttributes{}
	case NodeSplit:
		return SplitAttributes{}
	}
	return nil
}

// Node is one step of the workflow diagram.
type Node struct {
	ID       string     `json:"id"`
	Type     NodeType   `json:"type"`
	Position Position   `json:"position"`
	Data     Attributes `json:"data"`
}

// Email returns the email data of n, if n is an email node.
func (n Node) Email() (EmailAttributes, bool) {
	a, ok := n.Data.(EmailAttributes)
	return a, ok
}

// UnmarshalJSON decodes the data bag into the attribute type selected by
// the node type. Missing data yields the type defaults.
func (n *Node) UnmarshalJSON(b []byte) error {
	var raw struct {
		ID       string         `json:"id"`
		Type     NodeType       `json:"type"`
		Position Position       `json:"position"`
		Data     map[string]any `json:"data"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	attrs, err := decodeAttributes(raw.Type, raw.Data)
	if err != nil {
		return fmt.Errorf("node %q: %w", raw.ID, err)
	}
	*n = Node{ID: raw.ID, Type: raw.Type, Position: raw.Position, Data: attrs}
	return nil
}

// decodeAttributes converts a loosely typed bag into the attribute struct
// for t. Scalars are coerced where possible, so "3" decodes into an int field.
func decodeAttributes(t NodeType, m map[string]any) (Attributes, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("unknown node type %q", t)
	}
	if m == nil {
		return DefaultAttributes(t), nil
	}
	switch t {
	case NodeEmail:
		return decodeAs[EmailAttributes](m)
	case NodeWait:
		return decodeAs[WaitAttributes](m)
	case NodeTrigger:
		return decodeAs[TriggerAttributes](m)
	case NodeABTest:
		return decodeAs[ABTestAttributes](m)
	case NodeCondition:
		return decodeAs[ConditionAttributes](m)
	default:
		return decodeAs[SplitAttributes](m)
	}
}

func decodeAs[T Attributes](m map[string]any) (Attributes, error) {
	var a T
	if err := decodeInto(m, &a); err != nil {
		return nil, err
	}
	return a, nil
}

func decodeInto(m map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(m); err != nil {
		return fmt.Errorf("decode attributes: %w", err)
	}
	return nil
}

// mergeAttributes overlays patch onto the current attributes of a node.
func mergeAttributes(t NodeType, current Attributes, patch map[string]any) (Attributes, error) {
	b, err := json.Marshal(current)
	if err != nil {
		return nil, fmt.Errorf("encode attributes: %w", err)
	}
	merged := map[string]any{}
	if err := json.Unmarshal(b, &merged); err != nil {
		return nil, fmt.Errorf("encode attributes: %w", err)
	}
	if merged == nil {
		merged = map[string]any{}
	}
	for k, v := range patch {
		merged[k] = v
	}
	return decodeAttributes(t, merged)
}
