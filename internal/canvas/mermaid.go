package canvas

import (
	"errors"
	"fmt"
	"strings"
)

// Mermaid renders the canvas as a top-down Mermaid flowchart. Nodes are
// numbered in canvas order; connections to unknown nodes are skipped.
func (e *Editor) Mermaid() (string, error) {
	st := e.State()
	if len(st.Nodes) == 0 {
		return "", errors.New("canvas has no nodes")
	}

	var sb strings.Builder
	sb.WriteString("graph TD\n")

	ids := make(map[string]string, len(st.Nodes))
	for i, n := range st.Nodes {
		id := fmt.Sprintf("N%d", i+1)
		ids[n.ID] = id
		fmt.Fprintf(&sb, "    %s%s\n", id, shape(n.Type, quoteLabel(nodeLabel(n))))
	}

	if len(st.Connections) > 0 {
		sb.WriteString("\n")
	}
	for _, c := range st.Connections {
		from, ok := ids[c.From]
		if !ok {
			continue
		}
		to, ok := ids[c.To]
		if !ok {
			continue
		}
		if c.Label != "" {
			fmt.Fprintf(&sb, "    %s -->|%s| %s\n", from, quoteLabel(c.Label), to)
		} else {
			fmt.Fprintf(&sb, "    %s --> %s\n", from, to)
		}
	}
	return sb.String(), nil
}

func nodeLabel(n Node) string {
	switch a := n.Data.(type) {
	case EmailAttributes:
		if a.SequencePosition > 0 {
			return fmt.Sprintf("%d. %s", a.SequencePosition, a.Subject)
		}
		return a.Subject
	case WaitAttributes:
		return fmt.Sprintf("Wait %d %s", a.Duration, a.Unit)
	case TriggerAttributes:
		if a.Label != "" {
			return a.Label
		}
		return a.Event
	case ABTestAttributes:
		return fmt.Sprintf("A/B test %d/%d", a.Split, 100-a.Split)
	case ConditionAttributes:
		if a.Field != "" {
			return strings.TrimSpace(fmt.Sprintf("If %s %s %s", a.Field, a.Operator, a.Value))
		}
		return "Condition"
	case SplitAttributes:
		if a.Percentage > 0 {
			return fmt.Sprintf("Split %d%%", a.Percentage)
		}
		return "Split"
	}
	return n.ID
}

func shape(t NodeType, label string) string {
	switch t {
	case NodeTrigger:
		return "([" + label + "])"
	case NodeWait:
		return "((" + label + "))"
	case NodeCondition:
		return "{" + label + "}"
	case NodeSplit:
		return "{{" + label + "}}"
	case NodeABTest:
		return "[[" + label + "]]"
	default:
		return "[" + label + "]"
	}
}

// Mermaid has no backslash escapes; labels are quoted and the characters
// that would still end a quoted label are written as entity codes.
var labelEscaper = strings.NewReplacer(
	`"`, "#quot;",
	"\r\n", "<br/>",
	"\n", "<br/>",
)

func quoteLabel(s string) string {
	return `"` + labelEscaper.Replace(s) + `"`
}
