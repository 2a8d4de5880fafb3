package canvas

import (
	"fmt"
	"sort"
	"strings"

	"github.com/talkxo/sequence-email/internal/sequence"
)

// Email nodes are stacked in a single vertical lane.
const (
	LaneX       = 300.0
	StackOffset = 100.0
	SlotHeight  = 250.0
	MinY        = 40.0
	TriggerY    = 40.0
)

// slotY is the vertical coordinate of the i-th (0-based) email in the stack.
func slotY(i int) float64 {
	return StackOffset + float64(i)*SlotHeight
}

// restack sorts email nodes by height, respaces them evenly and rebuilds
// the connection chain trigger -> email1 -> email2 ... from scratch. The
// node order becomes [first trigger, emails..., everything else].
func (g *graph) restack() {
	var trigger *Node
	var emails, others []Node
	for _, n := range g.nodes {
		switch {
		case n.Type == NodeEmail:
			emails = append(emails, n)
		case n.Type == NodeTrigger && trigger == nil:
			t := n
			trigger = &t
		default:
			others = append(others, n)
		}
	}

	sort.SliceStable(emails, func(i, j int) bool { return emails[i].Position.Y < emails[j].Position.Y })
	for i := range emails {
		emails[i].Position = Position{X: LaneX, Y: slotY(i)}
		if a, ok := emails[i].Email(); ok {
			a.SequencePosition = i + 1
			emails[i].Data = a
		}
	}

	conns := make([]Connection, 0, len(emails))
	if trigger != nil && len(emails) > 0 {
		conns = append(conns, Connection{ID: "conn-trigger", From: trigger.ID, To: emails[0].ID})
	}
	for i := 0; i < len(emails)-1; i++ {
		conns = append(conns, Connection{ID: fmt.Sprintf("conn-%d", i), From: emails[i].ID, To: emails[i+1].ID})
	}

	nodes := make([]Node, 0, len(g.nodes))
	if trigger != nil {
		nodes = append(nodes, *trigger)
	}
	nodes = append(nodes, emails...)
	nodes = append(nodes, others...)
	g.nodes = nodes
	g.conns = conns
}

// emailTemplate fills an added email node for the given 1-based position.
// Positions past the last template reuse it.
func emailTemplate(pos int, form *sequence.FormData) EmailAttributes {
	a := EmailAttributes{Template: "default", SequencePosition: pos}
	if form == nil {
		a.Subject = fmt.Sprintf("Email %d", pos)
		a.Content = "Auto-generated email content"
		return a
	}

	product := firstWord(form.ProductDescription, "Our Product")
	audience := firstWord(form.TargetAudience, "Customer")
	tone := form.ToneOfVoice
	templates := []struct{ subject, objective, points, cta string }{
		{
			"Welcome to " + product + "!",
			"Welcome new user and introduce the product",
			"• Thank you for signing up\n• Here's what you can expect",
			"Get Started",
		},
		{
			"Why " + audience + "s Love Our Product",
			"Educate about product benefits",
			"• Key features and benefits\n• Customer testimonials",
			"Learn More",
		},
		{
			"Don't Miss Out - Limited Time Offer!",
			"Create urgency and drive action",
			"• Special offer details\n• Limited time availability",
			"Claim Offer",
		},
		{
			"Final Reminder - Your Offer Expires Soon",
			"Last chance conversion",
			"• Final call to action\n• What happens next",
			"Act Now",
		},
	}
	t := templates[min(max(pos, 1), len(templates))-1]
	a.Subject = t.subject
	a.Content = sequence.FormatBody(t.objective, t.points, t.cta, tone)
	return a
}

func firstWord(s, fallback string) string {
	if f := strings.Fields(s); len(f) > 0 {
		return f[0]
	}
	return fallback
}
