package flow

import (
	"strings"
	"unicode"

	"github.com/Rrens/flowbot/internal/domain"
)

var startIDs = map[string]bool{"start": true, "inicio": true, "start-node": true}

var startLabels = []string{"start", "inicio", "begin", "comienzo", "início"}

var recoveryKeywords = []string{"start", "inicio", "welcome", "bienvenida", "greeting", "hello"}

// ResolveEntry picks the node a fresh conversation starts at. Authoring tools
// do not guarantee a single canonical start node, so the lookup falls back
// through start-like heuristics, the topmost node and finally the first node.
func ResolveEntry(g *domain.Graph) (string, bool) {
	if g == nil || g.Len() == 0 {
		return "", false
	}

	for _, n := range g.Nodes {
		if n.Kind == domain.KindStart {
			if next, ok := g.Next(n.ID, domain.HandleNext); ok {
				return next, true
			}
			return n.ID, true
		}
	}

	for _, n := range g.Nodes {
		if looksLikeStart(n) {
			if n.Kind == domain.KindStart {
				if next, ok := g.Next(n.ID, domain.HandleNext); ok {
					return next, true
				}
			}
			return n.ID, true
		}
	}

	var top *domain.Node
	for i := range g.Nodes {
		n := &g.Nodes[i]
		if n.Position == nil {
			continue
		}
		if top == nil || n.Position.Y < top.Position.Y {
			top = n
		}
	}
	if top != nil {
		return top.ID, true
	}

	return g.Nodes[0].ID, true
}

func looksLikeStart(n domain.Node) bool {
	if startIDs[strings.ToLower(n.ID)] {
		return true
	}
	if strings.Contains(strings.ToLower(n.Type), "start") {
		return true
	}
	label := strings.ToLower(strings.TrimSpace(n.Label))
	for _, l := range startLabels {
		if label == l {
			return true
		}
	}
	return false
}

// RecoverNode finds a node close to an id that no longer resolves: first by
// a case and punctuation insensitive substring match, then by common
// opening keywords in node ids and labels.
func RecoverNode(g *domain.Graph, id string) (*domain.Node, bool) {
	if g == nil {
		return nil, false
	}
	want := normalizeID(id)
	if want != "" {
		for i := range g.Nodes {
			have := normalizeID(g.Nodes[i].ID)
			if have == "" {
				continue
			}
			if strings.Contains(have, want) || strings.Contains(want, have) {
				return &g.Nodes[i], true
			}
		}
	}
	for _, kw := range recoveryKeywords {
		for i := range g.Nodes {
			n := &g.Nodes[i]
			if strings.Contains(normalizeID(n.ID), kw) || strings.Contains(normalizeID(n.Label), kw) {
				return n, true
			}
		}
	}
	return nil, false
}

func normalizeID(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
