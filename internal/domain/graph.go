package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Conventional handle names
const (
	HandleNext  = "next"
	HandleYes   = "yes"
	HandleNo    = "no"
	HandleError = "error"
)

// NodeKind is the closed set of node behaviours
type NodeKind string

const (
	KindStart             NodeKind = "start"
	KindMessage           NodeKind = "message"
	KindInput             NodeKind = "input"
	KindConditional       NodeKind = "conditional"
	KindCheckAvailability NodeKind = "check_availability"
	KindBookAppointment   NodeKind = "book_appointment"
	KindQualifyLead       NodeKind = "qualify_lead"
	KindEnd               NodeKind = "end"
	KindTransfer          NodeKind = "transfer"
	KindUnknown           NodeKind = "unknown"
)

var kindAliases = map[string]NodeKind{
	"start":             KindStart,
	"trigger":           KindStart,
	"entry":             KindStart,
	"message":           KindMessage,
	"text":              KindMessage,
	"sendmessage":       KindMessage,
	"input":             KindInput,
	"question":          KindInput,
	"prompt":            KindInput,
	"capture":           KindInput,
	"conditional":       KindConditional,
	"condition":         KindConditional,
	"if":                KindConditional,
	"branch":            KindConditional,
	"checkavailability": KindCheckAvailability,
	"availability":      KindCheckAvailability,
	"bookappointment":   KindBookAppointment,
	"booking":           KindBookAppointment,
	"book":              KindBookAppointment,
	"qualifylead":       KindQualifyLead,
	"leadqualification": KindQualifyLead,
	"qualify":           KindQualifyLead,
	"end":               KindEnd,
	"finish":            KindEnd,
	"transfer":          KindTransfer,
	"handoff":           KindTransfer,
	"human":             KindTransfer,
}

// ParseNodeKind normalizes an authored type tag; unrecognized tags map to KindUnknown
func ParseNodeKind(tag string) NodeKind {
	norm := normalizeTag(tag)
	if k, ok := kindAliases[norm]; ok {
		return k
	}
	if trimmed := strings.TrimSuffix(norm, "node"); trimmed != norm {
		if k, ok := kindAliases[trimmed]; ok {
			return k
		}
	}
	return KindUnknown
}

// IsAction reports whether the kind is served by a business action adapter
func (k NodeKind) IsAction() bool {
	switch k {
	case KindCheckAvailability, KindBookAppointment, KindQualifyLead:
		return true
	}
	return false
}

func normalizeTag(tag string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(tag) {
		if r == '-' || r == '_' || r == ' ' || r == '.' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// NodeData is the kind-specific payload of a node
type NodeData interface {
	nodeKind() NodeKind
}

// StartData marks the entry of a graph
type StartData struct{}

// MessageData emits text and either advances or waits for a reply
type MessageData struct {
	Text         string
	WaitForReply bool
}

// InputData prompts and captures the next user message into Variable
type InputData struct {
	Prompt   string
	Variable string
}

// ConditionalData branches on an expression over state
type ConditionalData struct {
	Expression string
}

// ActionData delegates to a business action adapter
type ActionData struct {
	Action NodeKind
	Config map[string]any
}

// EndData closes the conversation
type EndData struct {
	Text string
}

// TransferData hands the conversation to a human queue
type TransferData struct {
	Text  string
	Queue string
}

// UnknownData carries a tag no executor recognizes
type UnknownData struct {
	Tag string
}

func (StartData) nodeKind() NodeKind       { return KindStart }
func (MessageData) nodeKind() NodeKind     { return KindMessage }
func (InputData) nodeKind() NodeKind       { return KindInput }
func (ConditionalData) nodeKind() NodeKind { return KindConditional }
func (d ActionData) nodeKind() NodeKind    { return d.Action }
func (EndData) nodeKind() NodeKind         { return KindEnd }
func (TransferData) nodeKind() NodeKind    { return KindTransfer }
func (UnknownData) nodeKind() NodeKind     { return KindUnknown }

// Position is the authoring canvas coordinate of a node
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node is one step of a graph
type Node struct {
	ID       string
	Type     string // authored tag, kept for logs
	Kind     NodeKind
	Label    string
	Position *Position
	Data     NodeData
	Raw      map[string]any
}

type nodeJSON struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Position *Position      `json:"position,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

// UnmarshalJSON decodes the authoring-tool node shape into a typed variant.
// The data payload may name its own type ("nodeType"/"type") when the outer
// type is a generic renderer tag such as "custom".
func (n *Node) UnmarshalJSON(b []byte) error {
	var raw nodeJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw.Data == nil {
		raw.Data = map[string]any{}
	}
	*n = NewNode(raw.ID, raw.Type, raw.Data)
	n.Position = raw.Position
	return nil
}

// MarshalJSON writes the node back in the authoring shape
func (n Node) MarshalJSON() ([]byte, error) {
	return json.Marshal(nodeJSON{ID: n.ID, Type: n.Type, Position: n.Position, Data: n.Raw})
}

// NewNode builds a typed node from its authored tag and data payload
func NewNode(id, tag string, data map[string]any) Node {
	kind := ParseNodeKind(tag)
	if kind == KindUnknown {
		for _, key := range []string{"nodeType", "node_type", "type"} {
			if inner := str(data, key); inner != "" {
				if k := ParseNodeKind(inner); k != KindUnknown {
					kind = k
					break
				}
			}
		}
	}
	n := Node{ID: id, Type: tag, Kind: kind, Label: str(data, "label", "title", "name"), Raw: data}
	n.Data = decodeNodeData(kind, tag, data)
	return n
}

func decodeNodeData(kind NodeKind, tag string, data map[string]any) NodeData {
	switch kind {
	case KindStart:
		return StartData{}
	case KindMessage:
		wait := boolean(data, "waitForReply", "wait_for_reply", "waitForResponse", "wait_for_response", "wait")
		// autoFlow=false is an older way of asking to wait; it is read, never written back.
		if auto, ok := lookupBool(data, "autoFlow", "auto_flow"); ok && !auto {
			wait = true
		}
		return MessageData{Text: str(data, "text", "message", "content", "body"), WaitForReply: wait}
	case KindInput:
		return InputData{
			Prompt:   str(data, "prompt", "question", "text", "message"),
			Variable: str(data, "variable", "variableName", "variable_name", "saveTo", "save_to"),
		}
	case KindConditional:
		return ConditionalData{Expression: str(data, "condition", "expression", "expr")}
	case KindCheckAvailability, KindBookAppointment, KindQualifyLead:
		cfg := data
		if inner, ok := data["config"].(map[string]any); ok {
			cfg = inner
		}
		return ActionData{Action: kind, Config: cfg}
	case KindEnd:
		return EndData{Text: str(data, "text", "message", "content")}
	case KindTransfer:
		return TransferData{Text: str(data, "text", "message", "content"), Queue: str(data, "queue", "team", "department")}
	}
	return UnknownData{Tag: tag}
}

// Edge connects a source handle to a target node
type Edge struct {
	ID           string `json:"id,omitempty"`
	Source       string `json:"source"`
	SourceHandle string `json:"sourceHandle,omitempty"`
	Target       string `json:"target"`
}

// Handle returns the normalized handle name; an empty handle is "next"
func (e Edge) Handle() string {
	h := strings.ToLower(strings.TrimSpace(e.SourceHandle))
	if h == "" || h == "default" || h == "out" || h == "source" {
		return HandleNext
	}
	switch h {
	case "true":
		return HandleYes
	case "false":
		return HandleNo
	}
	return h
}

// Graph is a read-only, indexed flow definition
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`

	byID     map[string]int
	outgoing map[string]map[string]string
	edgeList map[string][]Edge
}

// NewGraph indexes nodes and edges. Duplicate node ids are rejected.
func NewGraph(nodes []Node, edges []Edge) (*Graph, error) {
	g := &Graph{Nodes: nodes, Edges: edges}
	if err := g.index(); err != nil {
		return nil, err
	}
	return g, nil
}

// ParseGraph decodes a {nodes, edges} JSON document
func ParseGraph(b []byte) (*Graph, error) {
	var g Graph
	if err := json.Unmarshal(b, &g); err != nil {
		if errors.Is(err, ErrInvalidGraph) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidGraph, err)
	}
	return &g, nil
}

// UnmarshalJSON decodes and indexes the graph
func (g *Graph) UnmarshalJSON(b []byte) error {
	var doc struct {
		Nodes []Node `json:"nodes"`
		Edges []Edge `json:"edges"`
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		return err
	}
	built, err := NewGraph(doc.Nodes, doc.Edges)
	if err != nil {
		return err
	}
	*g = *built
	return nil
}

func (g *Graph) index() error {
	g.byID = make(map[string]int, len(g.Nodes))
	g.outgoing = make(map[string]map[string]string)
	g.edgeList = make(map[string][]Edge)
	for i, n := range g.Nodes {
		if n.ID == "" {
			return fmt.Errorf("%w: node %d has no id", ErrInvalidGraph, i)
		}
		if _, dup := g.byID[n.ID]; dup {
			return fmt.Errorf("%w: duplicate node id %q", ErrInvalidGraph, n.ID)
		}
		g.byID[n.ID] = i
	}
	for _, e := range g.Edges {
		handles, ok := g.outgoing[e.Source]
		if !ok {
			handles = make(map[string]string)
			g.outgoing[e.Source] = handles
		}
		// First edge wins when an author draws two edges from one handle.
		if _, exists := handles[e.Handle()]; !exists {
			handles[e.Handle()] = e.Target
		}
		g.edgeList[e.Source] = append(g.edgeList[e.Source], e)
	}
	return nil
}

// Node returns the node with id
func (g *Graph) Node(id string) (*Node, bool) {
	i, ok := g.byID[id]
	if !ok {
		return nil, false
	}
	return &g.Nodes[i], true
}

// Next returns the target of the node's handle edge.
// A "next" lookup on a node with a single, differently named edge follows
// that edge, since authoring tools emit renderer-specific handle ids.
func (g *Graph) Next(nodeID, handle string) (string, bool) {
	handles := g.outgoing[nodeID]
	if target, ok := handles[handle]; ok {
		return target, true
	}
	if handle == HandleNext {
		if edges := g.edgeList[nodeID]; len(edges) == 1 {
			if h := edges[0].Handle(); h != HandleYes && h != HandleNo && h != HandleError {
				return edges[0].Target, true
			}
		}
	}
	return "", false
}

// Outgoing returns the edges leaving a node in authoring order
func (g *Graph) Outgoing(nodeID string) []Edge {
	return g.edgeList[nodeID]
}

// Len returns the number of nodes
func (g *Graph) Len() int {
	return len(g.Nodes)
}

// ActiveGraph is the published graph bound to a tenant's activation
type ActiveGraph struct {
	ActivationID string
	TenantID     string
	Graph        *Graph
}

func str(data map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := data[k]; ok {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				return s
			}
		}
	}
	return ""
}

func boolean(data map[string]any, keys ...string) bool {
	b, _ := lookupBool(data, keys...)
	return b
}

func lookupBool(data map[string]any, keys ...string) (bool, bool) {
	for _, k := range keys {
		switch v := data[k].(type) {
		case bool:
			return v, true
		case string:
			switch strings.ToLower(v) {
			case "true", "yes", "1":
				return true, true
			case "false", "no", "0":
				return false, true
			}
		}
	}
	return false, false
}
