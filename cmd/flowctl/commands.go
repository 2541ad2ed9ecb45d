package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/Rrens/flowbot/internal/action"
	"github.com/Rrens/flowbot/internal/domain"
	"github.com/Rrens/flowbot/internal/executor"
	"github.com/Rrens/flowbot/internal/expr"
	"github.com/Rrens/flowbot/internal/flow"
	"github.com/Rrens/flowbot/internal/repository/file"
	"github.com/Rrens/flowbot/internal/repository/memory"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newRootCommand(in io.Reader, out io.Writer) *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:   "flowctl",
		Short: "Tooling for flowbot conversation graphs",
		Long: `flowctl validates and inspects graph files (.json, .yaml), rehearses a
conversation against an in-memory store, publishes a graph to the configured
graph source and issues operator tokens.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(out)
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")

	root.AddCommand(
		newValidateCommand(),
		newInspectCommand(),
		newChatCommand(),
		newPublishCommand(),
		newTokenCommand(),
	)
	return root
}

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <graph-file>",
		Short: "Check a graph file for structural problems",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := file.Load(args[0])
			if err != nil {
				return err
			}
			issues := validateGraph(g)
			w := cmd.OutOrStdout()
			for _, is := range issues {
				fmt.Fprintln(w, is)
			}
			if hasErrors(issues) {
				return fmt.Errorf("%s: graph has errors", args[0])
			}
			entry, _ := flow.ResolveEntry(g)
			fmt.Fprintf(w, "%s: ok (%d nodes, entry %q)\n", args[0], g.Len(), entry)
			return nil
		},
	}
}

type severity string

const (
	severityError   severity = "error"
	severityWarning severity = "warning"
)

type issue struct {
	Severity severity
	NodeID   string
	Message  string
}

func (i issue) String() string {
	if i.NodeID == "" {
		return fmt.Sprintf("%s: %s", i.Severity, i.Message)
	}
	return fmt.Sprintf("%s: node %q: %s", i.Severity, i.NodeID, i.Message)
}

func hasErrors(issues []issue) bool {
	for _, is := range issues {
		if is.Severity == severityError {
			return true
		}
	}
	return false
}

// validateGraph reports what the engine would trip over at runtime.
// Unknown node kinds are warnings since the executor apologizes and continues.
func validateGraph(g *domain.Graph) []issue {
	var issues []issue
	if g.Len() == 0 {
		return []issue{{Severity: severityError, Message: "graph has no nodes"}}
	}

	for _, e := range g.Edges {
		if _, ok := g.Node(e.Source); !ok {
			issues = append(issues, issue{Severity: severityError, Message: fmt.Sprintf("edge source %q does not exist", e.Source)})
		}
		if _, ok := g.Node(e.Target); !ok {
			issues = append(issues, issue{Severity: severityError, NodeID: e.Source, Message: fmt.Sprintf("edge target %q does not exist", e.Target)})
		}
	}

	for _, n := range g.Nodes {
		switch d := n.Data.(type) {
		case domain.ConditionalData:
			if strings.TrimSpace(d.Expression) == "" {
				issues = append(issues, issue{Severity: severityWarning, NodeID: n.ID, Message: "empty condition always takes the no branch"})
			} else if _, err := expr.Compile(d.Expression); err != nil {
				issues = append(issues, issue{Severity: severityError, NodeID: n.ID, Message: err.Error()})
			}
		case domain.InputData:
			if d.Variable == "" {
				issues = append(issues, issue{Severity: severityWarning, NodeID: n.ID, Message: "input has no variable, the reply is discarded"})
			}
		case domain.UnknownData:
			issues = append(issues, issue{Severity: severityWarning, NodeID: n.ID, Message: fmt.Sprintf("unknown node type %q", d.Tag)})
		}
		if n.Kind != domain.KindEnd && n.Kind != domain.KindTransfer && len(g.Outgoing(n.ID)) == 0 {
			issues = append(issues, issue{Severity: severityWarning, NodeID: n.ID, Message: "no outgoing edge, the session completes here"})
		}
	}
	return issues
}

func newInspectCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "inspect <graph-file>",
		Short: "Print the nodes, edges and resolved entry of a graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := file.Load(args[0])
			if err != nil {
				return err
			}
			return writeSummary(cmd.OutOrStdout(), summarize(g), output)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "Output format: text, json, yaml")
	return cmd
}

type nodeSummary struct {
	ID    string   `json:"id" yaml:"id"`
	Kind  string   `json:"kind" yaml:"kind"`
	Label string   `json:"label,omitempty" yaml:"label,omitempty"`
	Next  []string `json:"next,omitempty" yaml:"next,omitempty"`
}

type graphSummary struct {
	Entry string        `json:"entry" yaml:"entry"`
	Nodes []nodeSummary `json:"nodes" yaml:"nodes"`
}

func summarize(g *domain.Graph) graphSummary {
	entry, _ := flow.ResolveEntry(g)
	s := graphSummary{Entry: entry, Nodes: make([]nodeSummary, 0, g.Len())}
	for _, n := range g.Nodes {
		ns := nodeSummary{ID: n.ID, Kind: string(n.Kind), Label: n.Label}
		for _, e := range g.Outgoing(n.ID) {
			ns.Next = append(ns.Next, e.Handle()+" -> "+e.Target)
		}
		s.Nodes = append(s.Nodes, ns)
	}
	return s
}

func writeSummary(w io.Writer, s graphSummary, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(s)
	case "text", "":
		fmt.Fprintf(w, "entry: %s\n", s.Entry)
		for _, n := range s.Nodes {
			fmt.Fprintf(w, "%-20s %-18s %s\n", n.ID, n.Kind, strings.Join(n.Next, ", "))
		}
		return nil
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func newChatCommand() *cobra.Command {
	var tenantID, userID string

	cmd := &cobra.Command{
		Use:   "chat <graph-file>",
		Short: "Talk to a graph on stdin using an in-memory store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := file.Load(args[0])
			if err != nil {
				return err
			}
			return chat(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), g, tenantID, userID)
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "local", "Tenant id to run as")
	cmd.Flags().StringVar(&userID, "user", "cli", "User channel id to run as")
	return cmd
}

func chat(ctx context.Context, in io.Reader, out io.Writer, g *domain.Graph, tenantID, userID string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	graphs := memory.NewGraphSource()
	graphs.Publish(tenantID, "local", g)
	sched := memory.NewScheduling()
	engine := flow.NewEngine(memory.NewSessionStore(), graphs,
		executor.New(action.NewDefaultRegistry(sched, sched)), flow.Config{})

	scanner := bufio.NewScanner(in)
	fmt.Fprint(out, "> ")
	for scanner.Scan() {
		text := scanner.Text()
		if text == "/quit" {
			return nil
		}
		res := engine.ProcessMessage(ctx, flow.Inbound{
			TenantID:      tenantID,
			UserChannelID: userID,
			Text:          text,
			Channel:       domain.ChannelWebChat,
		})
		for _, r := range res.Responses {
			fmt.Fprintf(out, "bot: %s\n", r)
		}
		if res.SessionStatus.IsTerminal() {
			fmt.Fprintf(out, "[session %s]\n", res.SessionStatus)
		}
		fmt.Fprint(out, "> ")
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	fmt.Fprintln(out)
	return nil
}
