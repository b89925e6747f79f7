// Command flowctl validates, fingerprints and dry-runs flow graph files
// written in JSON or YAML.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kataras/golog"
	"github.com/meikuraledutech/flow"
	"github.com/meikuraledutech/flow/memory"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "flowctl",
		Short:        "Validate and simulate questionnaire flow graphs",
		SilenceUsage: true,
	}
	root.AddCommand(newValidateCmd(), newChecksumCmd(), newSimulateCmd())
	return root
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE",
		Short: "Check a graph for structural errors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := loadGraph(args[0])
			if err != nil {
				return err
			}
			res := flow.Validate(&g)
			out := cmd.OutOrStdout()
			for _, is := range res.Errors {
				fmt.Fprintf(out, "error   %s\n", is)
			}
			for _, is := range res.Warnings {
				fmt.Fprintf(out, "warning %s\n", is)
			}
			if !res.OK {
				return fmt.Errorf("%d errors, %d warnings", len(res.Errors), len(res.Warnings))
			}
			fmt.Fprintf(out, "ok (%d warnings)\n", len(res.Warnings))
			return nil
		},
	}
}

func newChecksumCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checksum FILE",
		Short: "Print the content checksum a published version of the graph would carry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := loadGraph(args[0])
			if err != nil {
				return err
			}
			sum, err := flow.Checksum(g)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sum)
			return nil
		},
	}
}

func newSimulateCmd() *cobra.Command {
	var (
		answers   []string
		maxVisits int
	)
	cmd := &cobra.Command{
		Use:   "simulate FILE",
		Short: "Publish the graph in memory and walk one session with scripted answers",
		Long: `Publish the graph in memory and walk one session with scripted answers.

Each --answer names a node and the value submitted when the session reaches it:
  flowctl simulate pizza.yaml --answer q=yes
  flowctl simulate quiz.json --answer toppings=cheese,olives --answer size=large`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := loadGraph(args[0])
			if err != nil {
				return err
			}
			script, err := parseAnswers(answers)
			if err != nil {
				return err
			}
			s, err := simulate(cmd.Context(), g, script, maxVisits)
			if s != nil {
				printSession(cmd, s)
			}
			return err
		},
	}
	cmd.Flags().StringArrayVarP(&answers, "answer", "a", nil, "Answer as NODE=VALUE[,VALUE] (repeatable)")
	cmd.Flags().IntVar(&maxVisits, "max-visits", defaultMaxVisits, "Stop when a question has been answered this many times")
	return cmd
}

// defaultMaxVisits bounds how often simulate answers the same question. A
// script answers a node the same way every time, so a loop back to it
// repeats forever.
const defaultMaxVisits = 100

// simulate runs g end to end against an in-memory store. The session is
// returned even when it stops early so the caller can show how far it got.
func simulate(ctx context.Context, g flow.Graph, script map[string]flow.Answer, maxVisits int) (*flow.Session, error) {
	if maxVisits <= 0 {
		maxVisits = defaultMaxVisits
	}
	log := golog.New().SetLevel("disable")
	store := memory.New()
	opts := flow.Options{Logger: log}
	pub := flow.NewPublisher(store, opts)
	run := flow.NewRunner(store, store, opts)

	f, err := pub.CreateFlow(ctx, "simulation", g)
	if err != nil {
		return nil, err
	}
	v, err := pub.Publish(ctx, f.ID, "flowctl", "")
	if err != nil {
		return nil, err
	}
	if _, err := pub.Activate(ctx, f.ID, v.ID); err != nil {
		return nil, err
	}

	s, err := run.Start(ctx, f.ID)
	if err != nil {
		return nil, err
	}
	visits := make(map[string]int)
	for !s.Completed() {
		answer, ok := script[s.CurrentNodeID]
		if !ok {
			return s, fmt.Errorf("no --answer for node %q", s.CurrentNodeID)
		}
		if visits[s.CurrentNodeID]++; visits[s.CurrentNodeID] > maxVisits {
			return s, fmt.Errorf("node %q answered %d times, the scripted answers loop", s.CurrentNodeID, maxVisits)
		}
		next, err := run.SubmitAnswer(ctx, s.ID, s.CurrentNodeID, answer)
		if err != nil {
			return s, err
		}
		s = next
	}
	return s, nil
}

func printSession(cmd *cobra.Command, s *flow.Session) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "path:      %s\n", strings.Join(s.Path, " -> "))
	names := make([]string, 0, len(s.Variables))
	for name := range s.Variables {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		e := s.Variables[name]
		fmt.Fprintf(out, "var:       %s = %s (%s)\n", name, e.Value, e.Scope)
	}
	if s.Completed() {
		fmt.Fprintf(out, "completed: %s\n", s.CurrentNodeID)
	} else {
		fmt.Fprintf(out, "stopped:   %s\n", s.CurrentNodeID)
	}
}

// parseAnswers turns NODE=VALUE[,VALUE] flags into answers by node id. An
// empty value is an empty selection.
func parseAnswers(flags []string) (map[string]flow.Answer, error) {
	script := make(map[string]flow.Answer, len(flags))
	for _, f := range flags {
		node, value, ok := strings.Cut(f, "=")
		if !ok || node == "" {
			return nil, fmt.Errorf("bad --answer %q, want NODE=VALUE", f)
		}
		if value == "" {
			script[node] = flow.Answer{}
			continue
		}
		script[node] = flow.Answer(strings.Split(value, ","))
	}
	return script, nil
}

// loadGraph reads a graph file. YAML is converted to JSON first so both
// formats share the graph's JSON decoding.
func loadGraph(path string) (flow.Graph, error) {
	var g flow.Graph
	b, err := os.ReadFile(path)
	if err != nil {
		return g, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc any
		if err := yaml.Unmarshal(b, &doc); err != nil {
			return g, fmt.Errorf("%s: %w", path, err)
		}
		if b, err = json.Marshal(doc); err != nil {
			return g, fmt.Errorf("%s: %w", path, err)
		}
	}
	if err := json.Unmarshal(b, &g); err != nil {
		return g, fmt.Errorf("%s: %w", path, err)
	}
	return g, nil
}
