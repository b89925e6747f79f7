package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/meikuraledutech/flow"
	"github.com/meikuraledutech/flow/memory"
)

func main() {
	ctx := context.Background()

	// Wire up the in-memory implementation behind both store interfaces.
	store := memory.New()
	publisher := flow.NewPublisher(store, flow.Options{})
	runner := flow.NewRunner(store, store, flow.Options{})

	// ── Draft ─────────────────────────────────────────────────────────
	draft := flow.Graph{
		ID: "pizza",
		Nodes: []flow.Node{
			{ID: "start", Kind: flow.KindStart, Data: flow.StartData{}},
			{ID: "likes", Kind: flow.KindYesNo, Label: "Like pizza?", Data: flow.YesNoData{Prompt: "Do you like pizza?"}},
			{ID: "fan", Kind: flow.KindEnd, Data: flow.EndData{Message: "Pizza party!"}},
			{ID: "skeptic", Kind: flow.KindEnd, Data: flow.EndData{Message: "Salad it is."}},
		},
		Edges: []flow.Edge{
			{ID: "e1", Source: "start", Target: "likes"},
			{ID: "e2", Source: "likes", SourceHandle: flow.HandleYes, Target: "fan"},
			{ID: "e3", Source: "likes", SourceHandle: flow.HandleNo, Target: "skeptic"},
		},
	}

	f, err := publisher.CreateFlow(ctx, "Pizza survey", draft)
	if err != nil {
		log.Fatalf("create flow: %v", err)
	}
	res, err := publisher.ValidateDraft(ctx, f.ID)
	if err != nil {
		log.Fatalf("validate: %v", err)
	}
	fmt.Println("draft validated:")
	printJSON(res)

	// ── Publish + activate ────────────────────────────────────────────
	v, err := publisher.Publish(ctx, f.ID, "example", "first version")
	if err != nil {
		log.Fatalf("publish: %v", err)
	}
	fmt.Printf("\npublished version %d (checksum %s)\n", v.Number, v.Checksum)

	if _, err := publisher.Activate(ctx, f.ID, v.ID); err != nil {
		log.Fatalf("activate: %v", err)
	}

	// ── Respondent session ────────────────────────────────────────────
	s, err := runner.Start(ctx, f.ID)
	if err != nil {
		log.Fatalf("start: %v", err)
	}
	fmt.Printf("\nsession %s waiting at %s\n", s.ID, s.CurrentNodeID)

	s, err = runner.SubmitAnswer(ctx, s.ID, s.CurrentNodeID, flow.Answer{"yes"})
	if err != nil {
		log.Fatalf("answer: %v", err)
	}
	fmt.Println("\nsession after answering yes:")
	printJSON(s)

	// A retried answer is rejected rather than applied twice.
	if _, err := runner.SubmitAnswer(ctx, s.ID, "likes", flow.Answer{"yes"}); err != nil {
		fmt.Printf("\nretry rejected: %v\n", err)
	}

	// ── Analytics ─────────────────────────────────────────────────────
	report, err := runner.Analyze(ctx, f.ID)
	if err != nil {
		log.Fatalf("analyze: %v", err)
	}
	fmt.Println("\nanalytics:")
	printJSON(report)
}

func printJSON(v any) {
	out, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(out))
}
