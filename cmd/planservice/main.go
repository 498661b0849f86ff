// Command planservice is the re-entrant CLI that advances one plan
// checkpoint per invocation (spec.md §6, grounded on
// original_source/sidecar/src/bin/plan_service.rs's "load, execute one
// step, save" binary shape — adapted from its interactive stdin loop to
// a single-shot subcommand suited to being re-invoked by a caller that
// owns its own retry/re-run cadence).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/corvidlabs/symborc/pkg/config"
	"github.com/corvidlabs/symborc/pkg/events"
	"github.com/corvidlabs/symborc/pkg/llms"
	"github.com/corvidlabs/symborc/pkg/metrics"
	"github.com/corvidlabs/symborc/pkg/plan"
	"github.com/corvidlabs/symborc/pkg/session"
	"github.com/corvidlabs/symborc/pkg/toolbroker"
	"github.com/corvidlabs/symborc/pkg/tracing"
)

// Exit codes per spec.md §6: 0 ok, 1 plan missing, 2 step failed.
const (
	exitOK          = 0
	exitPlanMissing = 1
	exitStepFailed  = 2
)

type cli struct {
	Config  string `help:"Path to the engine's YAML config file." default:"./config.yaml"`
	EnvFile string `help:"Optional .env file to load before expanding config." default:".env"`
	Session string `help:"Session ID to operate in." required:""`

	Next nextCmd `cmd:"" help:"Execute the next pending plan step and advance the checkpoint."`
}

type nextCmd struct{}

func (n *nextCmd) Run(c *cli) error {
	ctx := context.Background()

	cfg, err := config.Load(c.Config, c.EnvFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		ServiceName:  "symborc-planservice",
		SamplingRate: cfg.Tracing.SamplingRate,
	})
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	// os.Exit skips deferred calls, so the exit() paths below flush the
	// tracer provider themselves; the deferred call flushes it on the paths
	// that return an error.
	defer shutdownTracing(ctx)
	exit := func(code int) {
		shutdownTracing(ctx)
		os.Exit(code)
	}

	m := metrics.New()

	sess, err := session.Open(cfg.DataDir, c.Session)
	if err != nil {
		fmt.Fprintln(os.Stderr, "plan_service: no plan found:", err)
		exit(exitPlanMissing)
	}

	state, ok, err := sess.ReadPlan()
	if err != nil {
		return fmt.Errorf("reading plan.json: %w", err)
	}
	if !ok {
		fmt.Fprintln(os.Stderr, "plan_service: session has no plan.json")
		exit(exitPlanMissing)
	}

	var steps []plan.Step
	if err := json.Unmarshal(state.Steps, &steps); err != nil {
		return fmt.Errorf("parsing plan steps: %w", err)
	}
	p := &plan.Plan{Steps: steps, Checkpoint: state.Checkpoint}

	step, err := p.NextStep()
	if err != nil {
		fmt.Fprintln(os.Stderr, "plan_service: no steps remaining:", err)
		exit(exitPlanMissing)
	}

	broker, err := cfg.BuildLLMBroker(m, tracing.Tracer("llms"))
	if err != nil {
		return fmt.Errorf("building llm broker: %w", err)
	}
	llmClient, err := broker.Client(llms.LLMType(cfg.DefaultLLM))
	if err != nil {
		return fmt.Errorf("resolving default llm: %w", err)
	}

	toolBroker := toolbroker.New(cfg.ToolBrokerConfiguration()).WithMetrics(m).WithTracer(tracing.Tracer("toolbroker"))
	editorClient := toolbroker.NewEditorClient()
	if err := toolbroker.RegisterEditorHandlers(toolBroker, editorClient); err != nil {
		return fmt.Errorf("registering editor handlers: %w", err)
	}
	if err := toolbroker.RegisterLLMHandlers(toolBroker, llmClient, cfg.ToolBrokerConfiguration()); err != nil {
		return fmt.Errorf("registering llm handlers: %w", err)
	}
	toolbox := toolbroker.NewToolbox(toolBroker)

	props := events.NewMessageProperties(ctx, sess.ID(), cfg.EditorURL, cfg.DefaultModelConfig(), nil)
	svc := plan.NewService(toolbox, llmClient, props)

	result, err := svc.ExecuteStep(ctx, step)
	requestJSON, _ := json.Marshal(step)
	if err != nil {
		responseJSON, _ := json.Marshal(map[string]string{"error": err.Error()})
		if _, appendErr := sess.AppendExchange("plan_step", string(requestJSON), string(responseJSON)); appendErr != nil {
			fmt.Fprintln(os.Stderr, "plan_service: recording failed step exchange:", appendErr)
		}
		fmt.Fprintln(os.Stderr, "plan_service: step failed:", err)
		exit(exitStepFailed)
	}

	responseJSON, _ := json.Marshal(result)
	if _, err := sess.AppendExchange("plan_step", string(requestJSON), string(responseJSON)); err != nil {
		return fmt.Errorf("recording exchange: %w", err)
	}

	if err := p.IncrementCheckpoint(); err != nil {
		return fmt.Errorf("advancing checkpoint: %w", err)
	}

	newSteps, err := json.Marshal(p.Steps)
	if err != nil {
		return fmt.Errorf("encoding steps: %w", err)
	}
	if err := sess.WritePlan(session.PlanState{Steps: newSteps, Checkpoint: p.Checkpoint}); err != nil {
		return fmt.Errorf("saving plan.json: %w", err)
	}

	fmt.Printf("step %q complete: %s. checkpoint now %d/%d.\n", step.ID, result.Summary, p.Checkpoint, len(p.Steps))
	exit(exitOK)
	return nil
}

func main() {
	var c cli
	ctx := kong.Parse(&c, kong.Name("plan_service"), kong.Description("Advance a plan one checkpoint at a time."))
	ctx.FatalIfErrorf(ctx.Run(&c))
}
