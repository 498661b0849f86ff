package toolbroker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/corvidlabs/symborc/pkg/events"
	"github.com/corvidlabs/symborc/pkg/llms"
	"github.com/corvidlabs/symborc/pkg/symbolid"
)

// MaxPromptTokens bounds the important_symbols prompt, estimated via
// EstimateTokens (SPEC_FULL.md §4.2.b): the workspace file list is halved
// repeatedly until the assembled prompt fits, rather than risk a request
// the provider rejects outright for being oversized.
const MaxPromptTokens = 6000

// RegisterLLMHandlers wires the LLM-backed tools (important_symbols,
// probe_question) into broker. Both make up to config.FailOverLLM attempts
// in total with the same prompt before surfacing a Protocol error
// (spec.md §4.2, §7).
func RegisterLLMHandlers(broker *Broker, client llms.Client, config Configuration) error {
	if err := broker.Register(KindImportantSymbols, importantSymbolsHandler(client, config)); err != nil {
		return err
	}
	return broker.Register(KindProbeQuestion, probeQuestionHandler(client, config))
}

type importantSymbolsWire struct {
	Symbols []struct {
		Name      string `json:"name"`
		FilePath  string `json:"file_path"`
		StartLine int    `json:"start_line"`
		EndLine   int    `json:"end_line"`
	} `json:"symbols"`
}

func importantSymbolsHandler(client llms.Client, config Configuration) Handler {
	schema := SchemaFor(importantSymbolsWire{})

	return func(ctx context.Context, props events.MessageProperties, input Input) (Output, error) {
		if input.ImportantSymbols == nil {
			return Output{}, errSerdeConversionFailed(KindImportantSymbols, fmt.Errorf("missing input"))
		}
		if props.Cancelled() {
			return Output{}, context.Canceled
		}

		req := *input.ImportantSymbols
		prompt := buildImportantSymbolsPrompt(req)
		for EstimateTokens(prompt) > MaxPromptTokens && len(req.WorkspaceFiles) > 1 {
			req.WorkspaceFiles = req.WorkspaceFiles[:len(req.WorkspaceFiles)/2]
			slog.Warn("trimming important_symbols workspace files to fit prompt budget",
				"remaining_files", len(req.WorkspaceFiles), "budget", MaxPromptTokens)
			prompt = buildImportantSymbolsPrompt(req)
		}

		var lastErr error
		attempts := config.FailOverLLM
		if attempts <= 0 {
			attempts = 1
		}

		for attempt := 0; attempt < attempts; attempt++ {
			resp, err := client.Generate(ctx, llms.Request{
				Model:      client.ModelName(),
				Messages:   []llms.Message{{Role: "user", Content: prompt}},
				Structured: &llms.StructuredOutputConfig{Schema: schema},
			})
			if err != nil {
				lastErr = err
				continue
			}

			var wire importantSymbolsWire
			if err := json.Unmarshal([]byte(resp.Text), &wire); err != nil {
				lastErr = err
				continue
			}

			out := toImportantSymbolsOutput(wire)
			return Output{Kind: KindImportantSymbols, ImportantSymbols: &out}, nil
		}

		return Output{}, errLLMParse(KindImportantSymbols, attempts).(*Error).withCause(lastErr)
	}
}

type probeQuestionWire struct {
	ShouldFollow bool   `json:"should_follow"`
	NextSymbol   string `json:"next_symbol,omitempty"`
	Answer       string `json:"answer"`
}

func probeQuestionHandler(client llms.Client, config Configuration) Handler {
	schema := SchemaFor(probeQuestionWire{})

	return func(ctx context.Context, props events.MessageProperties, input Input) (Output, error) {
		if input.ProbeQuestion == nil {
			return Output{}, errSerdeConversionFailed(KindProbeQuestion, fmt.Errorf("missing input"))
		}
		if props.Cancelled() {
			return Output{}, context.Canceled
		}

		prompt := buildProbeQuestionPrompt(*input.ProbeQuestion)

		var lastErr error
		attempts := config.FailOverLLM
		if attempts <= 0 {
			attempts = 1
		}

		for attempt := 0; attempt < attempts; attempt++ {
			resp, err := client.Generate(ctx, llms.Request{
				Model:      client.ModelName(),
				Messages:   []llms.Message{{Role: "user", Content: prompt}},
				Structured: &llms.StructuredOutputConfig{Schema: schema},
			})
			if err != nil {
				lastErr = err
				continue
			}

			var wire probeQuestionWire
			if err := json.Unmarshal([]byte(resp.Text), &wire); err != nil {
				lastErr = err
				continue
			}

			out := ProbeQuestionOutput{ShouldFollow: wire.ShouldFollow, Answer: wire.Answer}
			return Output{Kind: KindProbeQuestion, ProbeQuestion: &out}, nil
		}

		return Output{}, errLLMParse(KindProbeQuestion, attempts).(*Error).withCause(lastErr)
	}
}

func buildImportantSymbolsPrompt(input ImportantSymbolsInput) string {
	return fmt.Sprintf(
		"Given the query %q and workspace files %v, list the symbols most "+
			"important to inspect or edit. Respond with JSON only.",
		input.Query, input.WorkspaceFiles,
	)
}

func buildProbeQuestionPrompt(input ProbeQuestionInput) string {
	return fmt.Sprintf(
		"Symbol %s is being probed with the question %q. Outline: %s. "+
			"Decide whether to follow a linked symbol further or answer now. "+
			"Respond with JSON only.",
		input.Symbol.String(), input.Question, input.Outline.Name,
	)
}

func toImportantSymbolsOutput(wire importantSymbolsWire) ImportantSymbolsOutput {
	symbols := make([]symbolid.Identifier, 0, len(wire.Symbols))
	for _, s := range wire.Symbols {
		rng := &symbolid.Range{StartLine: s.StartLine, EndLine: s.EndLine}
		symbols = append(symbols, symbolid.New(s.Name, s.FilePath, rng))
	}
	return ImportantSymbolsOutput{Symbols: symbols}
}

// withCause attaches the last underlying parse/transport error to an
// already-built *Error so callers get the concrete failure alongside the
// retry-count summary.
func (e *Error) withCause(err error) *Error {
	e.Err = err
	return e
}
