package toolbroker

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
	"github.com/pkoukk/tiktoken-go"
)

// schemaReflector is shared across every LLM-backed handler so reflected
// schemas use consistent settings (no $ref indirection, since providers
// expect a flat object schema for structured output).
var schemaReflector = &jsonschema.Reflector{
	DoNotReference:            true,
	AllowAdditionalProperties: false,
}

// SchemaFor reflects a Go value's JSON Schema for use as an LLM
// structured-output constraint or tool parameter definition.
func SchemaFor(v interface{}) map[string]interface{} {
	schema := schemaReflector.Reflect(v)
	out := make(map[string]interface{})
	data, err := schema.MarshalJSON()
	if err != nil {
		return out
	}
	_ = json.Unmarshal(data, &out)
	return out
}

// tokenCounter is lazily built for the default encoding; construction can
// fail if the bundled vocabulary is missing, in which case EstimateTokens
// falls back to a byte-length heuristic.
var tokenCounter, tokenCounterErr = tiktoken.GetEncoding("cl100k_base")

// EstimateTokens approximates how many tokens text will cost against a
// prompt token budget (MaxPromptTokens for important_symbols; the
// scratch-pad's extra_context truncation uses the same estimator).
func EstimateTokens(text string) int {
	if tokenCounterErr != nil || tokenCounter == nil {
		return len(text) / 4
	}
	return len(tokenCounter.Encode(text, nil, nil))
}
