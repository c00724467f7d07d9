package llm

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"paperrag/internal/observability"
)

var tracer = otel.Tracer("paperrag/internal/llm")

// StartRequestSpan opens a span around one provider call. Against the
// default no-op TracerProvider (no otel/sdk installed) this is a cheap
// no-op itself; it becomes real tracing the moment a caller wires an SDK.
func StartRequestSpan(ctx context.Context, name, model string, toolCount, msgCount int) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("llm.model", model),
		attribute.Int("llm.tool_count", toolCount),
		attribute.Int("llm.message_count", msgCount),
	))
}

// LogRedactedPrompt logs the outgoing message list at debug level with
// sensitive fields redacted.
func LogRedactedPrompt(ctx context.Context, msgs []Message) {
	log := observability.LoggerWithTrace(ctx)
	raw, err := json.Marshal(msgs)
	if err != nil {
		return
	}
	log.Debug().RawJSON("messages", observability.RedactJSON(raw)).Msg("llm request")
}

// CompactionItem carries provider-specific conversation-compaction state
// (e.g. an OpenAI Responses API previous_response_id) that must be echoed
// back on the next turn to keep the conversation valid. EncryptedContent
// holds the opaque encrypted_content of a Responses API compaction item.
type CompactionItem struct {
	Provider         string
	Data             json.RawMessage
	EncryptedContent string
}
