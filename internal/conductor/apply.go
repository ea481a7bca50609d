package conductor

import (
	"slices"
	"time"

	"github.com/raphaelgruber/flock/internal/metrics"
	"github.com/raphaelgruber/flock/internal/models"
	"github.com/raphaelgruber/flock/internal/stream"
)

// apply folds one event into the working message list. It reports whether
// the list changed. An *AnomalyError means the event was dropped and nothing
// changed. Caller must hold c.mu.
func (c *Conductor) apply(ex *exchange, ev stream.Event) (bool, error) {
	switch ev := ev.(type) {
	case stream.TextDelta:
		if ev.Text == "" {
			return false, nil
		}
		c.assistant(ex, "").AppendText(ev.Text)
		return true, nil

	case stream.StepStart:
		if ex.assistant >= 0 {
			return false, nil
		}
		c.assistant(ex, ev.MessageID)
		return true, nil

	case stream.ToolCall:
		if ev.ToolCallID == "" {
			return false, &AnomalyError{Kind: AnomalyMissingID}
		}
		// A toolCallId names at most one call in the whole session.
		if slices.ContainsFunc(c.messages, func(m models.Message) bool {
			return m.FindToolInvocation(ev.ToolCallID) >= 0
		}) {
			return false, &AnomalyError{Kind: AnomalyDuplicateCall, ToolCallID: ev.ToolCallID}
		}
		msg := c.assistant(ex, "")
		msg.ToolInvocations = append(msg.ToolInvocations, models.NewToolCall(ev.ToolCallID, ev.ToolName, ev.Args))
		ex.toolCalls[ev.ToolCallID] = time.Now()
		return true, nil

	case stream.ToolResult:
		if ex.assistant < 0 {
			return false, &AnomalyError{Kind: AnomalyUnknownResult, ToolCallID: ev.ToolCallID}
		}
		msg := &c.messages[ex.assistant]
		i := msg.FindToolInvocation(ev.ToolCallID)
		if i < 0 {
			return false, &AnomalyError{Kind: AnomalyUnknownResult, ToolCallID: ev.ToolCallID}
		}
		next, err := msg.ToolInvocations[i].WithResult(ev.Result)
		if err != nil {
			return false, &AnomalyError{Kind: AnomalyDuplicateResult, ToolCallID: ev.ToolCallID}
		}
		msg.ToolInvocations[i] = next
		if started, ok := ex.toolCalls[ev.ToolCallID]; ok {
			c.metrics.RecordTiming(metrics.OpToolCall, time.Since(started))
		}
		return true, nil

	case stream.Finish:
		ex.reason = ev.Reason
		ex.usage = ev.Usage
		return false, nil

	case stream.Error:
		return false, &endpointError{message: ev.Message}
	}
	return false, nil
}

// assistant returns the exchange's assistant message, creating it on first
// use. id names the new message when it is non-empty and unused.
func (c *Conductor) assistant(ex *exchange, id string) *models.Message {
	if ex.assistant < 0 {
		if id == "" || models.ContainsMessage(c.messages, id) {
			id = c.newID()
		}
		c.messages = append(c.messages, models.NewAssistantMessage(id))
		ex.assistant = len(c.messages) - 1
	}
	return &c.messages[ex.assistant]
}
