// Package writer holds the pure function that applies one canonical event
// to a composer and the running turn status, grounded in the original
// writer_logic.rs's apply_agent_event.
package writer

import (
	"chatgateway/composer"
	"chatgateway/event"
)

// Status is the running state of one backend turn.
type Status struct {
	Done  bool
	Error string // non-empty only when Done and the turn failed
}

// Running reports whether the turn is still in progress.
func (s Status) Running() bool { return !s.Done }

// Apply updates comp and status in response to one canonical event and
// reports whether the turn has now finished (status transitioned out of
// running). It is pure aside from its two argument pointers: no I/O, no
// hidden state.
func Apply(comp *composer.Composer, status *Status, e event.Event) bool {
	switch ev := e.(type) {
	case event.ThinkingDelta:
		applyText(comp, composer.BlockThinking, ev.ID, "think", ev.Text, ev.IsDelta)
	case event.MessageDelta:
		applyText(comp, composer.BlockText, ev.ID, "text", ev.Text, ev.IsDelta)
	case event.ContentSync:
		comp.SyncContent(mapContentItems(ev.Items))
	case event.ToolStart:
		comp.SetToolCall(ev.ID, ev.Name)
	case event.ToolUpdate:
		comp.UpdateBlockByID(ev.ID, composer.BlockToolOutput, ev.Output)
	case event.ToolEnd:
		// block content is already final by the time ToolEnd arrives; the
		// block itself stays in the composer as a record of the call.
	case event.TurnEnd:
		if ev.Success {
			*status = Status{Done: true}
		} else {
			msg := ev.Error
			if msg == "" {
				msg = "Error"
			}
			*status = Status{Done: true, Error: msg}
		}
	case event.Error:
		*status = Status{Done: true, Error: ev.Message}
	case event.ConnectionError:
		*status = Status{Done: true, Error: ev.Message}
	case event.AutoRetry:
		// informational only: the turn is still running, nothing to render.
	case event.CommandResponse:
		// consumed by whichever caller is awaiting it via Subscribe, not by
		// the composer; it carries no renderable content.
	}

	return status.Done
}

func applyText(comp *composer.Composer, blockType composer.BlockType, id, defaultID, text string, isDelta bool) {
	if text == "" {
		return
	}
	if isDelta {
		comp.PushDelta(id, blockType, text)
		return
	}
	if id == "" {
		id = defaultID
	}
	comp.UpdateBlockByID(id, blockType, text)
}

func mapContentItems(items []event.ContentItem) []composer.Block {
	out := make([]composer.Block, 0, len(items))
	for _, item := range items {
		switch item.Kind {
		case event.ContentThinking:
			out = append(out, composer.Block{Type: composer.BlockThinking, Content: item.Content, ID: item.ID})
		case event.ContentText:
			out = append(out, composer.Block{Type: composer.BlockText, Content: item.Content, ID: item.ID})
		case event.ContentToolCall:
			out = append(out, composer.Block{Type: composer.BlockToolCall, Label: item.Name, ID: item.ID})
		case event.ContentToolOutput:
			out = append(out, composer.Block{Type: composer.BlockToolOutput, Content: item.Content, ID: item.ID})
		}
	}
	return out
}
