package modelcalls

import (
	"fmt"

	"github.com/firebase/genkit/go/ai"

	"github.com/ZanzyTHEbar/toolplan"
)

// FromGenkit converts the tool request parts of a genkit model message. The request
// ref, when set, becomes the call id.
func FromGenkit(msg *ai.Message) ([]toolplan.RequestedCall, error) {
	if msg == nil {
		return nil, nil
	}
	var out []toolplan.RequestedCall
	for _, part := range msg.Content {
		if part == nil || !part.IsToolRequest() || part.ToolRequest == nil {
			continue
		}
		req := part.ToolRequest
		args, err := toArgs(req.Input)
		if err != nil {
			return nil, toolplan.NewValidationError("modelcalls",
				fmt.Sprintf("call %d (%s) has invalid input", len(out), req.Name), err)
		}
		call, err := newCall(req.Ref, req.Name, args, len(out))
		if err != nil {
			return nil, err
		}
		out = append(out, call)
	}
	return out, nil
}

// GenkitResponses renders the plan's steps as one tool message with a response part
// per step.
func GenkitResponses(plan *toolplan.Plan) *ai.Message {
	if plan == nil {
		return nil
	}
	parts := make([]*ai.Part, 0, len(plan.Steps))
	for _, s := range plan.Steps {
		parts = append(parts, ai.NewToolResponsePart(&ai.ToolResponse{
			Name:   s.ToolName,
			Ref:    s.ID,
			Output: OutputOf(s).asMap(),
		}))
	}
	return &ai.Message{Role: ai.RoleTool, Content: parts}
}
