package modelcalls

import (
	"fmt"
	"sort"

	"github.com/tmc/langchaingo/llms"

	"github.com/ZanzyTHEbar/toolplan"
)

// FromLangchain converts the tool calls of a langchaingo choice.
func FromLangchain(calls []llms.ToolCall) ([]toolplan.RequestedCall, error) {
	out := make([]toolplan.RequestedCall, 0, len(calls))
	for i, tc := range calls {
		if tc.FunctionCall == nil {
			return nil, toolplan.NewValidationError("modelcalls", fmt.Sprintf("call %d has no function", i), nil)
		}
		args, err := parseArgs(tc.FunctionCall.Arguments)
		if err != nil {
			return nil, toolplan.NewValidationError("modelcalls",
				fmt.Sprintf("call %d (%s) has invalid arguments", i, tc.FunctionCall.Name), err)
		}
		call, err := newCall(tc.ID, tc.FunctionCall.Name, args, i)
		if err != nil {
			return nil, err
		}
		out = append(out, call)
	}
	return out, nil
}

// LangchainTools turns registry schemas into tool definitions, sorted by name.
func LangchainTools(schemas map[string]map[string]any) []llms.Tool {
	names := make([]string, 0, len(schemas))
	for name := range schemas {
		names = append(names, name)
	}
	sort.Strings(names)

	tools := make([]llms.Tool, 0, len(names))
	for _, name := range names {
		schema := schemas[name]
		description, _ := schema["description"].(string)
		tools = append(tools, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        name,
				Description: description,
				Parameters:  schema["parameters"],
			},
		})
	}
	return tools
}

// LangchainResponses renders one tool message per step, in plan order.
func LangchainResponses(plan *toolplan.Plan) []llms.MessageContent {
	if plan == nil {
		return nil
	}
	messages := make([]llms.MessageContent, 0, len(plan.Steps))
	for _, s := range plan.Steps {
		messages = append(messages, llms.MessageContent{
			Role: llms.ChatMessageTypeTool,
			Parts: []llms.ContentPart{
				llms.ToolCallResponse{
					ToolCallID: s.ID,
					Name:       s.ToolName,
					Content:    OutputOf(s).text(),
				},
			},
		})
	}
	return messages
}
