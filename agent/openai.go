package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/MegaGrindStone/go-mcp-client/session"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = "gpt-4o"

const defaultSystemPrompt = "You are a helpful assistant with access to tools " +
	"provided by connected servers. Use a tool when it helps answer the user's " +
	"request; otherwise answer directly."

// toolKeySeparator joins server and tool names into an OpenAI function name.
// Function names only allow [a-zA-Z0-9_-], so the qualified "server:name" form
// is not usable on the wire.
const toolKeySeparator = "__"

// OpenAIChooser decides the next action by asking an OpenAI chat-completion
// model, exposing every server's tools as functions.
type OpenAIChooser struct {
	api          openai.Client
	model        string
	systemPrompt string
	logger       *slog.Logger
}

// OpenAIOption configures an OpenAIChooser.
type OpenAIOption func(*OpenAIChooser, *[]option.RequestOption)

// WithOpenAIModel sets the model name. Defaults to DefaultOpenAIModel.
func WithOpenAIModel(model string) OpenAIOption {
	return func(c *OpenAIChooser, _ *[]option.RequestOption) {
		c.model = model
	}
}

// WithOpenAIBaseURL points the chooser at an OpenAI-compatible endpoint.
func WithOpenAIBaseURL(baseURL string) OpenAIOption {
	return func(_ *OpenAIChooser, reqOpts *[]option.RequestOption) {
		*reqOpts = append(*reqOpts, option.WithBaseURL(baseURL))
	}
}

// WithOpenAISystemPrompt overrides the default system prompt.
func WithOpenAISystemPrompt(prompt string) OpenAIOption {
	return func(c *OpenAIChooser, _ *[]option.RequestOption) {
		c.systemPrompt = prompt
	}
}

// WithOpenAILogger sets the logger. Defaults to slog.Default.
func WithOpenAILogger(logger *slog.Logger) OpenAIOption {
	return func(c *OpenAIChooser, _ *[]option.RequestOption) {
		c.logger = logger
	}
}

// NewOpenAIChooser creates a chooser backed by the OpenAI API.
func NewOpenAIChooser(apiKey string, options ...OpenAIOption) *OpenAIChooser {
	c := &OpenAIChooser{
		model:        DefaultOpenAIModel,
		systemPrompt: defaultSystemPrompt,
		logger:       slog.Default(),
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	for _, opt := range options {
		opt(c, &reqOpts)
	}
	c.api = openai.NewClient(reqOpts...)

	return c
}

// ChooseAction implements Chooser.
func (c *OpenAIChooser) ChooseAction(ctx context.Context, history []session.Turn, tools []ServerTool) (Action, error) {
	params := openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: c.buildMessages(history),
	}
	if len(tools) > 0 {
		params.Tools = buildToolParams(tools)
	}

	completion, err := c.api.Chat.Completions.New(ctx, params)
	if err != nil {
		return Action{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return Action{}, fmt.Errorf("chat completion returned no choices")
	}

	msg := completion.Choices[0].Message
	action := Action{Reply: msg.Content}

	for _, tc := range msg.ToolCalls {
		call, err := decodeToolCall(tc)
		if err != nil {
			c.logger.Warn("Skipping undecodable tool call",
				slog.String("name", tc.Function.Name), slog.String("err", err.Error()))
			continue
		}
		action.Calls = append(action.Calls, call)
	}

	return action, nil
}

func (c *OpenAIChooser) buildMessages(history []session.Turn) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+1)
	messages = append(messages, openai.SystemMessage(c.systemPrompt))

	for _, turn := range history {
		switch turn.Role {
		case session.RoleUser:
			messages = append(messages, openai.UserMessage(turn.Content))
		case session.RoleAssistant:
			assistant := openai.ChatCompletionAssistantMessageParam{}
			if turn.Content != "" {
				assistant.Content.OfString = param.NewOpt(turn.Content)
			}
			for _, call := range turn.ToolCalls {
				args, err := json.Marshal(call.Arguments)
				if err != nil {
					args = []byte("{}")
				}
				assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: call.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      encodeToolName(call.Server, call.Name),
						Arguments: string(args),
					},
				})
			}
			messages = append(messages, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		case session.RoleTool:
			content := turn.Content
			if content == "" {
				content = "{}"
			}
			messages = append(messages, openai.ToolMessage(content, turn.ToolCallID))
		}
	}

	return messages
}

func buildToolParams(tools []ServerTool) []openai.ChatCompletionToolParam {
	params := make([]openai.ChatCompletionToolParam, 0, len(tools))
	for _, st := range tools {
		var parameters shared.FunctionParameters
		if len(st.Tool.InputSchema) > 0 {
			if err := json.Unmarshal(st.Tool.InputSchema, &parameters); err != nil {
				parameters = nil
			}
		}
		params = append(params, openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        encodeToolName(st.Server, st.Tool.Name),
				Description: param.NewOpt(st.Tool.Description),
				Parameters:  parameters,
			},
		})
	}
	return params
}

func decodeToolCall(tc openai.ChatCompletionMessageToolCall) (session.ToolCall, error) {
	server, name, err := decodeToolName(tc.Function.Name)
	if err != nil {
		return session.ToolCall{}, err
	}

	var arguments map[string]any
	if tc.Function.Arguments != "" {
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &arguments); err != nil {
			return session.ToolCall{}, fmt.Errorf("parse arguments: %w", err)
		}
	}

	return session.ToolCall{
		ID:        tc.ID,
		Server:    server,
		Name:      name,
		Arguments: arguments,
	}, nil
}

func encodeToolName(server, name string) string {
	return server + toolKeySeparator + name
}

func decodeToolName(encoded string) (server, name string, err error) {
	server, name, ok := strings.Cut(encoded, toolKeySeparator)
	if !ok || server == "" || name == "" {
		return "", "", fmt.Errorf("tool name %q is not server-qualified", encoded)
	}
	return server, name, nil
}

var _ Chooser = (*OpenAIChooser)(nil)
