// Package extract implements the "extract" task kind: LLM-assisted
// structured extraction of a page's Markdown into a caller-supplied JSON
// schema. It is a one-shot structured-output call built directly
// against anthropic-sdk-go; it does not adapt the prior codebase's
// internal/infra/llm chat-completion clients, which are not part of
// this module (see DESIGN.md).
package extract

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/kaptinlin/jsonrepair"
	"github.com/pkoukk/tiktoken-go"

	domainerrors "github.com/crawlrs/crawlrs/internal/errors"
	"github.com/crawlrs/crawlrs/internal/logging"
)

// MaxPromptTokens bounds how much of a page's Markdown is sent to the
// model; pages longer than this are truncated before the call, since
// Claude's context window is finite and truncation mid-request would
// otherwise surface as an opaque API error instead of a predictable one.
const MaxPromptTokens = 150000

// DefaultModel is used when Request.Model is empty.
const DefaultModel = anthropic.Model("claude-3-7-sonnet-latest")

// Request is one extraction call.
type Request struct {
	Markdown string
	// Schema is the caller's target JSON schema, included verbatim in
	// the prompt so the model knows the exact shape to return.
	Schema json.RawMessage
	Prompt string // optional extra extraction instructions
	Model  anthropic.Model
}

// Extractor runs one structured-extraction call against an LLM.
type Extractor struct {
	client anthropic.Client
	enc    *tiktoken.Tiktoken
	logger logging.Logger
}

// New builds an Extractor using the given API key.
func New(apiKey string) (*Extractor, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, err
	}
	return &Extractor{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		enc:    enc,
		logger: logging.NewComponentLogger("extract"),
	}, nil
}

// Extract sends req to the model and returns the parsed result matching
// req.Schema, repairing malformed JSON the model returns before
// unmarshalling.
func (e *Extractor) Extract(ctx context.Context, req Request) (json.RawMessage, error) {
	model := req.Model
	if model == "" {
		model = DefaultModel
	}

	prompt := e.buildPrompt(req)

	msg, err := e.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     model,
		MaxTokens: 4096,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return nil, domainerrors.New(domainerrors.KindEngineTransient, "extraction call failed", err)
	}

	raw := concatText(msg)
	repaired, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		return nil, domainerrors.New(domainerrors.KindEngineTerminal, "model returned unrepairable JSON", err)
	}

	var out json.RawMessage
	if err := json.Unmarshal([]byte(repaired), &out); err != nil {
		return nil, domainerrors.New(domainerrors.KindEngineTerminal, "repaired JSON failed to parse", err)
	}
	return out, nil
}

func (e *Extractor) buildPrompt(req Request) string {
	markdown := e.truncate(req.Markdown)
	prompt := fmt.Sprintf(
		"Extract structured data from the following page content as JSON matching this schema exactly:\n%s\n\n",
		string(req.Schema),
	)
	if req.Prompt != "" {
		prompt += req.Prompt + "\n\n"
	}
	prompt += "Page content:\n" + markdown + "\n\nRespond with only the JSON object, no commentary."
	return prompt
}

// truncate bounds markdown to MaxPromptTokens using the same cl100k_base
// encoding the model's context window is measured in.
func (e *Extractor) truncate(markdown string) string {
	tokens := e.enc.Encode(markdown, nil, nil)
	if len(tokens) <= MaxPromptTokens {
		return markdown
	}
	return e.enc.Decode(tokens[:MaxPromptTokens])
}

func concatText(msg *anthropic.Message) string {
	var out string
	for _, block := range msg.Content {
		if text := block.AsText(); text.Text != "" {
			out += text.Text
		}
	}
	return out
}
