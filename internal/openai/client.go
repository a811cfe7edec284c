package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// Client wraps the OpenAI SDK and provides utility helpers.
type Client struct {
	client *openai.Client
	model  openai.ChatModel
}

// ErrClientNotInitialised is returned when attempting to call the API without a configured client.
var ErrClientNotInitialised = errors.New("openai client not initialised")

// Intent represents the high-level action inferred from a user message.
type Intent string

const (
	// IntentUnknown indicates the message intent could not be resolved.
	IntentUnknown Intent = "unknown"
	// IntentAddReminder instructs the bot to capture a new reminder.
	IntentAddReminder Intent = "add_reminder"
	// IntentListReminders asks the bot to list current reminders.
	IntentListReminders Intent = "list_reminders"
	// IntentDeleteReminder requests deletion of a specific reminder.
	IntentDeleteReminder Intent = "delete_reminder"
	// IntentUpdateReminder moves an existing reminder to a new time.
	IntentUpdateReminder Intent = "update_reminder"
	// IntentClearReminders requests that all reminders be removed.
	IntentClearReminders Intent = "clear_reminders"
	// IntentHelp asks for usage guidance.
	IntentHelp Intent = "help"
)

var knownIntents = map[Intent]struct{}{
	IntentAddReminder:    {},
	IntentListReminders:  {},
	IntentDeleteReminder: {},
	IntentUpdateReminder: {},
	IntentClearReminders: {},
	IntentHelp:           {},
}

// Extraction is the task and HH:MM time pulled out of a free-form message.
type Extraction struct {
	Task string `json:"task"`
	Time string `json:"time"`
}

// New returns a client. Without an apiKey every call reports ErrClientNotInitialised.
func New(apiKey string) *Client {
	if apiKey == "" {
		return &Client{}
	}
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &Client{
		client: &client,
		model:  openai.ChatModelGPT4oMini,
	}
}

// Enabled reports whether an API key was configured.
func (c *Client) Enabled() bool {
	return c != nil && c.client != nil
}

// ClassifyIntent uses the language model to infer the user's intent.
func (c *Client) ClassifyIntent(ctx context.Context, content string) (Intent, error) {
	if strings.TrimSpace(content) == "" {
		return IntentUnknown, fmt.Errorf("content cannot be empty")
	}
	if !c.Enabled() {
		return IntentUnknown, ErrClientNotInitialised
	}

	label, err := c.complete(ctx, 10*time.Second, 8,
		"Classify the user's request for a health reminder bot. Reply with exactly one label: add_reminder, list_reminders, delete_reminder, update_reminder, clear_reminders, help, or unknown.",
		content)
	if err != nil {
		return IntentUnknown, err
	}
	return ParseIntent(label), nil
}

// ExtractReminder asks the model for the task and the time of day in a message.
// Time is empty when the message names none.
func (c *Client) ExtractReminder(ctx context.Context, content string) (Extraction, error) {
	if strings.TrimSpace(content) == "" {
		return Extraction{}, fmt.Errorf("content cannot be empty")
	}
	if !c.Enabled() {
		return Extraction{}, ErrClientNotInitialised
	}

	reply, err := c.complete(ctx, 15*time.Second, 80,
		`Extract the health task and the time of day from a reminder request. Reply with JSON only: {"task": "<short task>", "time": "<HH:MM 24h or empty>"}.`,
		content)
	if err != nil {
		return Extraction{}, err
	}
	return ParseExtraction(reply)
}

func (c *Client) complete(ctx context.Context, timeout time.Duration, maxTokens int64, system, user string) (string, error) {
	req := openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			{
				OfSystem: &openai.ChatCompletionSystemMessageParam{
					Content: openai.ChatCompletionSystemMessageParamContentUnion{
						OfString: openai.String(system),
					},
				},
			},
			{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{
						OfString: openai.String(user),
					},
				},
			},
		},
		Temperature:         openai.Float(0.0),
		MaxCompletionTokens: openai.Int(maxTokens),
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := c.client.Chat.Completions.New(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no completion received")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// ParseIntent maps a model label onto a known intent.
func ParseIntent(label string) Intent {
	intent := Intent(strings.ToLower(strings.TrimSpace(label)))
	if _, ok := knownIntents[intent]; ok {
		return intent
	}
	return IntentUnknown
}

// ParseExtraction decodes the model's JSON reply, tolerating code fences.
func ParseExtraction(reply string) (Extraction, error) {
	body := strings.TrimSpace(reply)
	body = strings.TrimPrefix(body, "```json")
	body = strings.TrimPrefix(body, "```")
	body = strings.TrimSuffix(body, "```")

	var out Extraction
	if err := json.Unmarshal([]byte(strings.TrimSpace(body)), &out); err != nil {
		return Extraction{}, fmt.Errorf("decode extraction: %w", err)
	}
	out.Task = strings.TrimSpace(out.Task)
	out.Time = strings.TrimSpace(out.Time)
	if out.Time != "" {
		parsed, err := time.Parse("15:04", out.Time)
		if err != nil {
			return Extraction{}, fmt.Errorf("invalid time %q: %w", out.Time, err)
		}
		out.Time = parsed.Format("15:04")
	}
	if out.Task == "" {
		return Extraction{}, fmt.Errorf("no task in extraction")
	}
	return out, nil
}
