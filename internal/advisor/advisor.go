// Package advisor wraps the language-model advisory service. Replies are
// returned as raw text; callers must treat anything they cannot parse as
// a neutral answer.
package advisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/swingtrader/internal/logging"
)

type Reply struct {
	Content    string
	Confidence float64
	Reasoning  string
}

type Advisor interface {
	Advise(ctx context.Context, prompt string, context map[string]any) (Reply, error)
}

var ErrEmptyReply = errors.New("advisor returned an empty reply")

// SystemPrompt fixes the reply format the signal parser expects.
const SystemPrompt = `You are a disciplined swing-trading analyst.
Answer with a single JSON object and nothing else:
{"action": "BUY" | "SELL" | "PASS", "confidence": <0..1>, "reasoning": "<one or two sentences>"}
Prefer PASS when the evidence is mixed.`

// ChatAdvisor sends prompts to an eino chat model.
type ChatAdvisor struct {
	model model.BaseChatModel
	log   *logrus.Entry
}

func NewChatAdvisor(m model.BaseChatModel, log *logrus.Entry) *ChatAdvisor {
	if log == nil {
		log = logging.Component(nil, "advisor")
	}
	return &ChatAdvisor{model: m, log: log}
}

type OpenAIConfig struct {
	BaseURL   string
	APIKey    string
	Model     string
	MaxTokens int
}

// NewOpenAI builds a ChatAdvisor over any OpenAI-compatible endpoint.
func NewOpenAI(ctx context.Context, cfg OpenAIConfig, log *logrus.Entry) (*ChatAdvisor, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("advisor: api key is required")
	}
	mc := &openai.ChatModelConfig{
		BaseURL: cfg.BaseURL,
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
	}
	if cfg.MaxTokens > 0 {
		maxTokens := cfg.MaxTokens
		mc.MaxTokens = &maxTokens
	}
	cm, err := openai.NewChatModel(ctx, mc)
	if err != nil {
		return nil, fmt.Errorf("advisor: %w", err)
	}
	return NewChatAdvisor(cm, log), nil
}

func (a *ChatAdvisor) Advise(ctx context.Context, prompt string, data map[string]any) (Reply, error) {
	user := prompt
	if len(data) > 0 {
		b, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return Reply{}, fmt.Errorf("advisor context: %w", err)
		}
		user = prompt + "\n\nContext:\n" + string(b)
	}

	msg, err := a.model.Generate(ctx, []*schema.Message{
		schema.SystemMessage(SystemPrompt),
		schema.UserMessage(user),
	})
	if err != nil {
		return Reply{}, fmt.Errorf("advisor generate: %w", err)
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return Reply{}, ErrEmptyReply
	}

	a.log.WithField("chars", len(msg.Content)).Debug("advisor reply")
	return Reply{Content: msg.Content}, nil
}

// Offline answers without a model. It recommends the action named in the
// context when the feasibility score clears Threshold and passes
// otherwise.
type Offline struct {
	Threshold float64
}

func (o Offline) Advise(ctx context.Context, _ string, data map[string]any) (Reply, error) {
	if err := ctx.Err(); err != nil {
		return Reply{}, err
	}

	score, _ := data["feasibility"].(float64)
	action, _ := data["action"].(string)
	if action == "" {
		action = "BUY"
	}

	threshold := o.Threshold
	if threshold <= 0 {
		threshold = 0.7
	}

	out := struct {
		Action     string  `json:"action"`
		Confidence float64 `json:"confidence"`
		Reasoning  string  `json:"reasoning"`
	}{Action: "PASS", Confidence: score}
	if score >= threshold {
		out.Action = action
		out.Reasoning = fmt.Sprintf("rule-based: feasibility %.2f >= %.2f", score, threshold)
	} else {
		out.Reasoning = fmt.Sprintf("rule-based: feasibility %.2f below %.2f", score, threshold)
	}

	b, _ := json.Marshal(out)
	return Reply{Content: string(b), Confidence: out.Confidence, Reasoning: out.Reasoning}, nil
}
