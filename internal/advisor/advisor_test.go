package advisor

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/swingtrader/internal/logging"
)

type fakeModel struct {
	reply *schema.Message
	err   error
	seen  []*schema.Message
}

func (f *fakeModel) Generate(_ context.Context, in []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.seen = in
	return f.reply, f.err
}

func (f *fakeModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not supported")
}

func TestChatAdvisorSendsSystemAndUserMessages(t *testing.T) {
	t.Parallel()

	m := &fakeModel{reply: schema.AssistantMessage(`{"action":"BUY","confidence":0.8}`, nil)}
	a := NewChatAdvisor(m, logging.Discard())

	r, err := a.Advise(context.Background(), "Evaluate AAPL", map[string]any{"rsi": 55.0})
	require.NoError(t, err)
	assert.Contains(t, r.Content, `"BUY"`)

	require.Len(t, m.seen, 2)
	assert.Equal(t, schema.System, m.seen[0].Role)
	assert.Equal(t, schema.User, m.seen[1].Role)
	assert.Contains(t, m.seen[1].Content, "Evaluate AAPL")
	assert.Contains(t, m.seen[1].Content, `"rsi": 55`)
}

func TestChatAdvisorErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("rate limited")
	a := NewChatAdvisor(&fakeModel{err: boom}, logging.Discard())
	_, err := a.Advise(context.Background(), "x", nil)
	assert.ErrorIs(t, err, boom)

	a = NewChatAdvisor(&fakeModel{reply: schema.AssistantMessage("  ", nil)}, logging.Discard())
	_, err = a.Advise(context.Background(), "x", nil)
	assert.ErrorIs(t, err, ErrEmptyReply)
}

func TestNewOpenAIRequiresKey(t *testing.T) {
	t.Parallel()

	_, err := NewOpenAI(context.Background(), OpenAIConfig{Model: "gpt-4o-mini"}, nil)
	assert.Error(t, err)
}

func TestOffline(t *testing.T) {
	t.Parallel()

	o := Offline{Threshold: 0.7}
	r, err := o.Advise(context.Background(), "", map[string]any{"feasibility": 0.9})
	require.NoError(t, err)
	assert.Contains(t, r.Content, `"action":"BUY"`)
	assert.Equal(t, 0.9, r.Confidence)

	r, err = o.Advise(context.Background(), "", map[string]any{"feasibility": 0.9, "action": "SELL"})
	require.NoError(t, err)
	assert.Contains(t, r.Content, `"action":"SELL"`)

	r, err = o.Advise(context.Background(), "", map[string]any{"feasibility": 0.5})
	require.NoError(t, err)
	assert.Contains(t, r.Content, `"action":"PASS"`)

	r, err = o.Advise(context.Background(), "", nil)
	require.NoError(t, err)
	assert.Contains(t, r.Content, `"action":"PASS"`)
}
