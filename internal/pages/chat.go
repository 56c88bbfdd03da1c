package pages

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"schedulr/internal/model"
	"schedulr/internal/router"
	"schedulr/internal/textgen"
)

const (
	Greeting      = "Hi! I'm your Schedulr AI assistant. I can help you manage appointments, services, and answer questions about your clinic. What can I help you with today?"
	ChatError     = "Failed to get response from AI. Please try again."
	ChatApology   = "Sorry, I encountered an error processing your request. Please try again."
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type ChatMessage struct {
	ID   string    `json:"id"`
	Role string    `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

type ChatView struct {
	Messages []ChatMessage `json:"messages"`
	Loading  bool          `json:"loading"`
	Error    string        `json:"error,omitempty"`
}

// Chat keeps history for display only. Each request sends just the system
// prompt and the latest message.
type Chat struct {
	base
	messages []ChatMessage
	pending  int
	errMsg   string
	seq      int
}

func NewChat(deps Deps) *Chat {
	c := &Chat{base: newBase(deps, router.Chat)}
	c.messages = []ChatMessage{{ID: "ai-1", Role: RoleAssistant, Text: Greeting, At: deps.now()}}
	return c
}

func (c *Chat) Mount(ctx context.Context, id *model.Identity, notify Notify) {
	c.mount(ctx, id, notify)
}

func (c *Chat) View() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ChatView{
		Messages: append([]ChatMessage(nil), c.messages...),
		Loading:  c.pending > 0,
		Error:    c.errMsg,
	}
}

func (c *Chat) Handle(_ context.Context, command string, args json.RawMessage) error {
	if command != "send" {
		return fmt.Errorf("%w: %s", ErrUnknownCommand, command)
	}
	var req struct {
		Message string `json:"message"`
	}
	if err := decodeArgs(args, &req); err != nil {
		return err
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil
	}
	if _, err := c.uid(); err != nil {
		return err
	}
	gen := c.deps.Generator
	if gen == nil {
		gen = textgen.Disabled{}
	}

	c.mu.Lock()
	c.errMsg = ""
	c.seq++
	id := fmt.Sprintf("msg-%d", c.seq)
	c.messages = append(c.messages, ChatMessage{ID: id, Role: RoleUser, Text: req.Message, At: c.deps.now()})
	c.pending++
	c.mu.Unlock()
	c.changed()

	var reply string
	c.async("chat", func(ctx context.Context) error {
		out, err := gen.Generate(ctx, textgen.ChatPrompt(req.Message))
		c.deps.Metrics.Generation("chat", err)
		reply = out
		return err
	}, func(err error) {
		c.pending--
		msg := ChatMessage{ID: id + "-ai", Role: RoleAssistant, Text: reply, At: c.deps.now()}
		if err != nil {
			c.log.Warn().Err(err).Msg("chat generation failed")
			c.errMsg = ChatError
			msg.ID = id + "-error"
			msg.Text = ChatApology
		}
		c.messages = append(c.messages, msg)
	})
	return nil
}
