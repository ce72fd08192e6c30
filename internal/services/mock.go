package services

import (
	"context"
	"errors"
	"iter"
	"strings"
	"time"

	"github.com/MegaGrindStone/bfchat/internal/models"
)

const errLoggerKey = "err"

// MockReply is the reply of the mock provider when none is configured.
const MockReply = "Hi! This is the mock provider. Switch the llm provider to openai, openrouter, " +
	"ollama or anthropic for real responses."

// ErrSummarizeUnsupported is returned by providers that cannot summarise uploaded files.
var ErrSummarizeUnsupported = errors.New("summarization is not supported by this provider")

// ErrIncompleteStream is yielded when a provider closes a chat stream without its end marker, so a cut-off
// reply is not mistaken for a complete one.
var ErrIncompleteStream = errors.New("stream ended before completion")

// Mock is an LLM that streams a fixed reply word by word. It lets the widget and the backend run without
// any model credentials.
type Mock struct {
	reply string
	delay time.Duration
}

// NewMock creates a Mock that streams reply, pausing delay between words. An empty reply uses MockReply.
func NewMock(reply string, delay time.Duration) Mock {
	if reply == "" {
		reply = MockReply
	}
	return Mock{reply: reply, delay: delay}
}

// Chat streams the configured reply, ignoring the conversation.
func (m Mock) Chat(ctx context.Context, _ []models.Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for i, word := range strings.Split(m.reply, " ") {
			if m.delay > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(m.delay):
				}
			}
			// Deltas concatenate back to the exact reply.
			if i > 0 {
				word = " " + word
			}
			if !yield(word, nil) {
				return
			}
		}
	}
}

// Summarize always fails, so uploads through the mock provider exercise the truncation fallback.
func (m Mock) Summarize(context.Context, string, int) (string, error) {
	return "", ErrSummarizeUnsupported
}
