package assistant

import (
	"context"
	"iter"
	"strings"
	"time"
)

// DefaultCannedReply is served when no model is configured.
const DefaultCannedReply = "I'm running without a language model right now, so I can't answer questions in detail. " +
	"You can browse the Projects Page or reach Vetrivel through the Contact Page."

// CannedProcessor streams a fixed reply word by word.
type CannedProcessor struct {
	Reply string
	Delay time.Duration
}

func (p *CannedProcessor) Name() string {
	return "canned"
}

func (p *CannedProcessor) Chat(ctx context.Context, _ ChatRequest) iter.Seq2[*ChatResponse, error] {
	return func(yield func(*ChatResponse, error) bool) {
		reply := p.Reply
		if reply == "" {
			reply = DefaultCannedReply
		}
		words := strings.SplitAfter(reply, " ")
		for i, w := range words {
			if i > 0 && p.Delay > 0 {
				select {
				case <-ctx.Done():
					yield(nil, ctx.Err())
					return
				case <-time.After(p.Delay):
				}
			}
			if !yield(&ChatResponse{Response: w}, nil) {
				return
			}
		}
	}
}
