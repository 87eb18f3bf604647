package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog"
)

// TokenEstimator approximates how many tokens a piece of text will consume.
// Estimates steer compression; exactness is not required.
type TokenEstimator interface {
	Estimate(text string) int
}

type tiktokenEstimator struct {
	enc *tiktoken.Tiktoken
}

func (t *tiktokenEstimator) Estimate(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}

// heuristicEstimator is the fallback when no encoder is available. Roughly
// four characters per token holds across the models in the catalog.
type heuristicEstimator struct{}

func (heuristicEstimator) Estimate(text string) int {
	return len(text)/4 + 1
}

// NewTokenEstimator returns a cl100k_base estimator, falling back to the
// character heuristic if the encoding cannot be loaded.
func NewTokenEstimator() TokenEstimator {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return heuristicEstimator{}
	}
	return &tiktokenEstimator{enc: enc}
}

// Summarizer condenses a rendered transcript into a shorter summary,
// typically by calling a cheaper model.
type Summarizer func(ctx context.Context, transcript string) (string, error)

// ContextManager holds the ordered conversation history under a token
// budget. Compression happens only when CompressIfNeeded is called, so the
// owner controls when (turn boundaries) the history may change shape.
type ContextManager struct {
	mu        sync.Mutex
	messages  []Message
	sizes     []int
	total     int
	budget    int
	minTail   int
	estimator TokenEstimator
	logger    zerolog.Logger
}

// NewContextManager builds a manager with the given token budget. minTail
// is the number of most recent messages that compression always preserves
// verbatim.
func NewContextManager(budget, minTail int, estimator TokenEstimator, logger zerolog.Logger) *ContextManager {
	if estimator == nil {
		estimator = heuristicEstimator{}
	}
	return &ContextManager{
		budget:    budget,
		minTail:   minTail,
		estimator: estimator,
		logger:    logger.With().Str("component", "context").Logger(),
	}
}

// Append adds a message to the history and updates the running size.
func (c *ContextManager) Append(msg Message) {
	size := c.estimator.Estimate(msg.Content)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msg)
	c.sizes = append(c.sizes, size)
	c.total += size
}

// Size returns the current estimated token count of the history.
func (c *ContextManager) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// Budget returns the configured token budget.
func (c *ContextManager) Budget() int {
	return c.budget
}

// Len returns the number of messages in the history.
func (c *ContextManager) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

// Snapshot returns a copy of the history safe to read while the manager
// keeps appending.
func (c *ContextManager) Snapshot() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// NeedsCompression reports whether the history exceeds the budget.
func (c *ContextManager) NeedsCompression() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total > c.budget
}

// CompressIfNeeded brings the history back under budget. Messages older
// than the tail window are rendered to a transcript, summarized, and
// replaced atomically by a single summary message. If summarization fails
// the history is hard-truncated instead and degraded=true is returned;
// failed compression is never fatal.
func (c *ContextManager) CompressIfNeeded(ctx context.Context, summarize Summarizer) (degraded bool, err error) {
	return c.compressKeeping(ctx, summarize, c.minTail)
}

// CompressIfNeededKeeping compresses like CompressIfNeeded but preserves at
// least keepTail trailing messages verbatim, whichever of keepTail and the
// configured minimum is larger. Mid-turn callers use it to keep the entire
// latest dispatch round out of the summary so the model always sees those
// results un-summarized at least once.
func (c *ContextManager) CompressIfNeededKeeping(ctx context.Context, summarize Summarizer, keepTail int) (degraded bool, err error) {
	if keepTail < c.minTail {
		keepTail = c.minTail
	}
	return c.compressKeeping(ctx, summarize, keepTail)
}

func (c *ContextManager) compressKeeping(ctx context.Context, summarize Summarizer, tail int) (degraded bool, err error) {
	c.mu.Lock()
	if c.total <= c.budget {
		c.mu.Unlock()
		return false, nil
	}
	if tail >= len(c.messages) {
		// Nothing old enough to summarize; drop from the front.
		c.hardTruncateLocked()
		c.mu.Unlock()
		return true, nil
	}

	prefix := make([]Message, len(c.messages)-tail)
	copy(prefix, c.messages[:len(c.messages)-tail])
	transcript := renderTranscript(prefix)
	before := c.total
	c.mu.Unlock()

	summary, sumErr := summarize(ctx, transcript)
	if sumErr != nil || strings.TrimSpace(summary) == "" {
		c.logger.Warn().Err(sumErr).Msg("summarization failed, falling back to hard truncation")
		c.mu.Lock()
		c.hardTruncateLocked()
		c.mu.Unlock()
		return true, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// The history may have grown while the summarizer ran; the original
	// prefix is still the oldest len(prefix) messages.
	kept := c.messages[len(prefix):]
	rebuilt := make([]Message, 0, len(kept)+1)
	rebuilt = append(rebuilt, NewSummaryMessage(summary))
	rebuilt = append(rebuilt, kept...)
	c.rebuildLocked(rebuilt)

	if c.total > c.budget {
		c.hardTruncateLocked()
		degraded = true
	}

	c.logger.Info().
		Int("before_tokens", before).
		Int("after_tokens", c.total).
		Int("messages", len(c.messages)).
		Bool("degraded", degraded).
		Msg("context compressed")
	return degraded, nil
}

// hardTruncateLocked drops the oldest messages until the history fits the
// budget. The newest message is kept, but if it alone exceeds the budget
// its content is cut from the front until its estimate fits.
func (c *ContextManager) hardTruncateLocked() {
	dropped := 0
	for len(c.messages) > 1 && c.total > c.budget {
		c.total -= c.sizes[0]
		c.messages = c.messages[1:]
		c.sizes = c.sizes[1:]
		dropped++
	}
	for c.total > c.budget && len(c.messages) == 1 && len(c.messages[0].Content) > 0 {
		msg := &c.messages[0]
		msg.Content = msg.Content[(len(msg.Content)+1)/2:]
		c.total -= c.sizes[0]
		c.sizes[0] = c.estimator.Estimate(msg.Content)
		c.total += c.sizes[0]
	}
	if dropped > 0 {
		c.logger.Warn().Int("dropped", dropped).Msg("hard-truncated oldest messages")
	}
}

func (c *ContextManager) rebuildLocked(messages []Message) {
	c.messages = messages
	c.sizes = make([]int, len(messages))
	c.total = 0
	for i, msg := range messages {
		c.sizes[i] = c.estimator.Estimate(msg.Content)
		c.total += c.sizes[i]
	}
}

// renderTranscript flattens messages into role-tagged lines for the
// summarizer prompt.
func renderTranscript(messages []Message) string {
	var b strings.Builder
	for _, msg := range messages {
		switch msg.Role {
		case RoleToolResult:
			status := "ok"
			if msg.IsError {
				status = "error"
			}
			fmt.Fprintf(&b, "[tool %s %s]: %s\n", msg.ToolCallID, status, msg.Content)
		default:
			fmt.Fprintf(&b, "[%s]: %s\n", msg.Role, msg.Content)
		}
	}
	return b.String()
}
