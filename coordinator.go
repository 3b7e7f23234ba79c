package lmchat

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/theirish81/lmchat/log"
)

// Coordinator serializes every call into the Generator and turns a conversational
// turn into an incremental stream of text chunks. The generation mutex is the sole
// concurrency gate: it is held for the full duration of one generation, including the
// time spent streaming chunks to the caller, so at most one generation is ever in
// flight. Waiters are not ordered, only excluded.
type Coordinator struct {
	generator     Generator
	generateMutex sync.Mutex
	logger        *slog.Logger
}

// CoordinatorOption is an option for the coordinator.
type CoordinatorOption func(*Coordinator)

// WithLogger sets the logger for the coordinator.
func WithLogger(logger *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// NewCoordinator creates a coordinator around the given generator.
func NewCoordinator(generator Generator, options ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		generator: generator,
		logger:    slog.Default(),
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// InferPrecise runs a single blocking generation against the raw prompt, applying the
// given overrides on top of the default settings. The full generated text is returned
// as one response, with no streaming and no session involvement.
func (c *Coordinator) InferPrecise(ctx context.Context, prompt string, overrides Overrides) (string, error) {
	settings := DefaultSettings(c.generator.ContextLength()).Apply(overrides)
	if err := settings.Validate(); err != nil {
		return "", err
	}
	c.generateMutex.Lock()
	defer c.generateMutex.Unlock()
	c.logger.Debug("starting precise inference", "promptLength", len(prompt))
	c.generator.Configure(settings)
	var sb strings.Builder
	for chunk := range c.generator.Generate(ctx, prompt) {
		if chunk.Err != nil {
			return "", GenerationError{Err: chunk.Err}
		}
		sb.WriteString(chunk.Text)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// RespondMulti handles one conversational turn against the given session: the user
// input is appended as a block authored by the human participant, the generation
// context is built from the fixed prompt and the block history, and chunks are
// forwarded to the stream as the engine emits them. On completion the concatenated
// text is appended as the bot's block and the session persisted. The turn stays bound
// to the session instance it started with, regardless of later active-session
// switches.
//
// When the stream's consumer goes away (ctx done), the coordinator stops consuming
// the engine, discards the partial output and appends no bot block. On an engine
// failure a GenerationError is returned and no bot block is appended. The generation
// mutex is released on every path.
func (c *Coordinator) RespondMulti(ctx context.Context, session *Session, userInput string, stream *log.StreamerLogger) error {
	c.generateMutex.Lock()
	defer c.generateMutex.Unlock()
	if _, err := session.AppendBlock(session.User(), userInput); err != nil {
		return err
	}
	prompt := session.PromptContext()
	c.generator.Configure(session.CurrentSettings())
	c.logger.Debug("starting chat generation", "session", session.Name(), "promptLength", len(prompt))
	stream.Debug(log.NewEvent(log.StartEventType, log.CoordinatorComponent).
		WithSession(session.Name()).
		WithMessage("generation started"))
	var sb strings.Builder
	for chunk := range c.generator.Generate(ctx, prompt) {
		if chunk.Err != nil {
			return GenerationError{Err: chunk.Err}
		}
		if err := stream.Stream(ctx, log.NewEvent(log.ChunkEventType, log.CoordinatorComponent).WithContent(chunk.Text)); err != nil {
			// the consumer went away: drop the partial output
			c.logger.Warn("stream consumer gone, discarding partial output", "session", session.Name())
			return err
		}
		sb.WriteString(chunk.Text)
	}
	if err := ctx.Err(); err != nil {
		c.logger.Warn("generation interrupted, discarding partial output", "session", session.Name())
		return err
	}
	_, err := session.AppendBlock(session.Bot(), sb.String())
	return err
}
