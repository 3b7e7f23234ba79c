package lmchat

import (
	"context"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// generation parameter defaults, applied whenever a caller omits a field
const defaultTemperature float32 = 0.7
const defaultTopP float32 = 0.1
const defaultTopK = 40
const defaultTypical float32 = 0.0
const defaultRepetitionPenaltyMax float32 = 1.176
const defaultMaxNewTokens = 3000

var validate = validator.New()

// Settings holds the sampling parameters for one generation. RepetitionPenaltySustain
// is expressed in tokens and defaults to the engine's full context length. Typical
// sampling is disabled when Typical is 0.
type Settings struct {
	Temperature              float32 `json:"temperature" yaml:"temperature" validate:"gte=0,lte=2"`
	TopP                     float32 `json:"top_p" yaml:"topP" validate:"gte=0,lte=1"`
	TopK                     int     `json:"top_k" yaml:"topK" validate:"gte=0"`
	Typical                  float32 `json:"typical" yaml:"typical" validate:"gte=0,lte=1"`
	RepetitionPenaltyMax     float32 `json:"token_repetition_penalty_max" yaml:"repetitionPenaltyMax" validate:"gte=1"`
	RepetitionPenaltySustain int     `json:"token_repetition_penalty_sustain" yaml:"repetitionPenaltySustain" validate:"gte=0"`
	MaxNewTokens             int     `json:"max_new_tokens" yaml:"maxNewTokens" validate:"gt=0"`
}

// DefaultSettings returns the default sampling parameters for an engine with the given
// context length.
func DefaultSettings(contextLength int) Settings {
	return Settings{
		Temperature:              defaultTemperature,
		TopP:                     defaultTopP,
		TopK:                     defaultTopK,
		Typical:                  defaultTypical,
		RepetitionPenaltyMax:     defaultRepetitionPenaltyMax,
		RepetitionPenaltySustain: contextLength,
		MaxNewTokens:             defaultMaxNewTokens,
	}
}

// Validate checks the settings against their accepted ranges.
func (s Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		return ValidationError{Reason: err.Error()}
	}
	return nil
}

// Overrides carries request-supplied sampling parameters. A nil field keeps the value
// of the settings it is applied onto.
type Overrides struct {
	Temperature              *float32 `json:"temperature"`
	TopP                     *float32 `json:"top_p"`
	TopK                     *int     `json:"top_k"`
	Typical                  *float32 `json:"typical"`
	RepetitionPenaltyMax     *float32 `json:"token_repetition_penalty_max"`
	RepetitionPenaltySustain *int     `json:"token_repetition_penalty_sustain"`
	MaxNewTokens             *int     `json:"max_new_tokens"`
}

// Apply returns a copy of the settings with every non-nil override applied.
func (s Settings) Apply(o Overrides) Settings {
	if o.Temperature != nil {
		s.Temperature = *o.Temperature
	}
	if o.TopP != nil {
		s.TopP = *o.TopP
	}
	if o.TopK != nil {
		s.TopK = *o.TopK
	}
	if o.Typical != nil {
		s.Typical = *o.Typical
	}
	if o.RepetitionPenaltyMax != nil {
		s.RepetitionPenaltyMax = *o.RepetitionPenaltyMax
	}
	if o.RepetitionPenaltySustain != nil {
		s.RepetitionPenaltySustain = *o.RepetitionPenaltySustain
	}
	if o.MaxNewTokens != nil {
		s.MaxNewTokens = *o.MaxNewTokens
	}
	return s
}

// Chunk is one incremental piece of generated text. A chunk with a non-nil Err
// terminates the stream.
type Chunk struct {
	Text string
	Err  error
}

// Generator is the capability interface for the text-generation engine. The returned
// channel is closed when the engine is done or the context is cancelled.
// Implementations are not assumed to be thread-safe: the Coordinator serializes all
// access to them.
type Generator interface {
	Configure(settings Settings)
	Generate(ctx context.Context, prompt string) <-chan Chunk
	ContextLength() int
}

// DummyGenerator is a scripted generator for testing purposes. It replays the given
// chunks, records every prompt and configuration it receives, and keeps track of how
// many generations were ever in flight at the same time.
type DummyGenerator struct {
	Chunks     []string
	Err        error
	Delay      time.Duration
	Prompts    []string
	Configured []Settings

	mu            sync.Mutex
	contextLength int
	active        int
	maxActive     int
}

// NewDummyGenerator returns a new DummyGenerator that emits the given chunks.
func NewDummyGenerator(chunks ...string) *DummyGenerator {
	return &DummyGenerator{Chunks: chunks, contextLength: 2048}
}

func (d *DummyGenerator) Configure(settings Settings) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Configured = append(d.Configured, settings)
}

func (d *DummyGenerator) ContextLength() int {
	return d.contextLength
}

// MaxConcurrent reports the highest number of generations that were in flight at the
// same time.
func (d *DummyGenerator) MaxConcurrent() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.maxActive
}

// LastPrompt returns the prompt of the most recent generation.
func (d *DummyGenerator) LastPrompt() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.Prompts) == 0 {
		return ""
	}
	return d.Prompts[len(d.Prompts)-1]
}

func (d *DummyGenerator) Generate(ctx context.Context, prompt string) <-chan Chunk {
	d.mu.Lock()
	d.Prompts = append(d.Prompts, prompt)
	d.active++
	if d.active > d.maxActive {
		d.maxActive = d.active
	}
	d.mu.Unlock()
	out := make(chan Chunk)
	go func() {
		defer func() {
			d.mu.Lock()
			d.active--
			d.mu.Unlock()
			close(out)
		}()
		for _, text := range d.Chunks {
			if d.Delay > 0 {
				time.Sleep(d.Delay)
			}
			select {
			case out <- Chunk{Text: text}:
			case <-ctx.Done():
				return
			}
		}
		if d.Err != nil {
			select {
			case out <- Chunk{Err: d.Err}:
			case <-ctx.Done():
			}
		}
	}()
	return out
}
