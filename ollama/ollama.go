package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/theirish81/lmchat"
)

const defaultModel = "qwen3:latest"
const defaultContextLength = 2048

// Generator implements the lmchat.Generator capability backed by an Ollama server.
// It streams completions from /api/generate one line at a time. The Coordinator
// guarantees Configure and Generate are never called concurrently.
type Generator struct {
	client   *http.Client
	baseURL  string
	config   Config
	settings lmchat.Settings
}

type Config struct {
	Model         string `yaml:"model" json:"model"`
	ContextLength int    `yaml:"contextLength" json:"context_length"`
}

func DefaultConfig() Config {
	return Config{
		Model:         defaultModel,
		ContextLength: defaultContextLength,
	}
}

// NewGenerator creates a new Generator instance. No client timeout is set: the length
// of a streamed generation is bounded by the request context instead.
func NewGenerator(baseURL string, config Config) *Generator {
	return &Generator{
		baseURL: baseURL,
		config:  config,
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
			},
		},
		settings: lmchat.DefaultSettings(config.ContextLength),
	}
}

// Configure stores the sampling settings for the next generation.
func (g *Generator) Configure(settings lmchat.Settings) {
	g.settings = settings
}

// ContextLength returns the context window the engine runs with.
func (g *Generator) ContextLength() int {
	return g.config.ContextLength
}

// Generate streams the completion for the prompt. The returned channel is closed when
// the engine is done; a chunk with a non-nil Err terminates the stream early.
func (g *Generator) Generate(ctx context.Context, prompt string) <-chan lmchat.Chunk {
	// the prompt already carries the fixed prompt and the participant cues, so the
	// model template must not wrap it again
	request := Request{
		Model:  g.config.Model,
		Prompt: prompt,
		Stream: true,
		Raw:    true,
		Options: Options{
			NumCtx:        g.config.ContextLength,
			NumPredict:    g.settings.MaxNewTokens,
			Temperature:   g.settings.Temperature,
			TopK:          g.settings.TopK,
			TopP:          g.settings.TopP,
			TypicalP:      g.settings.Typical,
			RepeatPenalty: g.settings.RepetitionPenaltyMax,
			RepeatLastN:   g.settings.RepetitionPenaltySustain,
		},
	}
	out := make(chan lmchat.Chunk)
	go func() {
		defer close(out)
		res, err := g.sendRequest(ctx, request)
		if err != nil {
			g.emit(ctx, out, lmchat.Chunk{Err: err})
			return
		}
		defer func() {
			_ = res.Body.Close()
		}()
		if res.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(res.Body)
			g.emit(ctx, out, lmchat.Chunk{Err: fmt.Errorf("ollama returned status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))})
			return
		}
		scanner := bufio.NewScanner(res.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var response Response
			if err := json.Unmarshal(line, &response); err != nil {
				g.emit(ctx, out, lmchat.Chunk{Err: err})
				return
			}
			if response.Error != "" {
				g.emit(ctx, out, lmchat.Chunk{Err: errors.New(response.Error)})
				return
			}
			if response.Response != "" {
				if !g.emit(ctx, out, lmchat.Chunk{Text: response.Response}) {
					return
				}
			}
			if response.Done {
				return
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			g.emit(ctx, out, lmchat.Chunk{Err: err})
		}
	}()
	return out
}

// WaitReady polls the engine until it answers. Serving must not start before the
// model is reachable.
func (g *Generator) WaitReady(ctx context.Context, attempts int) error {
	return lmchat.Retry(ctx, attempts, func() error {
		apiUrl, err := url.Parse(g.baseURL + "/api/tags")
		if err != nil {
			return err
		}
		req := http.Request{
			Method: "GET",
			URL:    apiUrl,
		}
		res, err := g.client.Do(req.WithContext(ctx))
		if err != nil {
			return err
		}
		defer func() {
			_ = res.Body.Close()
		}()
		if res.StatusCode != http.StatusOK {
			return fmt.Errorf("ollama returned status %d", res.StatusCode)
		}
		return nil
	})
}

func (g *Generator) sendRequest(ctx context.Context, request Request) (*http.Response, error) {
	requestBody, err := json.Marshal(request)
	if err != nil {
		return nil, err
	}
	reader := bytes.NewReader(requestBody)
	apiUrl, err := url.Parse(g.baseURL + "/api/generate")
	if err != nil {
		return nil, err
	}
	req := http.Request{
		Method: "POST",
		URL:    apiUrl,
		Header: http.Header{
			"Content-Type": []string{"application/json"},
		},
		Body: io.NopCloser(reader),
	}
	return g.client.Do(req.WithContext(ctx))
}

// emit delivers a chunk unless the context is done first.
func (g *Generator) emit(ctx context.Context, out chan<- lmchat.Chunk, chunk lmchat.Chunk) bool {
	select {
	case out <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}
