// Package llm cleans raw speech-to-text transcripts with an
// OpenAI-compatible chat completion API: punctuation, obvious
// recognition mistakes, and paragraph breaks.
package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/creachadair/atomicfile"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
)

// ErrNotConfigured means no API key or model was provided.
var ErrNotConfigured = errors.New("llm post-processing not configured")

const systemPrompt = `You clean up raw speech-to-text transcripts. Fix punctuation, correct obvious recognition errors from context, and break the text into readable paragraphs. Keep the original language. Do not summarize, translate, or add commentary. Return only the cleaned transcript.`

// maxChunkChars bounds one request payload. Long transcripts are split
// on line boundaries and the cleaned chunks rejoined.
const maxChunkChars = 6000

// PostProcessor sends transcripts through a chat completion model.
type PostProcessor struct {
	client *openai.Client
	model  string
	logger zerolog.Logger
}

// New builds a post-processor. baseURL may point at any
// OpenAI-compatible endpoint; empty keeps the default. Returns
// ErrNotConfigured when key or model is missing.
func New(apiKey, baseURL, model string, logger zerolog.Logger) (*PostProcessor, error) {
	if apiKey == "" || model == "" {
		return nil, ErrNotConfigured
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	return &PostProcessor{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		logger: logger,
	}, nil
}

// Process cleans the transcript text. Long input is processed in
// chunks; a failure on any chunk fails the whole call so the caller can
// fall back to the raw text.
func (p *PostProcessor) Process(ctx context.Context, text string) (string, error) {
	chunks := splitChunks(text, maxChunkChars)

	cleaned := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		p.logger.Debug().
			Int("chunk", i+1).
			Int("total", len(chunks)).
			Int("chars", len(chunk)).
			Msg("post-processing transcript chunk")

		out, err := p.complete(ctx, chunk)
		if err != nil {
			return "", fmt.Errorf("post-process chunk %d/%d: %w", i+1, len(chunks), err)
		}
		cleaned = append(cleaned, out)
	}

	return strings.Join(cleaned, "\n\n"), nil
}

// ProcessFile cleans a saved transcript and writes the result next to
// it as <stem>_corrected.txt. When the model call fails, the raw text
// is written instead so the output file always exists. Returns the
// output path.
func (p *PostProcessor) ProcessFile(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read transcript: %w", err)
	}

	text := string(data)
	cleaned, err := p.Process(ctx, text)
	if err != nil {
		p.logger.Warn().Err(err).Str("path", path).Msg("post-processing failed, writing raw text")
		cleaned = text
	}

	ext := filepath.Ext(path)
	outPath := strings.TrimSuffix(path, ext) + "_corrected" + ext
	if ext == "" {
		outPath = path + "_corrected.txt"
	}

	f, err := atomicfile.New(outPath, 0644)
	if err != nil {
		return "", fmt.Errorf("create output file: %w", err)
	}
	defer f.Cancel()
	if _, err := f.Write([]byte(cleaned)); err != nil {
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return outPath, nil
}

// complete runs one chat completion round.
func (p *PostProcessor) complete(ctx context.Context, text string) (string, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("model returned no choices")
	}

	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	if out == "" {
		return "", errors.New("model returned empty content")
	}
	return out, nil
}

// splitChunks breaks text into pieces of at most limit characters,
// preferring line boundaries. A single oversized line becomes its own
// chunk rather than being cut mid-sentence.
func splitChunks(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}

	var (
		chunks []string
		b      strings.Builder
	)
	for _, line := range strings.Split(text, "\n") {
		if b.Len() > 0 && b.Len()+len(line)+1 > limit {
			chunks = append(chunks, b.String())
			b.Reset()
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
	}
	if b.Len() > 0 {
		chunks = append(chunks, b.String())
	}
	return chunks
}
