// Package analysis implements the four transcript analysis stages: tags,
// title, todo list and embedding. All of them read the joined transcript
// carried in the job request and call an OpenAI-compatible provider.
package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"unicode/utf8"

	"mediaflow/internal/config"
	"mediaflow/internal/logging"
	"mediaflow/internal/pipeline"
	"mediaflow/internal/process"
	"mediaflow/internal/services"
	"mediaflow/internal/services/llm"
	"mediaflow/internal/stage"
)

const (
	maxPromptRunes = 48000
	maxTitleRunes  = 120
)

// Completer issues JSON chat completions.
type Completer interface {
	CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Embedder produces embedding vectors.
type Embedder interface {
	Embed(ctx context.Context, input string, dims int) ([]float64, error)
}

// Generator holds the provider clients shared by the analysis handlers.
type Generator struct {
	cfg    *config.Config
	chat   Completer
	embed  Embedder
	logger *slog.Logger
}

// Option customizes a Generator.
type Option func(*Generator)

// WithCompleter replaces the chat client.
func WithCompleter(c Completer) Option {
	return func(g *Generator) { g.chat = c }
}

// WithEmbedder replaces the embeddings client.
func WithEmbedder(e Embedder) Option {
	return func(g *Generator) { g.embed = e }
}

// New builds a Generator with clients configured from cfg.LLM and cfg.Embedding.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) *Generator {
	g := &Generator{
		cfg: cfg,
		chat: llm.NewClient(llm.Config{
			APIKey:         cfg.LLM.APIKey,
			BaseURL:        cfg.LLM.BaseURL,
			Model:          cfg.LLM.Model,
			Referer:        cfg.LLM.Referer,
			Title:          cfg.LLM.Title,
			TimeoutSeconds: cfg.LLM.TimeoutSeconds,
		}),
		embed: llm.NewClient(llm.Config{
			APIKey:         firstNonEmpty(cfg.Embedding.APIKey, cfg.LLM.APIKey),
			BaseURL:        cfg.Embedding.BaseURL,
			Model:          cfg.Embedding.Model,
			Referer:        cfg.LLM.Referer,
			Title:          cfg.LLM.Title,
			TimeoutSeconds: cfg.LLM.TimeoutSeconds,
		}),
		logger: logging.NewComponentLogger(logger, "analysis"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Handlers returns one stage handler per analysis stage.
func (g *Generator) Handlers() []stage.Handler {
	return []stage.Handler{
		&handler{g: g, stage: pipeline.StageGenerateTags, run: g.tags, key: g.chatKey},
		&handler{g: g, stage: pipeline.StageGenerateTitle, run: g.title, key: g.chatKey},
		&handler{g: g, stage: pipeline.StageGenerateTodo, run: g.todo, key: g.chatKey},
		&handler{g: g, stage: pipeline.StageGenerateEmbedding, run: g.embedding, key: g.embedKey},
	}
}

func (g *Generator) chatKey() string { return g.cfg.LLM.APIKey }

func (g *Generator) embedKey() string {
	return firstNonEmpty(g.cfg.Embedding.APIKey, g.cfg.LLM.APIKey)
}

type handler struct {
	g     *Generator
	stage pipeline.Stage
	run   func(ctx context.Context, transcript string) (pipeline.Result, error)
	key   func() string
}

func (h *handler) Stage() pipeline.Stage { return h.stage }

func (h *handler) Run(ctx context.Context, req stage.Request) (pipeline.Result, error) {
	transcript := strings.TrimSpace(req.Options.Transcript)
	if transcript == "" {
		return pipeline.Result{}, services.Wrap(services.ErrValidation, string(h.stage), "request", "transcript is empty", nil)
	}
	result, err := h.run(ctx, transcript)
	if err != nil {
		return pipeline.Result{}, err
	}
	result.Stage = h.stage
	return result, nil
}

// HealthCheck reports a missing provider key without calling the provider.
func (h *handler) HealthCheck(context.Context) stage.Health {
	if strings.TrimSpace(h.key()) == "" {
		return stage.Unhealthy(string(h.stage), "api key not configured")
	}
	return stage.Healthy(string(h.stage))
}

func (g *Generator) complete(ctx context.Context, st pipeline.Stage, system, transcript string, target any) error {
	content, err := g.chat.CompleteJSON(ctx, system, truncateRunes(transcript, maxPromptRunes))
	if err != nil {
		return err
	}
	if err := llm.DecodeJSON(content, target); err != nil {
		return services.Wrap(services.ErrExternalTool, string(st), "parse response", "", err)
	}
	return nil
}

func (g *Generator) tags(ctx context.Context, transcript string) (pipeline.Result, error) {
	limit := g.cfg.LLM.MaxTags
	if limit <= 0 {
		limit = 12
	}
	var resp tagsResponse
	if err := g.complete(ctx, pipeline.StageGenerateTags, fmt.Sprintf(TagsPrompt, limit), transcript, &resp); err != nil {
		return pipeline.Result{}, err
	}
	raw := make([]pipeline.Tag, 0, len(resp.Tags))
	for _, t := range resp.Tags {
		weight := t.Weight
		if math.IsNaN(weight) || math.IsInf(weight, 0) {
			continue
		}
		raw = append(raw, pipeline.Tag{Name: t.Name, Weight: min(max(weight, 0), 1)})
	}
	tags := process.NormalizeTags(raw)
	if len(tags) > limit {
		tags = tags[:limit]
	}
	if len(tags) == 0 {
		return pipeline.Result{}, services.Wrap(services.ErrExternalTool, string(pipeline.StageGenerateTags), "parse response", "model returned no tags", nil)
	}
	g.logger.Debug("tags generated", logging.Int("count", len(tags)))
	return pipeline.Result{Tags: &pipeline.TagsResult{Tags: tags}}, nil
}

func (g *Generator) title(ctx context.Context, transcript string) (pipeline.Result, error) {
	var resp titleResponse
	if err := g.complete(ctx, pipeline.StageGenerateTitle, TitlePrompt, transcript, &resp); err != nil {
		return pipeline.Result{}, err
	}
	title := CleanTitle(resp.Title)
	if title == "" || strings.EqualFold(title, g.cfg.Workflow.TitlePlaceholder) {
		return pipeline.Result{}, services.Wrap(services.ErrExternalTool, string(pipeline.StageGenerateTitle), "parse response", "model returned no usable title", nil)
	}
	return pipeline.Result{Title: &pipeline.TitleResult{Title: title}}, nil
}

func (g *Generator) todo(ctx context.Context, transcript string) (pipeline.Result, error) {
	var resp todoResponse
	if err := g.complete(ctx, pipeline.StageGenerateTodo, TodoPrompt, transcript, &resp); err != nil {
		return pipeline.Result{}, err
	}
	items := make([]string, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item = strings.Join(strings.Fields(item), " "); item != "" {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		return pipeline.Result{}, services.Wrap(services.ErrExternalTool, string(pipeline.StageGenerateTodo), "parse response", "model returned no todo items", nil)
	}
	return pipeline.Result{Todo: &pipeline.TodoResult{Items: items}}, nil
}

func (g *Generator) embedding(ctx context.Context, transcript string) (pipeline.Result, error) {
	vector, err := g.embed.Embed(ctx, truncateRunes(transcript, maxPromptRunes), g.cfg.Embedding.Dimensions)
	if err != nil {
		return pipeline.Result{}, err
	}
	if err := pipeline.ValidateEmbedding(vector, g.cfg.Embedding.Dimensions); err != nil {
		return pipeline.Result{}, services.Wrap(services.ErrExternalTool, string(pipeline.StageGenerateEmbedding), "validate vector", "", err)
	}
	return pipeline.Result{Embedding: &pipeline.EmbeddingResult{Vector: vector}}, nil
}

// CleanTitle collapses whitespace and strips wrapping quotes and a trailing
// period from a generated title.
func CleanTitle(title string) string {
	title = strings.Join(strings.Fields(title), " ")
	title = strings.Trim(title, "\"'“”‘’`")
	title = strings.TrimSuffix(strings.TrimSpace(title), ".")
	return truncateRunes(strings.TrimSpace(title), maxTitleRunes)
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
