package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// OpenAIConfig holds settings for the OpenAI-compatible providers. BaseURL
// may point at any compatible endpoint (OpenAI, Nebius, local vLLM).
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	EmbedModel string
	ChatModel  string
	Dimension  int
	User       string
	Logger     *zap.Logger
}

func (c *OpenAIConfig) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("%w: openai api key is required", ErrInvalidConfig)
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: embedding dimension must be positive", ErrInvalidConfig)
	}
	return nil
}

func newOpenAIClient(cfg *OpenAIConfig) *openai.Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return openai.NewClientWithConfig(clientCfg)
}

// OpenAIEmbedder implements Embedder over the OpenAI embeddings API.
type OpenAIEmbedder struct {
	client    *openai.Client
	model     openai.EmbeddingModel
	dimension int
	user      string
	logger    *zap.Logger
}

var _ Embedder = (*OpenAIEmbedder)(nil)

// NewOpenAIEmbedder creates an embedder against an OpenAI-compatible API.
func NewOpenAIEmbedder(cfg *OpenAIConfig) (*OpenAIEmbedder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAIEmbedder{
		client:    newOpenAIClient(cfg),
		model:     openai.EmbeddingModel(cfg.EmbedModel),
		dimension: cfg.Dimension,
		user:      cfg.User,
		logger:    logger,
	}, nil
}

func (e *OpenAIEmbedder) embed(ctx context.Context, inputs []string) ([][]float32, error) {
	req := openai.EmbeddingRequest{
		Input:          inputs,
		Model:          e.model,
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
		Dimensions:     e.dimension,
		User:           e.user,
	}

	resp, err := e.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, parseOpenAIError(err)
	}
	if len(resp.Data) != len(inputs) {
		return nil, fmt.Errorf("embedding response has %d vectors for %d inputs", len(resp.Data), len(inputs))
	}

	// The API may reorder data; Index restores input order.
	out := make([][]float32, len(inputs))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("embedding response index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

func (e *OpenAIEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return e.embed(ctx, texts)
}

func (e *OpenAIEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *OpenAIEmbedder) Dimension() int { return e.dimension }

func (e *OpenAIEmbedder) Close() error { return nil }

// OpenAISummarizer implements Summarizer over the chat completions API.
// Image content is sent as a data URL part, so vision-capable chat models
// can describe screenshots and diagrams.
type OpenAISummarizer struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

var _ Summarizer = (*OpenAISummarizer)(nil)

// NewOpenAISummarizer creates a chat-based summarizer.
func NewOpenAISummarizer(cfg *OpenAIConfig) (*OpenAISummarizer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: openai api key is required", ErrInvalidConfig)
	}
	if cfg.ChatModel == "" {
		return nil, fmt.Errorf("%w: chat model is required", ErrInvalidConfig)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAISummarizer{
		client: newOpenAIClient(cfg),
		model:  cfg.ChatModel,
		logger: logger,
	}, nil
}

const summarizePrompt = `Summarize the provided content twice.
First an abstract of at most %d tokens capturing what the content is and why it matters.
Then an overview of at most %d tokens preserving structure, key terms and identifiers.
Respond as JSON: {"abstract": "...", "overview": "..."}`

func (s *OpenAISummarizer) Summarize(ctx context.Context, req SummarizeRequest) (Summary, error) {
	abstract := req.AbstractTokens
	if abstract <= 0 {
		abstract = DefaultAbstractTokens
	}
	overview := req.OverviewTokens
	if overview <= 0 {
		overview = DefaultOverviewTokens
	}

	parts := []openai.ChatMessagePart{
		{Type: openai.ChatMessagePartTypeText, Text: fmt.Sprintf(summarizePrompt, abstract, overview)},
	}
	if req.Content != "" {
		parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: req.Content})
	}
	if len(req.ImageData) > 0 {
		mime := req.ContentType
		if mime == "" {
			mime = "image/png"
		}
		dataURL := fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(req.ImageData))
		parts = append(parts, openai.ChatMessagePart{
			Type:     openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{URL: dataURL},
		})
	}

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, MultiContent: parts},
		},
	})
	if err != nil {
		return Summary{}, parseOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return Summary{}, errors.New("empty chat completion response")
	}

	return parseSummaryResponse(resp.Choices[0].Message.Content, abstract, overview), nil
}

// parseSummaryResponse tolerates models that wrap JSON in code fences or
// answer in plain prose.
func parseSummaryResponse(content string, abstractBudget, overviewBudget int) Summary {
	trimmed := strings.TrimSpace(content)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	var parsed struct {
		Abstract string `json:"abstract"`
		Overview string `json:"overview"`
	}
	if err := json.Unmarshal([]byte(trimmed), &parsed); err == nil && parsed.Abstract != "" {
		return Summary{
			Abstract: truncateTokens(parsed.Abstract, abstractBudget),
			Overview: truncateTokens(parsed.Overview, overviewBudget),
		}
	}
	return Summary{
		Abstract: truncateTokens(trimmed, abstractBudget),
		Overview: truncateTokens(trimmed, overviewBudget),
	}
}

// OpenAIReranker implements Reranker by asking a chat model to order
// candidates by relevance.
type OpenAIReranker struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

var _ Reranker = (*OpenAIReranker)(nil)

// NewOpenAIReranker creates a chat-based reranker.
func NewOpenAIReranker(cfg *OpenAIConfig) (*OpenAIReranker, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: openai api key is required", ErrInvalidConfig)
	}
	if cfg.ChatModel == "" {
		return nil, fmt.Errorf("%w: chat model is required", ErrInvalidConfig)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAIReranker{
		client: newOpenAIClient(cfg),
		model:  cfg.ChatModel,
		logger: logger,
	}, nil
}

const rerankPrompt = `Rank the numbered passages by relevance to the query.
Query: %s

%s
Respond as JSON: {"ranking": [most relevant passage numbers, best first]}`

func (r *OpenAIReranker) Rerank(ctx context.Context, query string, candidates []Candidate, topK int) ([]ScoredCandidate, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	var sb strings.Builder
	for i, c := range candidates {
		fmt.Fprintf(&sb, "[%d] %s\n\n", i+1, truncateTokens(c.Content, 256))
	}

	resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: r.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf(rerankPrompt, query, sb.String())},
		},
	})
	if err != nil {
		return nil, parseOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("empty chat completion response")
	}

	order, err := parseRanking(resp.Choices[0].Message.Content, len(candidates))
	if err != nil {
		return nil, err
	}

	if topK <= 0 || topK > len(order) {
		topK = len(order)
	}
	out := make([]ScoredCandidate, 0, topK)
	for rank, idx := range order[:topK] {
		out = append(out, ScoredCandidate{
			Candidate:    candidates[idx],
			RerankScore:  1 / float32(rank+1),
			OriginalRank: idx,
		})
	}
	return out, nil
}

// parseRanking extracts a permutation from the model response. Unmentioned
// candidates keep their original relative order at the tail, so a sloppy
// model answer never drops results.
func parseRanking(content string, n int) ([]int, error) {
	trimmed := strings.TrimSpace(content)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")

	var parsed struct {
		Ranking []int `json:"ranking"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(trimmed)), &parsed); err != nil {
		return nil, fmt.Errorf("parse rerank response: %w", err)
	}

	order := make([]int, 0, n)
	seen := make(map[int]bool, n)
	for _, num := range parsed.Ranking {
		idx := num - 1
		if idx < 0 || idx >= n || seen[idx] {
			continue
		}
		seen[idx] = true
		order = append(order, idx)
	}
	for i := 0; i < n; i++ {
		if !seen[i] {
			order = append(order, i)
		}
	}
	return order, nil
}

// parseOpenAIError extracts the API error detail and marks the failure as a
// provider error so the gateway retry loop treats it uniformly.
func parseOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("openai api error %d (%s): %w", apiErr.HTTPStatusCode, apiErr.Message, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Errorf("openai request error %d: %w", reqErr.HTTPStatusCode, err)
	}
	return err
}
