// Package llm wraps the Gemini API for text generation and embeddings.
package llm

import (
	"context"
	"fmt"
	"math"
	"os"

	"github.com/spf13/viper"
	"google.golang.org/genai"
)

const (
	// DefaultModel is the default Gemini model for classification calls.
	DefaultModel = "gemini-flash-lite-latest"
	// DefaultEmbeddingModel is the default model for generating embeddings.
	DefaultEmbeddingModel = "gemini-embedding-001"
	// DefaultEmbeddingDimensions is the output dimension for embeddings (Matryoshka).
	DefaultEmbeddingDimensions = int32(768)
)

// Client is a client for the Gemini LLM and embedding models.
type Client struct {
	apiKey         string
	modelName      string
	embeddingModel string
	dimensions     int32
	gClient        *genai.Client
}

// TextGenerationOptions contains options for text generation.
type TextGenerationOptions struct {
	MaxTokens      int32
	Temperature    *float32      // nil leaves the model default; classification passes an explicit 0
	Model          string        // Model override (optional)
	ResponseSchema *genai.Schema // Schema for structured JSON output
}

// NewClient creates a new LLM client. The API key is taken from the
// GEMINI_API_KEY environment variable, falling back to the ai.gemini.api_key
// config entry.
func NewClient(modelName string) (*Client, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		apiKey = viper.GetString("ai.gemini.api_key")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required: set GEMINI_API_KEY or ai.gemini.api_key")
	}

	if modelName == "" {
		modelName = viper.GetString("ai.gemini.model")
		if modelName == "" {
			modelName = DefaultModel
		}
	}

	embeddingModel := viper.GetString("ai.gemini.embedding_model")
	if embeddingModel == "" {
		embeddingModel = DefaultEmbeddingModel
	}

	dimensions := int32(viper.GetInt("ai.gemini.embedding_dimensions"))
	if dimensions <= 0 {
		dimensions = DefaultEmbeddingDimensions
	}

	ctx := context.Background()
	gClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &Client{
		apiKey:         apiKey,
		modelName:      modelName,
		embeddingModel: embeddingModel,
		dimensions:     dimensions,
		gClient:        gClient,
	}, nil
}

// EmbeddingDimensions returns the configured embedding output dimension.
func (c *Client) EmbeddingDimensions() int {
	return int(c.dimensions)
}

// GenerateText generates text using the LLM with the given options.
func (c *Client) GenerateText(ctx context.Context, prompt string, options TextGenerationOptions) (string, error) {
	if prompt == "" {
		return "", fmt.Errorf("prompt cannot be empty")
	}

	modelName := c.modelName
	if options.Model != "" {
		modelName = options.Model
	}

	contents := []*genai.Content{{
		Parts: []*genai.Part{{Text: prompt}},
		Role:  "user",
	}}

	var config *genai.GenerateContentConfig
	if options.MaxTokens > 0 || options.Temperature != nil || options.ResponseSchema != nil {
		config = &genai.GenerateContentConfig{}
		if options.MaxTokens > 0 {
			config.MaxOutputTokens = options.MaxTokens
		}
		if options.Temperature != nil {
			config.Temperature = options.Temperature
		}
		if options.ResponseSchema != nil {
			config.ResponseMIMEType = "application/json"
			config.ResponseSchema = options.ResponseSchema
		}
	}

	resp, err := c.gClient.Models.GenerateContent(ctx, modelName, contents, config)
	if err != nil {
		return "", fmt.Errorf("failed to generate text: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("empty response from LLM")
	}

	return text, nil
}

// GenerateEmbedding generates a vector embedding for the given text.
func (c *Client) GenerateEmbedding(ctx context.Context, text string) ([]float64, error) {
	vectors, err := c.GenerateEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// GenerateEmbeddings generates embeddings for all texts in one batched API
// call. The result is parallel to the input.
func (c *Client) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		// Conservative limit for the embedding model's token budget.
		if len(text) > 8000 {
			text = text[:8000]
		}
		contents[i] = &genai.Content{
			Parts: []*genai.Part{{Text: text}},
			Role:  "user",
		}
	}

	dims := c.dimensions
	config := &genai.EmbedContentConfig{
		OutputDimensionality: &dims,
	}

	resp, err := c.gClient.Models.EmbedContent(ctx, c.embeddingModel, contents, config)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}
	if resp == nil || len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: want %d, got %d", len(texts), embeddingCount(resp))
	}

	vectors := make([][]float64, len(texts))
	for i, emb := range resp.Embeddings {
		if emb == nil {
			return nil, fmt.Errorf("no embedding values returned for input %d", i)
		}
		vec := make([]float64, len(emb.Values))
		for j, v := range emb.Values {
			vec[j] = float64(v)
		}
		vectors[i] = vec
	}

	return vectors, nil
}

func embeddingCount(resp *genai.EmbedContentResponse) int {
	if resp == nil {
		return 0
	}
	return len(resp.Embeddings)
}

// CosineSimilarity calculates the cosine similarity between two embeddings.
// Mismatched or empty vectors score 0.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
