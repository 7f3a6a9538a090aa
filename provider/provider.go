package provider

import "context"

// CharsPerToken is the character-to-token ratio used for usage
// estimation across providers.
const CharsPerToken = 4

// Embedder is the interface for text embedding providers.
type Embedder interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// EstimateTokens approximates the token count of a text using a fixed
// characters-per-token ratio, rounding up.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + CharsPerToken - 1) / CharsPerToken
}

// Cost converts a token count to dollars at the given per-1K-token rate.
func Cost(tokens int, costPer1K float64) float64 {
	return float64(tokens) / 1000 * costPer1K
}
