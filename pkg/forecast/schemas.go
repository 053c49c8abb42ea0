package forecast

import "github.com/foresightlab/foresight/pkg/llm"

// Typed outputs, one per phase schema. Kept as distinct records passed
// explicitly between phases; there is no union type.

// FactorCandidate is one discovered or validated factor.
type FactorCandidate struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// DiscoveryOutput is a discovery worker's result: up to 5 candidates.
type DiscoveryOutput struct {
	Factors []FactorCandidate `json:"factors"`
}

// ValidationOutput is the validator's deduplicated factor set.
type ValidationOutput struct {
	Factors []FactorCandidate `json:"factors"`
}

// RatedFactor is a factor with an importance score in [0,10].
type RatedFactor struct {
	Name            string  `json:"name"`
	Description     string  `json:"description"`
	Category        string  `json:"category"`
	ImportanceScore float64 `json:"importance_score"`
}

// RatingConsensusOutput scores every factor and selects the research set.
type RatingConsensusOutput struct {
	RatedFactors []RatedFactor `json:"rated_factors"`
	TopFactors   []RatedFactor `json:"top_factors"`
}

// ResearchOutput is one research worker's summary for a single factor.
type ResearchOutput struct {
	Summary    string  `json:"summary"`
	Confidence float64 `json:"confidence"`
}

// SynthesisOutput is one personality's final prediction.
type SynthesisOutput struct {
	PredictionProbability float64  `json:"prediction_probability"`
	Confidence            float64  `json:"confidence"`
	Reasoning             string   `json:"reasoning"`
	KeyFactors            []string `json:"key_factors"`
}

var factorCandidateSchema = &llm.Property{
	Type: "object",
	Properties: map[string]*llm.Property{
		"name":        {Type: "string", Description: "Concise factor name, 3-5 words"},
		"description": {Type: "string", Description: "1-2 sentences explaining relevance"},
		"category":    {Type: "string", Description: "economic, social, political, technical, environmental, or similar"},
	},
	Required: []string{"name", "description", "category"},
}

var discoverySchema = &llm.Schema{
	Name: "factor_discovery",
	Root: llm.Object(map[string]*llm.Property{
		"factors": {Type: "array", Items: factorCandidateSchema},
	}),
}

var validationSchema = &llm.Schema{
	Name: "factor_validation",
	Root: llm.Object(map[string]*llm.Property{
		"factors": {Type: "array", Items: factorCandidateSchema},
	}),
}

var ratedFactorSchema = &llm.Property{
	Type: "object",
	Properties: map[string]*llm.Property{
		"name":             {Type: "string"},
		"description":      {Type: "string"},
		"category":         {Type: "string"},
		"importance_score": {Type: "number", Minimum: llm.Float(0), Maximum: llm.Float(10)},
	},
	Required: []string{"name", "description", "category", "importance_score"},
}

var ratingConsensusSchema = &llm.Schema{
	Name: "rating_consensus",
	Root: llm.Object(map[string]*llm.Property{
		"rated_factors": {Type: "array", Items: ratedFactorSchema},
		"top_factors":   {Type: "array", Items: ratedFactorSchema},
	}),
}

var researchSchema = &llm.Schema{
	Name: "factor_research",
	Root: llm.Object(map[string]*llm.Property{
		"summary":    {Type: "string", Description: "Detailed research summary"},
		"confidence": {Type: "number", Minimum: llm.Float(0), Maximum: llm.Float(1)},
	}),
}

var synthesisSchema = &llm.Schema{
	Name: "prediction_synthesis",
	Root: llm.Object(map[string]*llm.Property{
		"prediction_probability": {Type: "number", Minimum: llm.Float(0), Maximum: llm.Float(1)},
		"confidence":             {Type: "number", Minimum: llm.Float(0), Maximum: llm.Float(1)},
		"reasoning":              {Type: "string"},
		"key_factors":            {Type: "array", Items: &llm.Property{Type: "string"}},
	}),
}
