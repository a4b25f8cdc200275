package rerank

import (
	"sort"
	"strings"

	"github.com/yungbote/stylelens-backend/internal/search"
)

// Default weight split. Visual similarity carries the most signal, the raw
// retrieval score the least trust since it is not comparable across
// strategies before normalization.
const (
	VisualWeight    = 0.50
	RetrievalWeight = 0.30
	AttributeWeight = 0.20

	// CaptionWeight blends in when the caption looks like an actual fashion
	// description. Base weights scale down to keep the sum at 1.
	CaptionWeight = 0.20

	DefaultTopK = 5

	// Visual similarity default when no embedding is available for a
	// candidate, neutral rather than punishing.
	neutralVisualSimilarity = 0.5
)

// RankedMatch is a candidate with its rerank signals attached.
type RankedMatch struct {
	search.Candidate

	VisualSimilarity    float64
	NormalizedRetrieval float64
	AttributeBonus      float64
	TextSimilarity      float64
	CombinedScore       float64
}

// Input bundles everything Rerank needs; the caller already fetched all of
// it, the reranker itself does no I/O.
type Input struct {
	Candidates     []search.Candidate
	QueryEmbedding []float32
	// NameEmbeddings aligns with Candidates; entries may be nil when a name
	// failed to embed.
	NameEmbeddings [][]float32
	Hints          search.AttributeHints
	Caption        string
	TopK           int
}

// Rerank recombines each candidate's retrieval score with a cross-modal
// similarity and an attribute-match bonus into one combined score, sorted
// descending. Ties keep first-seen order so a fixed input always produces
// the same output.
func Rerank(in Input) []RankedMatch {
	if len(in.Candidates) == 0 {
		return nil
	}
	topK := in.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}

	minScore, maxScore := in.Candidates[0].RetrievalScore, in.Candidates[0].RetrievalScore
	for _, c := range in.Candidates[1:] {
		if c.RetrievalScore < minScore {
			minScore = c.RetrievalScore
		}
		if c.RetrievalScore > maxScore {
			maxScore = c.RetrievalScore
		}
	}
	scoreRange := maxScore - minScore
	if scoreRange == 0 {
		scoreRange = 1
	}

	useCaption := IsUsefulCaption(in.Caption)

	matches := make([]RankedMatch, 0, len(in.Candidates))
	for i, c := range in.Candidates {
		m := RankedMatch{Candidate: c}

		m.VisualSimilarity = visualSimilarity(in, i)
		m.NormalizedRetrieval = (c.RetrievalScore - minScore) / scoreRange
		m.AttributeBonus = attributeBonus(c, in.Hints)

		m.CombinedScore = VisualWeight*m.VisualSimilarity +
			RetrievalWeight*m.NormalizedRetrieval +
			AttributeWeight*m.AttributeBonus

		if useCaption {
			m.TextSimilarity = CaptionSimilarity(in.Caption, c.Name)
			m.CombinedScore = (1-CaptionWeight)*m.CombinedScore + CaptionWeight*m.TextSimilarity
		}

		matches = append(matches, m)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].CombinedScore > matches[j].CombinedScore
	})

	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches
}

// visualSimilarity prefers the cross-modal check against the candidate's
// name-text embedding, falls back to the stored image vector, and stays
// neutral when neither exists.
func visualSimilarity(in Input, i int) float64 {
	if len(in.QueryEmbedding) == 0 {
		return neutralVisualSimilarity
	}
	if i < len(in.NameEmbeddings) && len(in.NameEmbeddings[i]) > 0 {
		return search.Cosine(in.QueryEmbedding, in.NameEmbeddings[i])
	}
	if len(in.Candidates[i].StoredEmbedding) > 0 {
		return search.Cosine(in.QueryEmbedding, in.Candidates[i].StoredEmbedding)
	}
	return neutralVisualSimilarity
}

// attributeBonus rewards brand and color substring matches between the
// detected attributes and the candidate's name/brand fields. Tiers are
// 0, 0.5 and 1.0.
func attributeBonus(c search.Candidate, hints search.AttributeHints) float64 {
	bonus := 0.0
	brand := strings.ToLower(c.Brand)
	name := strings.ToLower(c.Name)

	if hints.Brand != "" && (strings.Contains(brand, hints.Brand) || strings.Contains(name, hints.Brand)) {
		bonus += 0.5
	}

	if hints.Color != "" || hints.SecondaryColor != "" {
		colorMatch := (hints.Color != "" && strings.Contains(name, hints.Color)) ||
			(hints.SecondaryColor != "" && strings.Contains(name, hints.SecondaryColor))
		if colorMatch {
			bonus += 0.5
		}
	}
	return bonus
}
