package search

// Candidate is one retrieval hit from the product index. Ephemeral; only the
// top-K survive rerank and persistence.
type Candidate struct {
	ProductID  string
	Name       string
	Brand      string
	Category   string
	Price      int64
	ImageURL   string
	ProductURL string

	// RetrievalScore is the raw index score, or an in-process cosine
	// similarity for strategies that re-rank locally. Only comparable within
	// one batch.
	RetrievalScore float64

	Colors       []string
	Pattern      string
	StyleVibe    string
	SleeveLength string
	Materials    []string

	// StoredEmbedding is the candidate's indexed image vector when the
	// strategy requested it, nil otherwise.
	StoredEmbedding []float32
}

// AttributeHints are optional attributes extracted from the crop by an
// upstream step. Empty fields mean "unknown", never "none".
type AttributeHints struct {
	Brand          string
	Color          string
	SecondaryColor string
	ItemType       string
	Material       string
	Style          string
	Pattern        string
}

func (h AttributeHints) HasBrand() bool { return h.Brand != "" }
func (h AttributeHints) HasColor() bool { return h.Color != "" || h.SecondaryColor != "" }
func (h AttributeHints) Empty() bool {
	return h.Brand == "" && h.Color == "" && h.SecondaryColor == "" && h.ItemType == "" &&
		h.Material == "" && h.Style == "" && h.Pattern == ""
}
