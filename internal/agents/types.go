package agents

// Concept is a curatorial plan for an exhibition.
type Concept struct {
	Title     string          `json:"title"`
	Theme     string          `json:"theme"`
	Narrative string          `json:"narrative"`
	Audience  string          `json:"audience,omitempty"`
	Sections  []string        `json:"sections"`
	Budget    *BudgetEstimate `json:"budget,omitempty"`
}

// LineItem is one budget line.
type LineItem struct {
	Category string  `json:"category"`
	Amount   float64 `json:"amount"`
}

// BudgetEstimate is a costed estimate, optionally checked against a ceiling.
type BudgetEstimate struct {
	Total         float64    `json:"total"`
	Currency      string     `json:"currency"`
	Items         []LineItem `json:"items"`
	Ceiling       *float64   `json:"ceiling,omitempty"`
	WithinCeiling bool       `json:"within_ceiling"`
}

// ArchiveItem is an object suggested from a collection.
type ArchiveItem struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Creator     string `json:"creator,omitempty"`
	Date        string `json:"date,omitempty"`
	Institution string `json:"institution,omitempty"`
	URL         string `json:"url,omitempty"`
}
