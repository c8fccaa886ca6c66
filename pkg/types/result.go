package types

// SearchHit is one ranked match returned by the query path
type SearchHit struct {
	ID         string  `json:"id"`
	Filename   string  `json:"filename"`
	FilePath   string  `json:"file_path"`
	PageNumber int     `json:"page_number"`
	Content    string  `json:"content"`
	Score      float64 `json:"score"`    // Bounded confidence in [0, 1]
	Distance   float64 `json:"distance"` // Raw store distance
}

// Validate checks if the search hit is valid
func (h *SearchHit) Validate() error {
	if h.FilePath == "" {
		return ErrEmptyHitSource
	}
	if h.PageNumber < 1 {
		return ErrInvalidPage
	}
	if h.Score < 0 || h.Score > 1 {
		return ErrInvalidScore
	}
	return nil
}

// Snippet returns the first n runes of the hit content on a single line.
func (h *SearchHit) Snippet(n int) string {
	runes := []rune(h.Content)
	if len(runes) > n {
		runes = runes[:n]
	}
	out := make([]rune, 0, len(runes))
	for _, r := range runes {
		if r == '\n' || r == '\r' || r == '\t' {
			r = ' '
		}
		out = append(out, r)
	}
	return string(out)
}
