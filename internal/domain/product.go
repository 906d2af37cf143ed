package domain

// Product is a read-only catalog entry.
type Product struct {
	ID            string   `json:"productId"`
	Handle        string   `json:"handle"`
	Name          string   `json:"name"`
	Category      string   `json:"category"`
	Price         float64  `json:"price"`
	OriginalPrice *float64 `json:"originalPrice,omitempty"`
	Description   string   `json:"description"`
	Features      []string `json:"features,omitempty"`
	Brand         string   `json:"brand"`
	Size          string   `json:"size,omitempty"`
	Color         string   `json:"color,omitempty"`
	ImageURL      string   `json:"image,omitempty"`
	Link          string   `json:"link,omitempty"`
	Rating        float64  `json:"rating"`
	Published     bool     `json:"published"`
}
