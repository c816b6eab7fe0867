package domain

// Reading is the generated content for a profile: one or more cards plus
// interpretation text. Single-card readings fill Card*; premium multi-card
// spreads additionally fill Cards/CardNames.
type Reading struct {
	CardName       string   `json:"card_name"`
	CardImage      string   `json:"card_image,omitempty"`
	Interpretation string   `json:"interpretation"`
	Cards          []string `json:"cards,omitempty"`
	CardNames      []string `json:"card_names,omitempty"`
}

// IsSpread reports whether the reading is a multi-card spread.
func (r *Reading) IsSpread() bool {
	return len(r.Cards) > 1
}

// Empty reports whether no content has been fetched yet.
func (r *Reading) Empty() bool {
	return r.CardName == "" && len(r.Cards) == 0
}
