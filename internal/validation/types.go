package validation

// TradePayload is the trade submission contract. The queue stores the raw
// bytes untouched; this struct only exists for ingress validation.
type TradePayload struct {
	Sender    string  `json:"sender" validate:"required"`
	Recipient string  `json:"recipient" validate:"required"`
	Amount    float64 `json:"amount" validate:"required,gt=0"`
	CropType  string  `json:"crop_type" validate:"required"`
	Quantity  int     `json:"quantity" validate:"required,min=1"`

	TradeType        string `json:"trade_type,omitempty"`
	QualityGrade     string `json:"quality_grade,omitempty"`
	BuyerType        string `json:"buyer_type,omitempty"`
	DeliveryDate     string `json:"delivery_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	DeliveryLocation string `json:"delivery_location,omitempty"`
	TradeTerms       string `json:"trade_terms,omitempty"`
	Timestamp        string `json:"timestamp,omitempty"`
}
