package economy

// Offer is a standing intent to sell. The goods stay in the seller's
// inventory until the offer is accepted or matched, so an offer can go
// stale if the seller spends the goods elsewhere first.
type Offer struct {
	ID       string  `json:"offer_id"`
	SellerID string  `json:"seller_id"`
	Good     string  `json:"good_name"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
}

// Request is a standing intent to buy. Creating one reserves
// MaxPrice * Quantity of the buyer's currency up front; fills and
// cancellations pay the refund difference back.
type Request struct {
	ID       string  `json:"request_id"`
	BuyerID  string  `json:"buyer_id"`
	Good     string  `json:"good_name"`
	Quantity int     `json:"quantity"`
	MaxPrice float64 `json:"max_price"`
}

// Reserved is the currency still locked behind the request's
// remaining quantity.
func (r *Request) Reserved() float64 {
	if r.Quantity <= 0 {
		return 0
	}
	return r.MaxPrice * float64(r.Quantity)
}

// Transaction is the immutable record of one completed trade. ViaMarket
// distinguishes batch-matched fills from direct accepts.
type Transaction struct {
	ID        string  `json:"transaction_id"`
	SellerID  string  `json:"seller_id"`
	BuyerID   string  `json:"buyer_id"`
	Good      string  `json:"good_name"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
	ViaMarket bool    `json:"facilitated_by_market"`
}
