package domain

// BuildTradeIdempotencyKey scopes a caller-supplied client reference to its user.
func BuildTradeIdempotencyKey(userID, clientRef string) string {
	return "trade:" + userID + ":" + clientRef
}

// BuildQuoteConsumptionKey names the single-use marker for a quote.
func BuildQuoteConsumptionKey(quoteID string) string {
	return "quote:consumed:" + quoteID
}
