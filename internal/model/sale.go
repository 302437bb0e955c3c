package model

import "math/big"

// Currency is the payment currency detected for a sale transaction.
type Currency string

func (c Currency) String() string {
	return string(c)
}

const (
	ETH  Currency = "ETH"
	WETH Currency = "WETH"
	NONE Currency = "NONE"
)

// TransferEvent is a single on-chain transfer observed for the watched
// contract, produced by the webhook listener or the block scanner.
type TransferEvent struct {
	TxHash      string
	BlockNumber uint64
	LogIndex    uint64
	TokenID     string
	From        string
	To          string
}

// PriceResult is the classifier's verdict for one transaction. Amount is in
// wei. Currency is NONE exactly when Amount is zero.
type PriceResult struct {
	Amount   *big.Int
	Currency Currency
}

// NoPrice is the zero-value verdict used for non-sales and for any
// classification that failed to detect a payment.
func NoPrice() PriceResult {
	return PriceResult{Amount: big.NewInt(0), Currency: NONE}
}

// IsSale reports whether a non-zero payment was detected.
func (p PriceResult) IsSale() bool {
	return p.Currency != NONE && p.Amount != nil && p.Amount.Sign() > 0
}

// SaleRecord is the normalized unit handed to the notifier: one transaction,
// one or more token ids (a sweep), a price and an optional image.
type SaleRecord struct {
	TxHash      string
	BlockNumber uint64
	TokenIDs    []string
	Price       PriceResult
	ImageURL    string
	ImageData   []byte
	ImageName   string
}

// TokenCount is the number of tokens that changed hands in this sale.
func (s SaleRecord) TokenCount() int {
	return len(s.TokenIDs)
}
