package notify

import (
	"math/big"
	"strings"

	"github.com/nftwatch/salesbot/internal/model"
)

var (
	weiPerEth  = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	priceScale = big.NewInt(10000)
)

// FormatAmount renders a wei amount as ETH with at most four decimal places,
// rounding half to even and stripping trailing zeros. A whole number carries
// no decimal point at all.
func FormatAmount(wei *big.Int) string {
	if wei == nil || wei.Sign() == 0 {
		return "0"
	}

	scaled := new(big.Int).Mul(wei, priceScale)
	q, r := new(big.Int).QuoRem(scaled, weiPerEth, new(big.Int))

	// Round half to even on the discarded remainder.
	doubled := new(big.Int).Lsh(r, 1)
	switch doubled.Cmp(weiPerEth) {
	case 1:
		q.Add(q, big.NewInt(1))
	case 0:
		if q.Bit(0) == 1 {
			q.Add(q, big.NewInt(1))
		}
	}

	intPart, fracPart := new(big.Int).QuoRem(q, priceScale, new(big.Int))
	if fracPart.Sign() == 0 {
		return intPart.String()
	}

	frac := fracPart.String()
	for len(frac) < 4 {
		frac = "0" + frac
	}
	frac = strings.TrimRight(frac, "0")
	return intPart.String() + "." + frac
}

// FormatPrice renders a classified price with its currency, e.g. "0.006 ETH".
func FormatPrice(p model.PriceResult) string {
	return FormatAmount(p.Amount) + " " + p.Currency.String()
}

// Sweep tiers. Color values are the embed accent colors.
const (
	colorSingle    = 0x3498db
	colorMiniSweep = 0x2ecc71
	colorBigSweep  = 0xe67e22
	colorHugeSweep = 0xe74c3c
)

// SweepLabel maps the number of tokens in one transaction to an embed title
// and accent color.
func SweepLabel(tokenCount int) (string, int) {
	switch {
	case tokenCount <= 1:
		return "Single NFT Sale", colorSingle
	case tokenCount <= 5:
		return "Mini Sweep", colorMiniSweep
	case tokenCount <= 10:
		return "Big Sweep", colorBigSweep
	default:
		return "Huge Sweep", colorHugeSweep
	}
}
