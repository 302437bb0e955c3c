package notify

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nftwatch/salesbot/internal/model"
)

func milliEth(milli int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(milli), new(big.Int).Exp(big.NewInt(10), big.NewInt(15), nil))
}

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		name string
		wei  *big.Int
		want string
	}{
		{"trailing zeros stripped", milliEth(6), "0.006"},
		{"whole number has no decimal point", milliEth(1000), "1"},
		{"half rounds to even", big.NewInt(123450000000000000), "0.1234"},
		{"half rounds up to even", big.NewInt(123550000000000000), "0.1236"},
		{"plain four decimals", big.NewInt(123400000000000000), "0.1234"},
		{"more than one eth", milliEth(2500), "2.5"},
		{"zero", big.NewInt(0), "0"},
		{"nil treated as zero", nil, "0"},
		{"dust below display precision", big.NewInt(1), "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatAmount(tt.wei))
		})
	}
}

func TestFormatPrice(t *testing.T) {
	assert.Equal(t, "0.006 ETH", FormatPrice(model.PriceResult{Amount: milliEth(6), Currency: model.ETH}))
	assert.Equal(t, "1.5 WETH", FormatPrice(model.PriceResult{Amount: milliEth(1500), Currency: model.WETH}))
}

func TestSweepLabel(t *testing.T) {
	tests := []struct {
		count     int
		wantLabel string
		wantColor int
	}{
		{1, "Single NFT Sale", 0x3498db},
		{3, "Mini Sweep", 0x2ecc71},
		{8, "Big Sweep", 0xe67e22},
		{15, "Huge Sweep", 0xe74c3c},
		{2, "Mini Sweep", 0x2ecc71},
		{5, "Mini Sweep", 0x2ecc71},
		{6, "Big Sweep", 0xe67e22},
		{10, "Big Sweep", 0xe67e22},
		{11, "Huge Sweep", 0xe74c3c},
	}
	for _, tt := range tests {
		label, color := SweepLabel(tt.count)
		assert.Equal(t, tt.wantLabel, label, "count %d", tt.count)
		assert.Equal(t, tt.wantColor, color, "count %d", tt.count)
	}
}
