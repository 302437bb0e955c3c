package eth

import (
	"context"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/nftwatch/salesbot/internal/model"
)

// DefaultWethAddress is the canonical WETH contract on Ethereum mainnet.
const DefaultWethAddress = "0xC02aaa39b223Fe8D0a0e5C4F27eAD9083C756Cc2"

var erc20TransferSig = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")

type PriceClassifier interface {
	Classify(ctx context.Context, txHash common.Hash) model.PriceResult
}

// DefaultPriceClassifier inspects a transaction's native value and its WETH
// transfer logs to decide sale price and currency. It never returns an error:
// any provider failure degrades to a NONE verdict and the caller skips the
// transaction as a non-sale.
type DefaultPriceClassifier struct {
	client       EthClient
	nftContract  common.Address
	wethContract common.Address

	mu           sync.Mutex
	receiptCache map[common.Hash]*types.Receipt
}

func NewDefaultPriceClassifier(client EthClient, nftContract, wethContract common.Address) *DefaultPriceClassifier {
	return &DefaultPriceClassifier{
		client:       client,
		nftContract:  nftContract,
		wethContract: wethContract,
		receiptCache: make(map[common.Hash]*types.Receipt),
	}
}

func (c *DefaultPriceClassifier) Classify(ctx context.Context, txHash common.Hash) model.PriceResult {
	tx, _, err := c.client.TransactionByHash(ctx, txHash)
	if err != nil {
		zap.L().Warn("Could not fetch transaction for price classification",
			zap.Error(err),
			zap.String("txHash", txHash.Hex()))
		return model.NoPrice()
	}
	if tx != nil && tx.Value().Sign() > 0 {
		return model.PriceResult{Amount: new(big.Int).Set(tx.Value()), Currency: model.ETH}
	}

	receipt, err := c.getOrFetchReceipt(ctx, txHash)
	if err != nil || receipt == nil {
		return model.NoPrice()
	}

	if amount := c.largestWethLeg(receipt); amount.Sign() > 0 {
		return model.PriceResult{Amount: amount, Currency: model.WETH}
	}
	return model.NoPrice()
}

// largestWethLeg scans the receipt for WETH Transfer events and returns the
// largest plausible payment leg. Transfers to the watched NFT contract or to
// the zero address are not payments and are ignored. When several legs remain
// (marketplace fee splits), the largest value is taken as the sale price.
func (c *DefaultPriceClassifier) largestWethLeg(receipt *types.Receipt) *big.Int {
	largest := big.NewInt(0)
	for _, lg := range receipt.Logs {
		if lg.Address != c.wethContract || len(lg.Topics) < 3 || lg.Topics[0] != erc20TransferSig {
			continue
		}
		to := common.HexToAddress(lg.Topics[2].Hex())
		if sameAddress(to, c.nftContract) || to == (common.Address{}) {
			continue
		}
		value := new(big.Int).SetBytes(lg.Data)
		if value.Sign() <= 0 {
			continue
		}
		if value.Cmp(largest) > 0 {
			largest = value
		}
	}
	return largest
}

func (c *DefaultPriceClassifier) getOrFetchReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	c.mu.Lock()
	if rcp, ok := c.receiptCache[txHash]; ok {
		c.mu.Unlock()
		return rcp, nil
	}
	c.mu.Unlock()

	receipt, err := c.client.TransactionReceipt(ctx, txHash)
	if err != nil {
		zap.L().Warn("Error fetching transaction receipt for price classification",
			zap.Error(err),
			zap.String("txHash", txHash.Hex()))
		return nil, err
	}

	c.mu.Lock()
	c.receiptCache[txHash] = receipt
	c.mu.Unlock()
	return receipt, nil
}

func sameAddress(a, b common.Address) bool {
	return strings.EqualFold(a.Hex(), b.Hex())
}
