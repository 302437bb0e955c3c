package eth

import (
	"context"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/nftwatch/salesbot/internal/model"
	"github.com/nftwatch/salesbot/pkg/constants"
)

// ScanResult is one qualifying sale found by a backward scan: all transfers
// of a single transaction plus its classified price.
type ScanResult struct {
	TxHash      string
	BlockNumber uint64
	// LogIndex is the highest log index of the transaction's transfers,
	// used to order transactions within one block.
	LogIndex  uint64
	Transfers []model.TransferEvent
	Price     model.PriceResult
}

// Scanner runs chunked FilterLogs queries over the watched contract, both for
// the on-demand backward "last sale" lookup and for the forward poller.
type Scanner struct {
	client     EthClient
	classifier PriceClassifier
	contract   common.Address
	chunkSize  uint64
	maxChunks  int
}

func NewScanner(client EthClient, classifier PriceClassifier, contract common.Address, chunkSize uint64, maxChunks int) *Scanner {
	if chunkSize == 0 {
		chunkSize = 3000
	}
	if maxChunks == 0 {
		maxChunks = 3
	}
	return &Scanner{
		client:     client,
		classifier: classifier,
		contract:   contract,
		chunkSize:  chunkSize,
		maxChunks:  maxChunks,
	}
}

// LastSale scans backwards from the chain tip, one chunk at a time, and
// returns the most recent transaction with a non-zero classified price.
// Exhausting the configured range is not an error: ok is false.
func (s *Scanner) LastSale(ctx context.Context) (*ScanResult, bool, error) {
	tip, err := latestBlockNumber(ctx, s.client)
	if err != nil {
		return nil, false, err
	}

	for chunk := 0; chunk < s.maxChunks; chunk++ {
		offset := uint64(chunk) * s.chunkSize
		if offset > tip {
			break
		}
		endBlock := tip - offset
		startBlock := uint64(0)
		if endBlock > s.chunkSize {
			startBlock = endBlock - s.chunkSize
		}

		zap.L().Info("Scanning for last sale",
			zap.Uint64("fromBlock", startBlock),
			zap.Uint64("toBlock", endBlock),
			zap.Int("chunk", chunk+1),
			zap.Int("maxChunks", s.maxChunks))

		logs, err := fetchLogsInRange(ctx, s.client, s.contract, startBlock, endBlock)
		if err != nil {
			return nil, false, err
		}

		groups := groupSecondaryTransfers(DecodeTransferLogs(logs))
		// Newest transaction first; within one block the higher log index
		// is the later transaction.
		sort.Slice(groups, func(i, j int) bool {
			if groups[i].BlockNumber != groups[j].BlockNumber {
				return groups[i].BlockNumber > groups[j].BlockNumber
			}
			return groups[i].LogIndex > groups[j].LogIndex
		})

		for _, g := range groups {
			price := s.classifier.Classify(ctx, common.HexToHash(g.TxHash))
			if !price.IsSale() {
				continue
			}
			g.Price = price
			return &g, true, nil
		}

		if startBlock == 0 {
			break
		}
	}
	return nil, false, nil
}

// Poll watches for new transfers from the chain tip onwards and hands each
// one to sink. It returns when the context is canceled.
func (s *Scanner) Poll(ctx context.Context, interval time.Duration, sink func(model.TransferEvent)) {
	currentBlock, err := latestBlockNumber(ctx, s.client)
	if err != nil {
		zap.L().Error("Poller could not get starting block", zap.Error(err))
		return
	}
	currentBlock++

	zap.L().Info("Starting transfer poller",
		zap.String("contract", s.contract.Hex()),
		zap.Uint64("startBlock", currentBlock),
		zap.Duration("interval", interval))

	for {
		if sleepInterrupted(ctx, interval) {
			return
		}

		tip, err := latestBlockNumber(ctx, s.client)
		if err != nil {
			continue
		}
		for currentBlock <= tip {
			endBlock := currentBlock + s.chunkSize - 1
			if endBlock > tip {
				endBlock = tip
			}
			logs, err := fetchLogsInRange(ctx, s.client, s.contract, currentBlock, endBlock)
			if err != nil {
				zap.L().Warn("Failed fetching logs while polling",
					zap.Uint64("start", currentBlock),
					zap.Uint64("end", endBlock),
					zap.Error(err))
				break
			}
			for _, tr := range DecodeTransferLogs(logs) {
				sink(tr)
			}
			currentBlock = endBlock + 1
		}
	}
}

// groupSecondaryTransfers groups transfers by transaction, dropping mints and
// burns: those never qualify as sales.
func groupSecondaryTransfers(transfers []model.TransferEvent) []ScanResult {
	byTx := make(map[string]*ScanResult)
	var order []string
	for _, tr := range transfers {
		if tr.From == constants.NULL_ADDRESS || tr.To == constants.NULL_ADDRESS || tr.To == constants.DEAD_ADDRESS {
			continue
		}
		g, ok := byTx[tr.TxHash]
		if !ok {
			g = &ScanResult{TxHash: tr.TxHash, BlockNumber: tr.BlockNumber}
			byTx[tr.TxHash] = g
			order = append(order, tr.TxHash)
		}
		if tr.LogIndex > g.LogIndex {
			g.LogIndex = tr.LogIndex
		}
		g.Transfers = append(g.Transfers, tr)
	}
	groups := make([]ScanResult, 0, len(order))
	for _, h := range order {
		groups = append(groups, *byTx[h])
	}
	return groups
}

func latestBlockNumber(ctx context.Context, client EthClient) (uint64, error) {
	header, err := client.HeaderByNumber(ctx, nil)
	if err != nil {
		zap.L().Error("Could not get latest block header", zap.Error(err))
		return 0, err
	}
	return header.Number.Uint64(), nil
}

func fetchLogsInRange(
	ctx context.Context,
	client EthClient,
	address common.Address,
	startBlock, endBlock uint64,
) ([]types.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: big.NewInt(int64(startBlock)),
		ToBlock:   big.NewInt(int64(endBlock)),
		Addresses: []common.Address{address},
	}
	return client.FilterLogs(ctx, query)
}

func sleepInterrupted(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return true
	case <-timer.C:
		return false
	}
}
