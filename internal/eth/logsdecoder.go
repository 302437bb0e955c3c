package eth

import (
	"errors"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/nftwatch/salesbot/internal/model"
)

var erc1155ABI abi.ABI
var erc721TransferSig = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")

func init() {
	erc1155Abi, err := abi.JSON(strings.NewReader(`[
    {
        "anonymous": false,
        "inputs": [
            {"indexed": true, "name": "operator", "type": "address"},
            {"indexed": true, "name": "from",     "type": "address"},
            {"indexed": true, "name": "to",       "type": "address"},
            {"indexed": false,"name": "id",       "type": "uint256"},
            {"indexed": false,"name": "value",    "type": "uint256"}
        ],
        "name": "TransferSingle",
        "type": "event"
    },
    {
        "anonymous": false,
        "inputs": [
            {"indexed": true, "name": "operator", "type": "address"},
            {"indexed": true, "name": "from",     "type": "address"},
            {"indexed": true, "name": "to",       "type": "address"},
            {"indexed": false,"name": "ids",      "type": "uint256[]"},
            {"indexed": false,"name": "values",   "type": "uint256[]"}
        ],
        "name": "TransferBatch",
        "type": "event"
    }
	]`))
	if err != nil {
		panic("failed to parse ERC1155 ABI")
	}
	erc1155ABI = erc1155Abi
}

// DecodeTransferLogs turns raw contract logs into TransferEvents. Logs that
// are not ERC-721 Transfer or ERC-1155 TransferSingle/TransferBatch events
// are skipped.
func DecodeTransferLogs(allLogs []types.Log) []model.TransferEvent {
	var transfers []model.TransferEvent
	erc1155transferSingleSig := erc1155ABI.Events["TransferSingle"].ID
	erc1155transferBatchSig := erc1155ABI.Events["TransferBatch"].ID

	for _, lg := range allLogs {
		if len(lg.Topics) == 0 {
			continue
		}
		sig := lg.Topics[0]
		switch {
		case sig == erc721TransferSig && len(lg.Topics) == 4:
			from := common.HexToAddress(lg.Topics[1].Hex())
			to := common.HexToAddress(lg.Topics[2].Hex())
			tokenId := new(big.Int).SetBytes(lg.Topics[3].Bytes())
			transfers = append(transfers, model.TransferEvent{
				TxHash:      strings.ToLower(lg.TxHash.Hex()),
				BlockNumber: lg.BlockNumber,
				LogIndex:    uint64(lg.Index),
				TokenID:     tokenId.String(),
				From:        strings.ToLower(from.Hex()),
				To:          strings.ToLower(to.Hex()),
			})
		case sig == erc1155transferSingleSig:
			events, err := decodeTransferSingle(lg)
			if err != nil {
				zap.L().Error("error decoding TransferSingle", zap.Error(err))
				continue
			}
			transfers = append(transfers, events...)
		case sig == erc1155transferBatchSig:
			events, err := decodeTransferBatch(lg)
			if err != nil {
				zap.L().Error("error decoding TransferBatch", zap.Error(err))
				continue
			}
			transfers = append(transfers, events...)
		}
	}
	return transfers
}

func decodeTransferSingle(lg types.Log) ([]model.TransferEvent, error) {
	if len(lg.Topics) < 4 {
		return nil, errors.New("invalid TransferSingle topics length")
	}
	from := common.HexToAddress(lg.Topics[2].Hex())
	to := common.HexToAddress(lg.Topics[3].Hex())

	var transferData struct {
		ID    *big.Int `abi:"id"`
		Value *big.Int `abi:"value"`
	}
	if err := erc1155ABI.UnpackIntoInterface(&transferData, "TransferSingle", lg.Data); err != nil {
		return nil, err
	}

	return []model.TransferEvent{{
		TxHash:      strings.ToLower(lg.TxHash.Hex()),
		BlockNumber: lg.BlockNumber,
		LogIndex:    uint64(lg.Index),
		TokenID:     transferData.ID.String(),
		From:        strings.ToLower(from.Hex()),
		To:          strings.ToLower(to.Hex()),
	}}, nil
}

func decodeTransferBatch(lg types.Log) ([]model.TransferEvent, error) {
	if len(lg.Topics) < 4 {
		return nil, errors.New("invalid TransferBatch topics length")
	}
	from := common.HexToAddress(lg.Topics[2].Hex())
	to := common.HexToAddress(lg.Topics[3].Hex())

	var batchData struct {
		Ids    []*big.Int `abi:"ids"`
		Values []*big.Int `abi:"values"`
	}
	if err := erc1155ABI.UnpackIntoInterface(&batchData, "TransferBatch", lg.Data); err != nil {
		return nil, err
	}

	var events []model.TransferEvent
	for i := 0; i < len(batchData.Ids); i++ {
		events = append(events, model.TransferEvent{
			TxHash:      strings.ToLower(lg.TxHash.Hex()),
			BlockNumber: lg.BlockNumber,
			LogIndex:    uint64(lg.Index),
			TokenID:     batchData.Ids[i].String(),
			From:        strings.ToLower(from.Hex()),
			To:          strings.ToLower(to.Hex()),
		})
	}
	return events, nil
}
