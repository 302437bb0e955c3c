package webhook

import (
	"encoding/json"
	"math/big"
	"strings"

	"go.uber.org/zap"

	"github.com/nftwatch/salesbot/internal/model"
)

// activityPayload is the slice of the provider's NFT activity push this bot
// reads. Unknown fields are ignored.
type activityPayload struct {
	Event struct {
		Activity []activity `json:"activity"`
	} `json:"event"`
}

type activity struct {
	FromAddress     string `json:"fromAddress"`
	ToAddress       string `json:"toAddress"`
	ContractAddress string `json:"contractAddress"`
	BlockNum        string `json:"blockNum"`
	Hash            string `json:"hash"`
	Category        string `json:"category"`
	ERC721TokenID   string `json:"erc721TokenId"`
	TokenID         string `json:"tokenId"`
	ERC1155Metadata []struct {
		TokenID string `json:"tokenId"`
	} `json:"erc1155Metadata"`
	Log struct {
		Address  string `json:"address"`
		LogIndex string `json:"logIndex"`
	} `json:"log"`
}

// parseTransfers extracts the watched contract's transfers from a raw push
// body. Malformed bodies and activities for other contracts yield nothing;
// they are never an error, the provider expects a 200 regardless.
func parseTransfers(body []byte, contract string) []model.TransferEvent {
	var payload activityPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		zap.L().Warn("Could not parse webhook payload", zap.Error(err))
		return nil
	}

	var transfers []model.TransferEvent
	for _, act := range payload.Event.Activity {
		if !activityMatchesContract(act, contract) {
			continue
		}
		tokenID := activityTokenID(act)
		if tokenID == "" {
			zap.L().Debug("Activity without a token id, skipping",
				zap.String("txHash", act.Hash))
			continue
		}
		transfers = append(transfers, model.TransferEvent{
			TxHash:      strings.ToLower(act.Hash),
			BlockNumber: hexToUint64(act.BlockNum),
			LogIndex:    hexToUint64(act.Log.LogIndex),
			TokenID:     tokenID,
			From:        strings.ToLower(act.FromAddress),
			To:          strings.ToLower(act.ToAddress),
		})
	}
	return transfers
}

func activityMatchesContract(act activity, contract string) bool {
	if strings.EqualFold(act.ContractAddress, contract) {
		return true
	}
	return strings.EqualFold(act.Log.Address, contract)
}

// activityTokenID picks the token id from whichever field the activity
// carries and normalizes it to decimal.
func activityTokenID(act activity) string {
	for _, raw := range []string{act.ERC721TokenID, act.TokenID} {
		if id := hexToDecimal(raw); id != "" {
			return id
		}
	}
	if len(act.ERC1155Metadata) > 0 {
		return hexToDecimal(act.ERC1155Metadata[0].TokenID)
	}
	return ""
}

func hexToDecimal(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		n, ok := new(big.Int).SetString(s[2:], 16)
		if !ok {
			return ""
		}
		return n.String()
	}
	if n, ok := new(big.Int).SetString(s, 10); ok {
		return n.String()
	}
	return ""
}

func hexToUint64(raw string) uint64 {
	s := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(raw), "0x"), "0X")
	if s == "" {
		return 0
	}
	n, ok := new(big.Int).SetString(s, 16)
	if !ok || !n.IsUint64() {
		return 0
	}
	return n.Uint64()
}
