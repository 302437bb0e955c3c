package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nftwatch/salesbot/internal/model"
)

const watchedContract = "0x1111111111111111111111111111111111111111"

func activityBody(contract, txHash, tokenIDHex string) string {
	return `{
		"webhookId": "wh_1",
		"type": "NFT_ACTIVITY",
		"event": {
			"activity": [
				{
					"fromAddress": "0xAAAA000000000000000000000000000000000001",
					"toAddress": "0xBBBB000000000000000000000000000000000002",
					"contractAddress": "` + contract + `",
					"blockNum": "0x121eac0",
					"hash": "` + txHash + `",
					"category": "erc721",
					"erc721TokenId": "` + tokenIDHex + `",
					"log": {"address": "` + contract + `", "logIndex": "0x7"}
				}
			]
		}
	}`
}

func newTestServer(secret string) (*Server, *[]model.TransferEvent) {
	var received []model.TransferEvent
	s := NewServer(watchedContract, secret, func(ev model.TransferEvent) {
		received = append(received, ev)
	})
	return s, &received
}

func postWebhook(t *testing.T, s *Server, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestWebhookForwardsMatchingActivity(t *testing.T) {
	s, received := newTestServer("")

	body := activityBody(watchedContract, "0xABCDEF", "0x11bc")
	rec := postWebhook(t, s, body, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, *received, 1)
	ev := (*received)[0]
	assert.Equal(t, "0xabcdef", ev.TxHash)
	assert.Equal(t, "4540", ev.TokenID)
	assert.Equal(t, uint64(19000000), ev.BlockNumber)
	assert.Equal(t, uint64(7), ev.LogIndex)
	assert.Equal(t, "0xaaaa000000000000000000000000000000000001", ev.From)
}

func TestWebhookIgnoresOtherContracts(t *testing.T) {
	s, received := newTestServer("")

	body := activityBody("0x2222222222222222222222222222222222222222", "0xabc", "0x1")
	rec := postWebhook(t, s, body, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, *received)
}

func TestWebhookAlways200OnBadBodies(t *testing.T) {
	s, received := newTestServer("")

	for _, body := range []string{"", "not json", `{"event":{}}`, `{"event":{"activity":[{}]}}`} {
		rec := postWebhook(t, s, body, nil)
		assert.Equal(t, http.StatusOK, rec.Code, "body %q", body)
	}
	assert.Empty(t, *received)
}

func TestWebhookSignature(t *testing.T) {
	const secret = "signing-secret"
	body := activityBody(watchedContract, "0xabc", "0x1")

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	goodSig := hex.EncodeToString(mac.Sum(nil))

	t.Run("valid signature accepted", func(t *testing.T) {
		s, received := newTestServer(secret)
		rec := postWebhook(t, s, body, map[string]string{"X-Alchemy-Signature": goodSig})
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, *received, 1)
	})

	t.Run("bad signature rejected with 401", func(t *testing.T) {
		s, received := newTestServer(secret)
		rec := postWebhook(t, s, body, map[string]string{"X-Alchemy-Signature": "deadbeef"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Empty(t, *received)
	})

	t.Run("missing signature rejected when secret configured", func(t *testing.T) {
		s, received := newTestServer(secret)
		rec := postWebhook(t, s, body, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Empty(t, *received)
	})

	t.Run("no configured secret skips verification", func(t *testing.T) {
		s, received := newTestServer("")
		rec := postWebhook(t, s, body, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, *received, 1)
	})
}

func TestWebhookERC1155TokenID(t *testing.T) {
	s, received := newTestServer("")

	body := `{
		"event": {
			"activity": [
				{
					"contractAddress": "` + watchedContract + `",
					"blockNum": "0x10",
					"hash": "0xdef",
					"category": "erc1155",
					"erc1155Metadata": [{"tokenId": "0x2a", "value": "0x1"}]
				}
			]
		}
	}`
	rec := postWebhook(t, s, body, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, *received, 1)
	assert.Equal(t, "42", (*received)[0].TokenID)
}

func TestHealthEndpoints(t *testing.T) {
	s, _ := newTestServer("")

	for _, path := range []string{"/", "/health", "/webhook-test"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, "path %s", path)
	}
}
