package nft

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const ipfsGateway = "https://cloudflare-ipfs.com/ipfs/"

// ImageCandidates holds the optional image URL fields the provider reports
// for one token. Any field may be empty.
type ImageCandidates struct {
	CachedURL    string `json:"cachedUrl"`
	PngURL       string `json:"pngUrl"`
	ThumbnailURL string `json:"thumbnailUrl"`
	OriginalURL  string `json:"originalUrl"`
	ContentType  string `json:"contentType"`
}

// Metadata is the slice of the provider's getNFTMetadata response this bot
// cares about.
type Metadata struct {
	TokenID string          `json:"tokenId"`
	Name    string          `json:"name"`
	Image   ImageCandidates `json:"image"`
	Raw     struct {
		Metadata struct {
			Image string `json:"image"`
		} `json:"metadata"`
	} `json:"raw"`
}

type MetadataClient interface {
	GetNFTMetadata(ctx context.Context, tokenID string) (*Metadata, error)
}

// AlchemyMetadataClient calls the provider's NFT REST API. Server errors are
// retried with a linear backoff; client errors are not.
type AlchemyMetadataClient struct {
	baseURL         string
	contractAddress string
	httpClient      *http.Client
}

func NewAlchemyMetadataClient(apiKey, contractAddress string) *AlchemyMetadataClient {
	return &AlchemyMetadataClient{
		baseURL:         "https://eth-mainnet.g.alchemy.com/nft/v3/" + apiKey,
		contractAddress: strings.ToLower(contractAddress),
		httpClient:      &http.Client{Timeout: 10 * time.Second},
	}
}

const metadataMaxRetries = 3

// Overridable in tests.
var metadataRetryBackoff = 2 * time.Second

func (c *AlchemyMetadataClient) GetNFTMetadata(ctx context.Context, tokenID string) (*Metadata, error) {
	params := url.Values{}
	params.Set("contractAddress", c.contractAddress)
	params.Set("tokenId", tokenID)
	endpoint := c.baseURL + "/getNFTMetadata?" + params.Encode()

	var lastErr error
	for attempt := 1; attempt <= metadataMaxRetries; attempt++ {
		meta, retryable, err := c.fetchOnce(ctx, endpoint)
		if err == nil {
			return meta, nil
		}
		lastErr = err
		if !retryable || attempt == metadataMaxRetries {
			break
		}
		wait := time.Duration(attempt) * metadataRetryBackoff
		zap.L().Warn("NFT metadata fetch failed, retrying",
			zap.String("tokenId", tokenID),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, lastErr
}

func (c *AlchemyMetadataClient) fetchOnce(ctx context.Context, endpoint string) (*Metadata, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, false, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, true, fmt.Errorf("NFT API returned %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("NFT API returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, err
	}
	var meta Metadata
	if err := json.Unmarshal(body, &meta); err != nil {
		return nil, false, fmt.Errorf("unmarshal NFT metadata: %w", err)
	}
	return &meta, false, nil
}
