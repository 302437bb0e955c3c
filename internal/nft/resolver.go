package nft

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// maxImageBytes is the attachment size ceiling (the chat platform rejects
// larger uploads anyway).
const maxImageBytes = 8 * 1024 * 1024

// maxURLLength is the longest URL the chat platform accepts on an embed.
const maxURLLength = 2000

type candidateSource string

const (
	srcCachedUrl    candidateSource = "cachedUrl"
	srcPngUrl       candidateSource = "pngUrl"
	srcThumbnailUrl candidateSource = "thumbnailUrl"
	srcOriginalUrl  candidateSource = "originalUrl"
	srcRawImage     candidateSource = "rawImage"
)

type candidate struct {
	source candidateSource
	url    string
}

// Resolver picks a display URL for a token's image and optionally downloads
// the bytes for attachment-based delivery. Metadata is fetched at most once
// per token for the lifetime of the process.
type Resolver struct {
	client     MetadataClient
	httpClient *http.Client

	mu    sync.Mutex
	cache map[string]*Metadata
}

func NewResolver(client MetadataClient) *Resolver {
	return &Resolver{
		client:     client,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		cache:      make(map[string]*Metadata),
	}
}

// ResolveImageURL returns the first usable candidate in trust order:
// cachedUrl, pngUrl, thumbnailUrl, originalUrl, then the raw metadata image.
// A missing or malformed candidate is skipped, never an error.
func (r *Resolver) ResolveImageURL(ctx context.Context, tokenID string) (string, bool) {
	meta, err := r.metadata(ctx, tokenID)
	if err != nil {
		zap.L().Warn("Could not fetch NFT metadata for image resolution",
			zap.String("tokenId", tokenID),
			zap.Error(err))
		return "", false
	}
	for _, c := range imageCandidates(meta) {
		return c.url, true
	}
	return "", false
}

// DownloadImage fetches the image bytes for attachment delivery. Proxy-hosted
// candidates (pngUrl, thumbnailUrl) are excluded outright: they fail too often
// to be worth an attempt. Returns the bytes, a suggested filename and whether
// a download succeeded; exhaustion of candidates is not an error.
func (r *Resolver) DownloadImage(ctx context.Context, tokenID string) ([]byte, string, bool) {
	meta, err := r.metadata(ctx, tokenID)
	if err != nil {
		return nil, "", false
	}
	for _, c := range imageCandidates(meta) {
		if c.source == srcPngUrl || c.source == srcThumbnailUrl {
			continue
		}
		data, ok := r.fetchImage(ctx, c.url)
		if !ok {
			zap.L().Debug("Image download candidate failed",
				zap.String("tokenId", tokenID),
				zap.String("source", string(c.source)))
			continue
		}
		return data, "nft_" + tokenID + "." + fileExtension(c.url), true
	}
	return nil, "", false
}

func (r *Resolver) metadata(ctx context.Context, tokenID string) (*Metadata, error) {
	r.mu.Lock()
	if meta, ok := r.cache[tokenID]; ok {
		r.mu.Unlock()
		return meta, nil
	}
	r.mu.Unlock()

	meta, err := r.client.GetNFTMetadata(ctx, tokenID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[tokenID] = meta
	r.mu.Unlock()
	return meta, nil
}

// imageCandidates returns the usable candidates in priority order, already
// normalized. Candidates that are empty or not http(s) after normalization
// are dropped.
func imageCandidates(meta *Metadata) []candidate {
	raw := []candidate{
		{srcCachedUrl, meta.Image.CachedURL},
		{srcPngUrl, meta.Image.PngURL},
		{srcThumbnailUrl, meta.Image.ThumbnailURL},
		{srcOriginalUrl, meta.Image.OriginalURL},
		{srcRawImage, meta.Raw.Metadata.Image},
	}
	var usable []candidate
	for _, c := range raw {
		u := normalizeURL(c.url)
		if u == "" {
			continue
		}
		usable = append(usable, candidate{c.source, u})
	}
	return usable
}

// normalizeURL trims the value, rewrites IPFS URIs to an HTTP gateway, strips
// query strings and enforces the URL length ceiling. Returns "" for anything
// that does not end up as an http(s) URL.
func normalizeURL(raw string) string {
	u := strings.TrimSpace(raw)
	if u == "" {
		return ""
	}
	if strings.HasPrefix(u, "ipfs://") {
		u = ipfsGateway + strings.TrimPrefix(strings.TrimPrefix(u, "ipfs://"), "ipfs/")
	} else if strings.HasPrefix(u, "ipfs/") {
		u = ipfsGateway + strings.TrimPrefix(u, "ipfs/")
	}
	if i := strings.IndexByte(u, '?'); i >= 0 {
		u = u[:i]
	}
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		return ""
	}
	if len(u) > maxURLLength {
		u = u[:maxURLLength]
	}
	return u
}

func (r *Resolver) fetchImage(ctx context.Context, imageURL string) ([]byte, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, false
	}
	req.Header.Set("Accept", "image/webp,image/apng,image/*,*/*;q=0.8")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, false
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType != "" && !strings.HasPrefix(contentType, "image/") {
		return nil, false
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, false
	}
	if len(data) > maxImageBytes {
		zap.L().Warn("Image exceeds attachment size ceiling, skipping",
			zap.String("url", imageURL),
			zap.Int("bytes", len(data)))
		return nil, false
	}
	return data, true
}

func fileExtension(imageURL string) string {
	lower := strings.ToLower(imageURL)
	switch {
	case strings.Contains(lower, ".jpg"), strings.Contains(lower, ".jpeg"):
		return "jpg"
	case strings.Contains(lower, ".gif"):
		return "gif"
	case strings.Contains(lower, ".webp"):
		return "webp"
	default:
		return "png"
	}
}
