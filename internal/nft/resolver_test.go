package nft

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMetadataClient struct {
	meta  *Metadata
	err   error
	calls atomic.Int64
}

func (f *fakeMetadataClient) GetNFTMetadata(ctx context.Context, tokenID string) (*Metadata, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.meta, nil
}

func metadataWith(image ImageCandidates, rawImage string) *Metadata {
	meta := &Metadata{TokenID: "4540", Name: "Test Token", Image: image}
	meta.Raw.Metadata.Image = rawImage
	return meta
}

func TestResolveImageURLPriority(t *testing.T) {
	t.Run("cachedUrl wins over every other candidate", func(t *testing.T) {
		r := NewResolver(&fakeMetadataClient{meta: metadataWith(ImageCandidates{
			CachedURL:    "https://cdn.example.com/cached.png",
			PngURL:       "https://cdn.example.com/proxy.png",
			ThumbnailURL: "https://cdn.example.com/thumb.png",
			OriginalURL:  "https://host.example.com/original.png",
		}, "ipfs://QmHash")})

		url, ok := r.ResolveImageURL(context.Background(), "4540")
		require.True(t, ok)
		assert.Equal(t, "https://cdn.example.com/cached.png", url)
	})

	t.Run("falls through empty candidates in order", func(t *testing.T) {
		r := NewResolver(&fakeMetadataClient{meta: metadataWith(ImageCandidates{
			OriginalURL: "https://host.example.com/original.png",
		}, "")})

		url, ok := r.ResolveImageURL(context.Background(), "4540")
		require.True(t, ok)
		assert.Equal(t, "https://host.example.com/original.png", url)
	})

	t.Run("thumbnail only is still usable for display", func(t *testing.T) {
		r := NewResolver(&fakeMetadataClient{meta: metadataWith(ImageCandidates{
			ThumbnailURL: "  https://cdn.example.com/thumb.png  ",
		}, "")})

		url, ok := r.ResolveImageURL(context.Background(), "4540")
		require.True(t, ok)
		assert.Equal(t, "https://cdn.example.com/thumb.png", url)
	})

	t.Run("ipfs raw image is rewritten to the gateway", func(t *testing.T) {
		r := NewResolver(&fakeMetadataClient{meta: metadataWith(ImageCandidates{}, "ipfs://QmHash/image.png")})

		url, ok := r.ResolveImageURL(context.Background(), "4540")
		require.True(t, ok)
		assert.Equal(t, "https://cloudflare-ipfs.com/ipfs/QmHash/image.png", url)
	})

	t.Run("query strings are stripped", func(t *testing.T) {
		r := NewResolver(&fakeMetadataClient{meta: metadataWith(ImageCandidates{
			CachedURL: "https://cdn.example.com/cached.png?width=512",
		}, "")})

		url, ok := r.ResolveImageURL(context.Background(), "4540")
		require.True(t, ok)
		assert.Equal(t, "https://cdn.example.com/cached.png", url)
	})

	t.Run("non-http candidates are skipped", func(t *testing.T) {
		r := NewResolver(&fakeMetadataClient{meta: metadataWith(ImageCandidates{
			CachedURL: "data:image/png;base64,AAAA",
		}, "not a url")})

		_, ok := r.ResolveImageURL(context.Background(), "4540")
		assert.False(t, ok)
	})

	t.Run("over-long url is truncated", func(t *testing.T) {
		long := "https://cdn.example.com/" + strings.Repeat("a", 3000)
		r := NewResolver(&fakeMetadataClient{meta: metadataWith(ImageCandidates{CachedURL: long}, "")})

		url, ok := r.ResolveImageURL(context.Background(), "4540")
		require.True(t, ok)
		assert.Len(t, url, maxURLLength)
	})
}

func TestDownloadImage(t *testing.T) {
	t.Run("downloads the cached image and names the file by extension", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			w.Header().Set("Content-Type", "image/jpeg")
			_, _ = w.Write([]byte("jpeg-bytes"))
		}))
		defer srv.Close()

		r := NewResolver(&fakeMetadataClient{meta: metadataWith(ImageCandidates{
			CachedURL: srv.URL + "/token.jpg",
		}, "")})

		data, name, ok := r.DownloadImage(context.Background(), "4540")
		require.True(t, ok)
		assert.Equal(t, []byte("jpeg-bytes"), data)
		assert.Equal(t, "nft_4540.jpg", name)
	})

	t.Run("never attempts proxy candidates", func(t *testing.T) {
		var hits atomic.Int64
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			hits.Add(1)
			w.Header().Set("Content-Type", "image/png")
		}))
		defer srv.Close()

		r := NewResolver(&fakeMetadataClient{meta: metadataWith(ImageCandidates{
			PngURL:       srv.URL + "/proxy.png",
			ThumbnailURL: srv.URL + "/thumb.png",
		}, "")})

		_, _, ok := r.DownloadImage(context.Background(), "4540")
		assert.False(t, ok)
		assert.Zero(t, hits.Load())
	})

	t.Run("falls back to the next candidate on bad content type", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.HasSuffix(req.URL.Path, "/cached.png") {
				w.Header().Set("Content-Type", "text/html")
				_, _ = w.Write([]byte("<html>not found</html>"))
				return
			}
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write([]byte("png-bytes"))
		}))
		defer srv.Close()

		r := NewResolver(&fakeMetadataClient{meta: metadataWith(ImageCandidates{
			CachedURL:   srv.URL + "/cached.png",
			OriginalURL: srv.URL + "/original.png",
		}, "")})

		data, name, ok := r.DownloadImage(context.Background(), "4540")
		require.True(t, ok)
		assert.Equal(t, []byte("png-bytes"), data)
		assert.Equal(t, "nft_4540.png", name)
	})

	t.Run("rejects oversized bodies", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(bytes.Repeat([]byte{0x0}, maxImageBytes+1))
		}))
		defer srv.Close()

		r := NewResolver(&fakeMetadataClient{meta: metadataWith(ImageCandidates{
			CachedURL: srv.URL + "/huge.png",
		}, "")})

		_, _, ok := r.DownloadImage(context.Background(), "4540")
		assert.False(t, ok)
	})

	t.Run("rejects non-2xx responses", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))
		defer srv.Close()

		r := NewResolver(&fakeMetadataClient{meta: metadataWith(ImageCandidates{
			CachedURL: srv.URL + "/cached.png",
		}, "")})

		_, _, ok := r.DownloadImage(context.Background(), "4540")
		assert.False(t, ok)
	})
}

func TestResolverCachesMetadata(t *testing.T) {
	client := &fakeMetadataClient{meta: metadataWith(ImageCandidates{
		CachedURL: "https://cdn.example.com/cached.png",
	}, "")}
	r := NewResolver(client)

	_, ok := r.ResolveImageURL(context.Background(), "4540")
	require.True(t, ok)
	_, _, _ = r.DownloadImage(context.Background(), "4540")
	_, ok = r.ResolveImageURL(context.Background(), "4540")
	require.True(t, ok)

	assert.Equal(t, int64(1), client.calls.Load())
}

func TestResolveImageURLMetadataError(t *testing.T) {
	r := NewResolver(&fakeMetadataClient{err: assert.AnError})

	_, ok := r.ResolveImageURL(context.Background(), "4540")
	assert.False(t, ok)
}
