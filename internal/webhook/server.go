package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/nftwatch/salesbot/internal/model"
)

const maxBodyBytes = 1 << 20

// Server receives the provider's NFT activity pushes and forwards parsed
// transfers to a sink. It always answers 200 so the provider does not
// disable the webhook; the only exception is a signature mismatch.
type Server struct {
	router   *mux.Router
	contract string
	secret   string
	sink     func(model.TransferEvent)
}

func NewServer(contract, secret string, sink func(model.TransferEvent)) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		contract: strings.ToLower(contract),
		secret:   secret,
		sink:     sink,
	}
	s.router.HandleFunc("/webhook", s.handleWebhook).Methods(http.MethodPost)
	s.router.HandleFunc("/webhook-test", s.handleWebhookTest).Methods(http.MethodGet)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/", s.handleHealth).Methods(http.MethodGet)
	return s
}

// Handler exposes the routes for tests.
func (s *Server) Handler() http.Handler {
	return loggingMiddleware(s.router)
}

// Start runs the HTTP server in the background and returns a close function
// for graceful shutdown.
func (s *Server) Start(ctx context.Context, port int) func() {
	zap.L().Info("Starting webhook server on port", zap.Int("port", port))

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.Handler(),
	}
	go func() {
		if err := server.ListenAndServe(); err != nil {
			if err == http.ErrServerClosed {
				zap.L().Info("Webhook server closed")
			} else {
				zap.L().Fatal("starting webhook server failed", zap.Error(err))
			}
		}
	}()
	closeFunc := func() {
		zap.L().Info("Closing webhook server...")
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			zap.L().Error("server shutdown failed", zap.Error(err))
		}
	}
	return closeFunc
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		w.WriteHeader(http.StatusOK)
		return
	}

	if !s.signatureValid(r.Header.Get("X-Alchemy-Signature"), body) {
		zap.L().Warn("Webhook signature mismatch", zap.String("ip", r.RemoteAddr))
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	transfers := parseTransfers(body, s.contract)
	for _, tr := range transfers {
		s.sink(tr)
	}
	if len(transfers) > 0 {
		zap.L().Info("Webhook activity accepted",
			zap.Int("transfers", len(transfers)),
			zap.String("txHash", transfers[0].TxHash))
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// signatureValid checks the provider's HMAC-SHA256 body signature. Requests
// are accepted unchecked when no signing secret is configured.
func (s *Server) signatureValid(signature string, body []byte) bool {
	if s.secret == "" {
		return true
	}
	mac := hmac.New(sha256.New, []byte(s.secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(signature))))
}

func (s *Server) handleWebhookTest(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("webhook endpoint reachable"))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &responseWriter{w, http.StatusOK}
		next.ServeHTTP(rw, r)

		zap.L().Debug("Request",
			zap.String("ip", r.RemoteAddr),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rw.statusCode),
		)
	})
}
