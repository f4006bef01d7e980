package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/ChaosDigtal/eth-swap-block-tracker/internal/metrics"
	"github.com/ChaosDigtal/eth-swap-block-tracker/internal/pipeline"
	"github.com/ChaosDigtal/eth-swap-block-tracker/internal/swap"
)

const (
	SignatureHeader       = "X-Alchemy-Signature"
	signatureRejectedBody = "Signature validation failed, unauthorized!"
	maxWebhookBody        = 100 << 20
)

// Signature returns the hex HMAC-SHA256 of body keyed by signingKey.
func Signature(signingKey string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(signingKey))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// ValidateSignature rejects requests whose signature header does not match
// the HMAC of the raw body. The body is restored for the next handler.
func ValidateSignature(signingKey string, m *metrics.Metrics, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
			if err != nil {
				m.WebhookRequests.WithLabelValues("bad_request").Inc()
				Error(w, http.StatusBadRequest, "failed to read body")
				return
			}

			expected := Signature(signingKey, body)
			if !hmac.Equal([]byte(r.Header.Get(SignatureHeader)), []byte(expected)) {
				m.WebhookRequests.WithLabelValues("forbidden").Inc()
				logger.Warn().Str("remote", r.RemoteAddr).Msg("Rejected webhook with invalid signature")
				w.Header().Set("Content-Type", "text/plain; charset=utf-8")
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(signatureRejectedBody))
				return
			}

			r.Body = io.NopCloser(bytes.NewReader(body))
			next.ServeHTTP(w, r)
		})
	}
}

// WebhookEvent is the envelope of an Alchemy Notify delivery.
type WebhookEvent struct {
	WebhookID string          `json:"webhookId"`
	ID        string          `json:"id"`
	CreatedAt string          `json:"createdAt"`
	Type      string          `json:"type"`
	Event     json.RawMessage `json:"event"`
}

// graphQLEvent is the event body of a custom (GraphQL) webhook that selects
// block logs with their transaction sender.
type graphQLEvent struct {
	Data struct {
		Block struct {
			Hash   common.Hash `json:"hash"`
			Number uint64      `json:"number"`
			Logs   []struct {
				Data    hexutil.Bytes `json:"data"`
				Topics  []common.Hash `json:"topics"`
				Index   uint          `json:"index"`
				Account struct {
					Address common.Address `json:"address"`
				} `json:"account"`
				Transaction struct {
					Hash common.Hash `json:"hash"`
					From struct {
						Address common.Address `json:"address"`
					} `json:"from"`
				} `json:"transaction"`
			} `json:"logs"`
		} `json:"block"`
	} `json:"data"`
}

// ParseLogs extracts the swap logs of a GraphQL webhook event. Logs with
// other topics are skipped. Other webhook types yield no logs.
func ParseLogs(event *WebhookEvent) ([]swap.RawLog, error) {
	if event.Type != "GRAPHQL" || len(event.Event) == 0 {
		return nil, nil
	}

	var body graphQLEvent
	if err := json.Unmarshal(event.Event, &body); err != nil {
		return nil, fmt.Errorf("failed to decode graphql event: %w", err)
	}

	block := body.Data.Block
	logs := make([]swap.RawLog, 0, len(block.Logs))
	for _, l := range block.Logs {
		if len(l.Topics) == 0 || (l.Topics[0] != swap.TopicSwapV2 && l.Topics[0] != swap.TopicSwapV3) {
			continue
		}
		logs = append(logs, swap.RawLog{
			Address:     l.Account.Address,
			Topics:      l.Topics,
			Data:        l.Data,
			BlockNumber: block.Number,
			BlockHash:   block.Hash,
			TxHash:      l.Transaction.Hash,
			Index:       l.Index,
			From:        l.Transaction.From.Address,
		})
	}
	return logs, nil
}

// LogProcessor values a set of logs.
type LogProcessor interface {
	Process(ctx context.Context, logs []swap.RawLog, allow pipeline.Allowlist) ([]*pipeline.Batch, error)
}

// WebhookHandler acknowledges deliveries immediately and processes their
// logs in the background, at most maxInFlight deliveries at a time.
type WebhookHandler struct {
	processor LogProcessor
	allow     pipeline.Allowlist
	sem       *semaphore.Weighted
	baseCtx   context.Context
	wg        sync.WaitGroup
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

// NewWebhookHandler creates a handler. Background work stops when ctx is
// cancelled.
func NewWebhookHandler(ctx context.Context, processor LogProcessor, allow pipeline.Allowlist, maxInFlight int64, m *metrics.Metrics, logger zerolog.Logger) *WebhookHandler {
	if maxInFlight <= 0 {
		maxInFlight = 1
	}
	return &WebhookHandler{
		processor: processor,
		allow:     allow,
		sem:       semaphore.NewWeighted(maxInFlight),
		baseCtx:   ctx,
		metrics:   m,
		logger:    logger.With().Str("component", "webhook").Logger(),
	}
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.metrics.WebhookRequests.WithLabelValues("bad_method").Inc()
		Error(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var event WebhookEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		h.metrics.WebhookRequests.WithLabelValues("bad_request").Inc()
		Error(w, http.StatusBadRequest, "invalid payload")
		return
	}

	logs, err := ParseLogs(&event)
	if err != nil {
		h.metrics.WebhookRequests.WithLabelValues("bad_request").Inc()
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	h.metrics.WebhookRequests.WithLabelValues("accepted").Inc()
	h.logger.Debug().
		Str("webhook_id", event.WebhookID).
		Str("event_id", event.ID).
		Str("type", event.Type).
		Int("logs", len(logs)).
		Msg("Received webhook")

	if len(logs) > 0 {
		h.wg.Add(1)
		go h.process(event.ID, logs)
	}
	w.WriteHeader(http.StatusOK)
}

func (h *WebhookHandler) process(eventID string, logs []swap.RawLog) {
	defer h.wg.Done()

	if err := h.sem.Acquire(h.baseCtx, 1); err != nil {
		h.logger.Warn().Str("event_id", eventID).Msg("Dropping webhook batch on shutdown")
		return
	}
	defer h.sem.Release(1)

	batches, err := h.processor.Process(h.baseCtx, logs, h.allow)
	if err != nil {
		h.logger.Error().Err(err).Str("event_id", eventID).Msg("Failed to process webhook logs")
		return
	}
	h.logger.Info().
		Str("event_id", eventID).
		Int("logs", len(logs)).
		Int("batches", len(batches)).
		Msg("Processed webhook")
}

// Wait blocks until background processing has finished.
func (h *WebhookHandler) Wait() {
	h.wg.Wait()
}
