package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChaosDigtal/eth-swap-block-tracker/internal/metrics"
	"github.com/ChaosDigtal/eth-swap-block-tracker/internal/pipeline"
	"github.com/ChaosDigtal/eth-swap-block-tracker/internal/swap"
)

const signingKey = "whsec_test"

const graphQLPayload = `{
  "webhookId": "wh_octjglnywaupz6th",
  "id": "whevt_ogrc5v64myey69ux",
  "createdAt": "2024-03-01T12:00:00.000Z",
  "type": "GRAPHQL",
  "event": {
    "data": {
      "block": {
        "hash": "0x00000000000000000000000000000000000000000000000000000000000000b1",
        "number": 19350000,
        "logs": [
          {
            "data": "0x01",
            "topics": ["0xd78ad95fa46c994b6551d0da85fc275fe613ce37657fb8d5e3d130840159d822"],
            "index": 7,
            "account": {"address": "0xb4e16d0168e52d35cacd2c6185b44281ec28c9dc"},
            "transaction": {
              "hash": "0x00000000000000000000000000000000000000000000000000000000000000a1",
              "from": {"address": "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"}
            }
          },
          {
            "data": "0x",
            "topics": ["0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"],
            "index": 8,
            "account": {"address": "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"},
            "transaction": {
              "hash": "0x00000000000000000000000000000000000000000000000000000000000000a1",
              "from": {"address": "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"}
            }
          }
        ]
      }
    }
  }
}`

type fakeProcessor struct {
	mu    sync.Mutex
	calls [][]swap.RawLog
	allow []pipeline.Allowlist
}

func (f *fakeProcessor) Process(ctx context.Context, logs []swap.RawLog, allow pipeline.Allowlist) ([]*pipeline.Batch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, logs)
	f.allow = append(f.allow, allow)
	return nil, nil
}

type testServer struct {
	handler   http.Handler
	webhook   *WebhookHandler
	processor *fakeProcessor
	metrics   *metrics.Metrics
}

func newTestServer(t *testing.T, db Pinger, chain ChainStatus) *testServer {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry())
	processor := &fakeProcessor{}
	webhook := NewWebhookHandler(context.Background(), processor, pipeline.AllowAll(), 2, m, zerolog.Nop())
	server := NewServer(ServerOptions{
		WebhookPath: "/webhook",
		SigningKey:  signingKey,
		Webhook:     webhook,
		Health:      NewHealthChecker(db, chain, 1, zerolog.Nop()),
		Metrics:     m,
	}, zerolog.Nop())
	return &testServer{handler: server.Handler(), webhook: webhook, processor: processor, metrics: m}
}

func (s *testServer) do(method, path, body, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if signature != "" {
		req.Header.Set(SignatureHeader, signature)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

type fakeDB struct{ err error }

func (f fakeDB) Ping(ctx context.Context) error { return f.err }

type fakeChain struct{ err error }

func (f fakeChain) IsConnected(ctx context.Context) bool { return f.err == nil }

func (f fakeChain) GetLatestBlockNumber(ctx context.Context) (uint64, error) {
	return 19350000, f.err
}

func (f fakeChain) GetEndpoint() string {
	return "https://eth-mainnet.g.alchemy.com/v2/secret"
}

func TestSignature(t *testing.T) {
	// echo -n 'hello' | openssl dgst -sha256 -hmac key
	assert.Equal(t, "9307b3b915efb5171ff14d8cb55fbcc798c6c0ef1456d66ded1a6aa723a58b7b", Signature("key", []byte("hello")))
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	s := newTestServer(t, fakeDB{}, fakeChain{})

	for _, sig := range []string{"", "deadbeef", strings.ToUpper(Signature(signingKey, []byte(graphQLPayload)))} {
		rec := s.do(http.MethodPost, "/webhook", graphQLPayload, sig)
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, "Signature validation failed, unauthorized!", rec.Body.String())
	}

	s.webhook.Wait()
	assert.Empty(t, s.processor.calls)
	assert.Equal(t, 3.0, testutil.ToFloat64(s.metrics.WebhookRequests.WithLabelValues("forbidden")))
}

func TestWebhookProcessesSwapLogs(t *testing.T) {
	s := newTestServer(t, fakeDB{}, fakeChain{})

	rec := s.do(http.MethodPost, "/webhook", graphQLPayload, Signature(signingKey, []byte(graphQLPayload)))
	require.Equal(t, http.StatusOK, rec.Code)
	s.webhook.Wait()

	require.Len(t, s.processor.calls, 1)
	logs := s.processor.calls[0]
	require.Len(t, logs, 1)
	assert.Equal(t, swap.TopicSwapV2, logs[0].Topics[0])
	assert.Equal(t, uint64(19350000), logs[0].BlockNumber)
	assert.Equal(t, common.HexToHash("0xb1"), logs[0].BlockHash)
	assert.Equal(t, common.HexToHash("0xa1"), logs[0].TxHash)
	assert.Equal(t, common.HexToAddress("0xb4e16d0168e52d35cacd2c6185b44281ec28c9dc"), logs[0].Address)
	assert.Equal(t, common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"), logs[0].From)
	assert.Equal(t, []byte{0x01}, logs[0].Data)
	assert.Equal(t, uint(7), logs[0].Index)
}

func TestWebhookBadRequests(t *testing.T) {
	s := newTestServer(t, fakeDB{}, fakeChain{})

	rec := s.do(http.MethodGet, "/webhook", "", Signature(signingKey, nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	body := `{"type":`
	rec = s.do(http.MethodPost, "/webhook", body, Signature(signingKey, []byte(body)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body = `{"type":"ADDRESS_ACTIVITY","event":{"activity":[]}}`
	rec = s.do(http.MethodPost, "/webhook", body, Signature(signingKey, []byte(body)))
	assert.Equal(t, http.StatusOK, rec.Code)

	s.webhook.Wait()
	assert.Empty(t, s.processor.calls)
}

func TestParseLogsIgnoresOtherTypes(t *testing.T) {
	logs, err := ParseLogs(&WebhookEvent{Type: "MINED_TRANSACTION", Event: []byte(`{}`)})
	require.NoError(t, err)
	assert.Empty(t, logs)

	_, err = ParseLogs(&WebhookEvent{Type: "GRAPHQL", Event: []byte(`{"data":{"block":{"hash":7}}}`)})
	assert.Error(t, err)
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t, fakeDB{}, fakeChain{})

	rec := s.do(http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)
	assert.Contains(t, rec.Body.String(), `"latest_block":19350000`)
	assert.NotContains(t, rec.Body.String(), "secret")

	assert.Equal(t, "alive", s.do(http.MethodGet, "/live", "", "").Body.String())
	assert.Equal(t, "ready", s.do(http.MethodGet, "/ready", "", "").Body.String())

	rec = s.do(http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "swap_tracker_ingestion_logs_fetched_total")
}

func TestHealthReportsFailures(t *testing.T) {
	s := newTestServer(t, fakeDB{err: errors.New("connection refused")}, fakeChain{})

	rec := s.do(http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")

	rec = s.do(http.MethodGet, "/ready", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	s = newTestServer(t, fakeDB{}, fakeChain{err: errors.New("dial tcp")})
	assert.Equal(t, http.StatusServiceUnavailable, s.do(http.MethodGet, "/health", "", "").Code)
}

func TestRedactEndpoint(t *testing.T) {
	assert.Equal(t, "https://eth-mainnet.g.alchemy.com/v2/***", redactEndpoint("https://eth-mainnet.g.alchemy.com/v2/abc"))
	assert.Equal(t, "http://localhost:8545", redactEndpoint("http://localhost:8545"))
}
