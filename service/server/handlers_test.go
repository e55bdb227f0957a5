package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/txdecode/service/db"
	"github.com/brojonat/txdecode/service/decoder"
	"github.com/brojonat/txdecode/service/decoder/txn"
	"github.com/brojonat/txdecode/service/registry"
)

const testSig = "5j7s6NiJS3JAkvgkoc18WVAsiSaci2pxB2A6ueCJP4tprA2TFg9wSyTLeYouxPBJEMzJinENTkpA52YStRW5Dia7"

// fakeStore is an in-memory Store.
type fakeStore struct {
	raws        map[string]*db.RawTransaction
	events      []db.StoredEvent
	deadLetters []decoder.DeadLetter
	pools       []registry.Pool
	lastFilter  db.EventFilter
	err         error
}

func (f *fakeStore) Ping(ctx context.Context) error { return f.err }

func (f *fakeStore) GetRaw(ctx context.Context, signature string) (*db.RawTransaction, error) {
	if f.err != nil {
		return nil, f.err
	}
	raw, ok := f.raws[signature]
	if !ok {
		return nil, fmt.Errorf("raw transaction %s: %w", signature, db.ErrNotFound)
	}
	return raw, nil
}

func (f *fakeStore) ListEvents(ctx context.Context, filter db.EventFilter) ([]db.StoredEvent, error) {
	f.lastFilter = filter
	if f.err != nil {
		return nil, f.err
	}
	var out []db.StoredEvent
	for _, ev := range f.events {
		if filter.Signature != "" && ev.Signature != filter.Signature {
			continue
		}
		if filter.EventType != "" && ev.EventType != filter.EventType {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func (f *fakeStore) GetDeadLetter(ctx context.Context, signature string) (*decoder.DeadLetter, error) {
	for _, dl := range f.deadLetters {
		if dl.Signature == signature {
			return &dl, nil
		}
	}
	return nil, fmt.Errorf("dead letter %s: %w", signature, db.ErrNotFound)
}

func (f *fakeStore) ListDeadLetters(ctx context.Context, reason string, limit int) ([]decoder.DeadLetter, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []decoder.DeadLetter
	for _, dl := range f.deadLetters {
		if reason == "" || dl.Reason == reason {
			out = append(out, dl)
		}
	}
	return out, nil
}

func (f *fakeStore) ListPools(ctx context.Context) ([]registry.Pool, error) {
	return f.pools, f.err
}

// fakeDecoder returns a fixed result or error.
type fakeDecoder struct {
	result *decoder.Result
	err    error
	got    []byte
}

func (f *fakeDecoder) Decode(raw []byte) (*decoder.Result, error) {
	f.got = raw
	return f.result, f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHandleDecode(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		decoder        *fakeDecoder
		expectedStatus int
		checkBody      func(t *testing.T, body map[string]interface{})
	}{
		{
			name:           "decodes",
			body:           `{"slot":1,"transaction":{},"meta":{}}`,
			decoder:        &fakeDecoder{result: &decoder.Result{Signature: testSig, Slot: 1, ParserVersion: decoder.ParserVersion}},
			expectedStatus: http.StatusOK,
			checkBody: func(t *testing.T, body map[string]interface{}) {
				assert.Equal(t, testSig, body["signature"])
				assert.Equal(t, decoder.ParserVersion, body["parser_version"])
			},
		},
		{
			name:           "empty body",
			body:           "",
			decoder:        &fakeDecoder{},
			expectedStatus: http.StatusBadRequest,
			checkBody: func(t *testing.T, body map[string]interface{}) {
				assert.Equal(t, "request body is required", body["error"])
			},
		},
		{
			name:           "not json",
			body:           "not json",
			decoder:        &fakeDecoder{},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "normalization error",
			body:           `{"slot":1}`,
			decoder:        &fakeDecoder{err: &txn.NormalizationError{Field: "meta", Reason: "missing", Err: txn.ErrMalformedEnvelope}},
			expectedStatus: http.StatusUnprocessableEntity,
			checkBody: func(t *testing.T, body map[string]interface{}) {
				assert.Equal(t, decoder.ReasonNormalization, body["reason"])
				assert.Contains(t, body["error"], "meta")
			},
		},
		{
			name:           "unexpected error",
			body:           `{"slot":1}`,
			decoder:        &fakeDecoder{err: errors.New("boom")},
			expectedStatus: http.StatusInternalServerError,
			checkBody: func(t *testing.T, body map[string]interface{}) {
				assert.Equal(t, "internal server error", body["error"])
			},
		},
		{
			name:           "body too large",
			body:           `"` + strings.Repeat("a", maxRequestBodySize) + `"`,
			decoder:        &fakeDecoder{},
			expectedStatus: http.StatusRequestEntityTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := handleDecode(tt.decoder, testLogger())
			req := httptest.NewRequest("POST", "/api/v1/decode", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.expectedStatus, rec.Code, "body: %s", rec.Body.String())
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			if tt.checkBody != nil {
				tt.checkBody(t, decodeBody(t, rec))
			}
		})
	}
}

func TestHandleListEvents(t *testing.T) {
	store := &fakeStore{events: []db.StoredEvent{
		{EventID: testSig + ":0:0", Signature: testSig, EventType: "SWAP", QCStatus: "success", Payload: json.RawMessage(`{}`)},
		{EventID: testSig + ":1:0", Signature: testSig, EventType: "TRANSFER", QCStatus: "success", Payload: json.RawMessage(`{}`)},
	}}

	tests := []struct {
		name           string
		query          string
		expectedStatus int
		expectedCount  int
		expectedLimit  int
	}{
		{name: "all events", query: "", expectedStatus: http.StatusOK, expectedCount: 2, expectedLimit: defaultListLimit},
		{name: "by type", query: "?type=swap&limit=5", expectedStatus: http.StatusOK, expectedCount: 1, expectedLimit: 5},
		{name: "by upper case type", query: "?type=TRANSFER", expectedStatus: http.StatusOK, expectedCount: 1, expectedLimit: defaultListLimit},
		{name: "by signature", query: "?signature=" + testSig, expectedStatus: http.StatusOK, expectedCount: 2, expectedLimit: defaultListLimit},
		{name: "invalid signature", query: "?signature=0OIl", expectedStatus: http.StatusBadRequest},
		{name: "invalid type", query: "?type=DROP%20TABLE", expectedStatus: http.StatusBadRequest},
		{name: "limit too large", query: "?limit=5000", expectedStatus: http.StatusBadRequest},
		{name: "limit not a number", query: "?limit=abc", expectedStatus: http.StatusBadRequest},
		{name: "limit zero", query: "?limit=0", expectedStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := handleListEvents(store, testLogger())
			req := httptest.NewRequest("GET", "/api/v1/events"+tt.query, nil)
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			require.Equal(t, tt.expectedStatus, rec.Code, "body: %s", rec.Body.String())
			if tt.expectedStatus != http.StatusOK {
				return
			}
			body := decodeBody(t, rec)
			assert.Equal(t, float64(tt.expectedCount), body["count"])
			assert.Equal(t, tt.expectedLimit, store.lastFilter.Limit)
		})
	}
}

func TestHandleListEvents_StoreError(t *testing.T) {
	handler := handleListEvents(&fakeStore{err: errors.New("connection refused")}, testLogger())
	req := httptest.NewRequest("GET", "/api/v1/events", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection refused", "internal errors are not leaked")
}

func TestHandleGetTransaction(t *testing.T) {
	blockTime := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	version := "1.4.0"
	store := &fakeStore{
		raws: map[string]*db.RawTransaction{
			testSig: {Signature: testSig, Slot: 9, BlockTime: &blockTime, RawJSON: json.RawMessage(`{"slot":9}`), ParserVersion: &version},
		},
		events: []db.StoredEvent{{EventID: testSig + ":0:0", Signature: testSig, EventType: "TRANSFER", Payload: json.RawMessage(`{}`)}},
	}

	newMux := func() *http.ServeMux {
		mux := http.NewServeMux()
		mux.Handle("GET /api/v1/transactions/{signature}", handleGetTransaction(store, testLogger()))
		return mux
	}

	t.Run("found without raw", func(t *testing.T) {
		rec := httptest.NewRecorder()
		newMux().ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/transactions/"+testSig, nil))

		require.Equal(t, http.StatusOK, rec.Code)
		var resp transactionResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, uint64(9), resp.Slot)
		assert.Equal(t, &version, resp.ParserVersion)
		assert.Nil(t, resp.Raw)
		require.Len(t, resp.Events, 1)
	})

	t.Run("found with raw", func(t *testing.T) {
		rec := httptest.NewRecorder()
		newMux().ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/transactions/"+testSig+"?raw=true", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		var resp transactionResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.JSONEq(t, `{"slot":9}`, string(resp.Raw))
	})

	t.Run("not found", func(t *testing.T) {
		rec := httptest.NewRecorder()
		newMux().ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/transactions/4uQeVj5tqViQh7yWWGStvkEG1Zmhx6uasJtWCJziofM", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("invalid signature", func(t *testing.T) {
		rec := httptest.NewRecorder()
		newMux().ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/transactions/bad;sig", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandleDeadLetters(t *testing.T) {
	failedAt := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{deadLetters: []decoder.DeadLetter{
		{Signature: testSig, FailedAt: failedAt, Reason: decoder.ReasonFetch, Error: "timeout", Attempts: 1},
		{Signature: "4uQeVj5tqViQh7yWWGStvkEG1Zmhx6uasJtWCJziofM", FailedAt: failedAt, Reason: decoder.ReasonNormalization, Error: "bad", Payload: []byte(`{}`), Attempts: 3},
	}}

	mux := http.NewServeMux()
	mux.Handle("GET /api/v1/dead-letters", handleListDeadLetters(store, testLogger()))
	mux.Handle("GET /api/v1/dead-letters/{signature}", handleGetDeadLetter(store, testLogger()))

	tests := []struct {
		name           string
		path           string
		expectedStatus int
		check          func(t *testing.T, body map[string]interface{})
	}{
		{
			name:           "list all",
			path:           "/api/v1/dead-letters",
			expectedStatus: http.StatusOK,
			check: func(t *testing.T, body map[string]interface{}) {
				assert.Equal(t, float64(2), body["count"])
			},
		},
		{
			name:           "list by reason",
			path:           "/api/v1/dead-letters?reason=" + decoder.ReasonFetch,
			expectedStatus: http.StatusOK,
			check: func(t *testing.T, body map[string]interface{}) {
				assert.Equal(t, float64(1), body["count"])
			},
		},
		{
			name:           "unknown reason",
			path:           "/api/v1/dead-letters?reason=bogus",
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "get one",
			path:           "/api/v1/dead-letters/4uQeVj5tqViQh7yWWGStvkEG1Zmhx6uasJtWCJziofM",
			expectedStatus: http.StatusOK,
			check: func(t *testing.T, body map[string]interface{}) {
				assert.Equal(t, float64(3), body["attempts"])
				assert.NotEmpty(t, body["payload"])
			},
		},
		{
			name:           "get missing",
			path:           "/api/v1/dead-letters/11111111111111111111111111111111",
			expectedStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest("GET", tt.path, nil))

			require.Equal(t, tt.expectedStatus, rec.Code, "body: %s", rec.Body.String())
			if tt.check != nil {
				tt.check(t, decodeBody(t, rec))
			}
		})
	}
}

func TestHandleListPools(t *testing.T) {
	store := &fakeStore{pools: []registry.Pool{
		{Address: solana.NewWallet().PublicKey(), DEX: "raydium_amm_v4"},
		{Address: solana.NewWallet().PublicKey(), DEX: "raydium_cpmm"},
	}}
	handler := handleListPools(store, testLogger())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/pools?dex=RAYDIUM_CPMM", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeBody(t, rec)["count"])

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/pools", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), decodeBody(t, rec)["count"])
}

func TestHandleHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	handleHealth(&fakeStore{}, testLogger()).ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	rec = httptest.NewRecorder()
	handleHealth(&fakeStore{err: errors.New("down")}, testLogger()).ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServerHandler_CORSAndRouting(t *testing.T) {
	srv := New(":0", &fakeStore{}, &fakeDecoder{}, nil, nil, testLogger())
	handler := srv.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("OPTIONS", "/api/v1/decode", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/stream/events", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code, "streaming is disabled without an event stream")

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code, "metrics are disabled without a collector")
}

func TestValidateSignature(t *testing.T) {
	tests := []struct {
		name    string
		sig     string
		wantErr string
	}{
		{name: "valid", sig: testSig},
		{name: "empty", sig: "", wantErr: "signature is required"},
		{name: "too long", sig: strings.Repeat("1", maxSignatureLength+1), wantErr: "too long"},
		{name: "control characters", sig: "abc\x00def", wantErr: "control characters"},
		{name: "non base58", sig: "0OIl", wantErr: "base58"},
		{name: "sql injection", sig: "abc'; DROP TABLE decoded_events;--", wantErr: "base58"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateSignature(tt.sig)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEventNameFromSubject(t *testing.T) {
	assert.Equal(t, "swap", eventNameFromSubject("events.swap"))
	assert.Equal(t, "event", eventNameFromSubject("events."))
	assert.Equal(t, "event", eventNameFromSubject("other.swap"))
	assert.Equal(t, "events.>", streamSubject(""))
	assert.Equal(t, "events.swap", streamSubject("swap"))
}
