package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/brojonat/txdecode/service/db"
	"github.com/brojonat/txdecode/service/decoder"
	"github.com/brojonat/txdecode/service/decoder/txn"
)

const (
	maxRequestBodySize = 4 << 20 // 4MB - large versioned transactions with logs stay well under
	maxSignatureLength = 100     // Solana signatures are 87-88 chars, give buffer
	defaultListLimit   = 100
	maxListLimit       = 1000
)

var (
	// Valid Solana signature characters: base58 (no 0, O, I, l)
	validSignatureRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]+$`)
	// Event types and QC statuses are snake case, matched case-insensitively
	validLabelRegex = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
)

// handleDecode returns a handler that decodes a raw transaction payload without storing it.
// POST /api/v1/decode
// The body is a getTransaction result (json or base64 encoding) or the full RPC envelope.
func handleDecode(dec Decoder, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		body, err := io.ReadAll(r.Body)
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				writeError(w, "request body too large: maximum size is 4MB", http.StatusRequestEntityTooLarge)
				return
			}
			writeError(w, "failed to read request body", http.StatusBadRequest)
			return
		}
		if len(body) == 0 {
			writeError(w, "request body is required", http.StatusBadRequest)
			return
		}
		if !json.Valid(body) {
			writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
			return
		}

		res, err := dec.Decode(body)
		if err != nil {
			if txn.IsNormalizationError(err) || errors.Is(err, txn.ErrMalformedEnvelope) {
				logger.Debug("transaction rejected", "error", err)
				writeJSON(w, map[string]string{
					"error":  err.Error(),
					"reason": decoder.ReasonOf(err),
				}, http.StatusUnprocessableEntity)
				return
			}
			logger.Error("decode failed", "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		logger.Debug("transaction decoded",
			"signature", res.Signature,
			"events", len(res.Events),
		)
		writeJSON(w, res, http.StatusOK)
	})
}

// handleListEvents returns a handler that lists stored events.
// GET /api/v1/events?signature=SIG&type=SWAP&qc_status=success&limit=N
func handleListEvents(store Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()

		filter := db.EventFilter{
			Signature: query.Get("signature"),
			EventType: query.Get("type"),
			QCStatus:  query.Get("qc_status"),
		}
		if filter.Signature != "" {
			if err := validateSignature(filter.Signature); err != nil {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
		}
		if err := validateLabel("type", filter.EventType); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		// Event types are stored upper case (SWAP, TRANSFER)
		filter.EventType = strings.ToUpper(filter.EventType)
		if err := validateLabel("qc_status", filter.QCStatus); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		limit, err := parseLimit(query.Get("limit"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		filter.Limit = limit

		events, err := store.ListEvents(r.Context(), filter)
		if err != nil {
			logger.Error("failed to list events", "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		logger.Debug("events listed", "count", len(events))

		if events == nil {
			events = []db.StoredEvent{}
		}
		writeJSON(w, map[string]interface{}{
			"events": events,
			"count":  len(events),
			"limit":  limit,
		}, http.StatusOK)
	})
}

// transactionResponse is the JSON response format for a stored transaction.
type transactionResponse struct {
	Signature     string           `json:"signature"`
	Slot          uint64           `json:"slot"`
	BlockTime     *time.Time       `json:"block_time,omitempty"`
	ParserVersion *string          `json:"parser_version,omitempty"`
	ProcessedAt   *time.Time       `json:"processed_at,omitempty"`
	FetchedAt     time.Time        `json:"fetched_at"`
	Raw           json.RawMessage  `json:"raw,omitempty"`
	Events        []db.StoredEvent `json:"events"`
}

// handleGetTransaction returns a handler that retrieves a stored transaction and its events.
// GET /api/v1/transactions/{signature}?raw=true
func handleGetTransaction(store Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		signature := r.PathValue("signature")
		if err := validateSignature(signature); err != nil {
			logger.Debug("invalid signature", "signature", signature, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		raw, err := store.GetRaw(r.Context(), signature)
		if errors.Is(err, db.ErrNotFound) {
			writeError(w, "transaction not found", http.StatusNotFound)
			return
		}
		if err != nil {
			logger.Error("failed to get transaction", "signature", signature, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		events, err := store.ListEvents(r.Context(), db.EventFilter{Signature: signature})
		if err != nil {
			logger.Error("failed to list events", "signature", signature, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		if events == nil {
			events = []db.StoredEvent{}
		}

		resp := transactionResponse{
			Signature:     raw.Signature,
			Slot:          raw.Slot,
			BlockTime:     raw.BlockTime,
			ParserVersion: raw.ParserVersion,
			ProcessedAt:   raw.ProcessedAt,
			FetchedAt:     raw.FetchedAt,
			Events:        events,
		}
		if r.URL.Query().Get("raw") == "true" {
			resp.Raw = raw.RawJSON
		}
		writeJSON(w, resp, http.StatusOK)
	})
}

// handleListDeadLetters returns a handler that lists dead letters without payloads.
// GET /api/v1/dead-letters?reason=normalization_error&limit=N
func handleListDeadLetters(store Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()

		reason := query.Get("reason")
		if err := validateReason(reason); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		limit, err := parseLimit(query.Get("limit"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		letters, err := store.ListDeadLetters(r.Context(), reason, limit)
		if err != nil {
			logger.Error("failed to list dead letters", "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		if letters == nil {
			letters = []decoder.DeadLetter{}
		}

		writeJSON(w, map[string]interface{}{
			"dead_letters": letters,
			"count":        len(letters),
			"limit":        limit,
		}, http.StatusOK)
	})
}

// handleGetDeadLetter returns a handler that retrieves one dead letter including its payload.
// GET /api/v1/dead-letters/{signature}
func handleGetDeadLetter(store Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		signature := r.PathValue("signature")
		if err := validateSignature(signature); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		dl, err := store.GetDeadLetter(r.Context(), signature)
		if errors.Is(err, db.ErrNotFound) {
			writeError(w, "dead letter not found", http.StatusNotFound)
			return
		}
		if err != nil {
			logger.Error("failed to get dead letter", "signature", signature, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, dl, http.StatusOK)
	})
}

// handleListPools returns a handler that lists the discovered pools.
// GET /api/v1/pools?dex=raydium_amm_v4
func handleListPools(store Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dex := r.URL.Query().Get("dex")

		pools, err := store.ListPools(r.Context())
		if err != nil {
			logger.Error("failed to list pools", "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		out := pools[:0:0]
		for _, p := range pools {
			if dex == "" || strings.EqualFold(p.DEX, dex) {
				out = append(out, p)
			}
		}

		writeJSON(w, map[string]interface{}{
			"pools": out,
			"count": len(out),
		}, http.StatusOK)
	})
}

// handleHealth reports whether the database is reachable.
// GET /health
func handleHealth(store Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := store.Ping(r.Context()); err != nil {
			logger.Warn("health check failed", "error", err)
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, map[string]string{
		"error": message,
	}, statusCode)
}

// parseLimit parses a limit query parameter (default 100, max 1000).
func parseLimit(s string) (int, error) {
	if s == "" {
		return defaultListLimit, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, errorf("invalid limit parameter: must be an integer")
	}
	if n < 1 {
		return 0, errorf("limit must be at least 1")
	}
	if n > maxListLimit {
		return 0, errorf("limit cannot exceed %d", maxListLimit)
	}
	return n, nil
}

// validateSignature validates a transaction signature for security and format.
func validateSignature(signature string) error {
	if signature == "" {
		return errorf("signature is required")
	}

	if len(signature) > maxSignatureLength {
		return errorf("signature too long: maximum length is %d characters", maxSignatureLength)
	}

	for _, r := range signature {
		if r == 0 || unicode.IsControl(r) {
			return errorf("invalid characters in signature: control characters not allowed")
		}
	}

	if !validSignatureRegex.MatchString(signature) {
		return errorf("invalid signature format: must contain only valid base58 characters")
	}

	return nil
}

// validateLabel validates an optional snake case filter value.
func validateLabel(name, value string) error {
	if value == "" {
		return nil
	}
	if len(value) > 64 || !validLabelRegex.MatchString(strings.ToLower(value)) {
		return errorf("invalid %s: must be snake case", name)
	}
	return nil
}

// validateReason validates an optional dead-letter reason filter.
func validateReason(reason string) error {
	switch reason {
	case "", decoder.ReasonNormalization, decoder.ReasonFetch, decoder.ReasonStorage, decoder.ReasonUnknown:
		return nil
	}
	return errorf("invalid reason: must be one of %s, %s, %s, %s",
		decoder.ReasonNormalization, decoder.ReasonFetch, decoder.ReasonStorage, decoder.ReasonUnknown)
}

// errorf is a helper to format error strings.
func errorf(format string, args ...interface{}) error {
	return &validationError{msg: strings.TrimSpace(fmt.Sprintf(format, args...))}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}
