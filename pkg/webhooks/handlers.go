package webhooks

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/larkbridge/pkg/observability"
	"github.com/sirupsen/logrus"
)

// Request headers set by the platform on event callbacks
const (
	HeaderSignature = "X-Lark-Signature"
	HeaderTimestamp = "X-Lark-Request-Timestamp"
	HeaderNonce     = "X-Lark-Request-Nonce"

	maxBodyBytes = 1 << 20
)

// EventHandler processes a verified, decrypted and deduplicated event.
// Returning an error answers 500 so the platform redelivers.
type EventHandler func(ctx context.Context, event *Event) error

// Config configures the event endpoint
type Config struct {
	// Secret is the shared encrypt key; when set, requests must be signed
	Secret string
	// VerificationToken, when set, must match the token carried by every event
	VerificationToken string
	// MaxClockSkew rejects signed requests whose timestamp is older; zero disables the check
	MaxClockSkew time.Duration
	// HandlerTimeout bounds the EventHandler call
	HandlerTimeout time.Duration
}

// Handler is the HTTP entry point for platform events
type Handler struct {
	cfg      Config
	security *Security
	dedupe   Deduper
	handle   EventHandler
	receipts *ReceiptLog
	logger   *logrus.Logger
	metrics  *observability.Metrics
	now      func() time.Time
}

// NewHandler creates a new event endpoint. A nil deduper uses an in-memory LRU.
func NewHandler(cfg Config, handle EventHandler, dedupe Deduper, logger *logrus.Logger, metrics *observability.Metrics) *Handler {
	if logger == nil {
		logger = logrus.New()
	}
	if dedupe == nil {
		dedupe = NewLRUDeduper(0, 0)
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = 3 * time.Second
	}
	return &Handler{
		cfg:      cfg,
		security: NewSecurity(cfg.Secret),
		dedupe:   dedupe,
		handle:   handle,
		receipts: NewReceiptLog(0),
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
	}
}

// Receipts exposes the log of recent requests
func (h *Handler) Receipts() *ReceiptLog {
	return h.receipts
}

// RegisterRoutes registers the event endpoint and the receipt inspection routes
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/webhooks/lark/events", h.ServeHTTP).Methods(http.MethodPost)
	router.HandleFunc("/webhooks/lark/receipts", h.listReceipts).Methods(http.MethodGet)
}

type requestError struct {
	status int
	msg    string
	err    error
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := h.now()
	receipt, response, reqErr := h.process(r)
	receipt.ReceivedAt = start
	receipt.Duration = h.now().Sub(start)

	log := h.logger.WithFields(logrus.Fields{
		"event_id":   receipt.EventID,
		"event_type": receipt.EventType,
		"status":     receipt.Status,
	})

	if reqErr != nil {
		if reqErr.err != nil {
			receipt.Error = reqErr.err.Error()
			log = log.WithError(reqErr.err)
		}
		log.Warn("Rejected lark event")
		h.receipts.Add(receipt)
		h.metrics.RecordWebhookEvent(string(receipt.Status))
		http.Error(w, reqErr.msg, reqErr.status)
		return
	}

	log.Debug("Handled lark event")
	h.receipts.Add(receipt)
	h.metrics.RecordWebhookEvent(string(receipt.Status))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}

func (h *Handler) process(r *http.Request) (Receipt, interface{}, *requestError) {
	receipt := Receipt{Status: ReceiptRejected}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return receipt, nil, &requestError{http.StatusBadRequest, "unreadable body", err}
	}

	if h.security.Enabled() {
		if reqErr := h.checkSignature(r, body); reqErr != nil {
			return receipt, nil, reqErr
		}
	}

	payload, err := parsePayload(body)
	if err != nil {
		return receipt, nil, &requestError{http.StatusBadRequest, "invalid payload", err}
	}
	if payload.Encrypt != "" {
		plain, err := h.security.Decrypt(payload.Encrypt)
		if err != nil {
			return receipt, nil, &requestError{http.StatusBadRequest, "cannot decrypt event", err}
		}
		if payload, err = parsePayload(plain); err != nil {
			return receipt, nil, &requestError{http.StatusBadRequest, "invalid payload", err}
		}
	}

	if payload.isChallenge() {
		if !h.tokenMatches(payload.Token) {
			return receipt, nil, &requestError{http.StatusUnauthorized, "verification token mismatch", nil}
		}
		receipt.Status = ReceiptChallenge
		return receipt, map[string]string{"challenge": payload.Challenge}, nil
	}

	event, err := payload.toEvent()
	if err != nil {
		return receipt, nil, &requestError{http.StatusBadRequest, "invalid event", err}
	}
	receipt.EventID = event.Header.EventID
	receipt.EventType = event.Header.EventType

	if !h.tokenMatches(event.Header.Token) {
		return receipt, nil, &requestError{http.StatusUnauthorized, "verification token mismatch", nil}
	}

	first, err := h.dedupe.MarkSeen(r.Context(), event.Header.EventID)
	if err != nil {
		// fail open; a redelivery may then be processed twice
		h.logger.WithError(err).Warn("Event dedupe unavailable")
		first = true
	}
	if !first {
		receipt.Status = ReceiptDuplicate
		return receipt, map[string]string{}, nil
	}

	if h.handle != nil {
		ctx, cancel := context.WithTimeout(r.Context(), h.cfg.HandlerTimeout)
		defer cancel()
		if err := h.handle(ctx, event); err != nil {
			if forgetErr := h.dedupe.Forget(r.Context(), event.Header.EventID); forgetErr != nil {
				h.logger.WithError(forgetErr).Warn("Failed to release event id")
			}
			receipt.Status = ReceiptFailed
			return receipt, nil, &requestError{http.StatusInternalServerError, "event handler failed", err}
		}
	}

	receipt.Status = ReceiptAccepted
	return receipt, map[string]string{}, nil
}

func (h *Handler) checkSignature(r *http.Request, body []byte) *requestError {
	timestamp := r.Header.Get(HeaderTimestamp)
	nonce := r.Header.Get(HeaderNonce)
	if !h.security.Verify(r.Header.Get(HeaderSignature), timestamp, nonce, body) {
		return &requestError{http.StatusUnauthorized, "invalid signature", errors.New("signature mismatch")}
	}

	if h.cfg.MaxClockSkew > 0 {
		sec, err := strconv.ParseInt(timestamp, 10, 64)
		if err != nil {
			return &requestError{http.StatusUnauthorized, "invalid timestamp", err}
		}
		skew := h.now().Sub(time.Unix(sec, 0))
		if skew > h.cfg.MaxClockSkew || skew < -h.cfg.MaxClockSkew {
			return &requestError{http.StatusUnauthorized, "stale request", errors.New("timestamp outside allowed skew")}
		}
	}
	return nil
}

func (h *Handler) tokenMatches(token string) bool {
	if h.cfg.VerificationToken == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.cfg.VerificationToken)) == 1
}

// listReceipts handles GET /webhooks/lark/receipts
func (h *Handler) listReceipts(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"receipts": h.receipts.Recent(limit),
		"stats":    h.receipts.Stats(),
	})
}
