package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"

	stripewebhook "github.com/angelmondragon/payflow/internal/webhooks/stripe"
	"github.com/angelmondragon/payflow/pkg/logger"
)

const secret = "whsec_test"

type recordingService struct {
	calls int
	err   error
}

func (f *recordingService) HandleEvent(context.Context, *stripe.Event) error {
	f.calls++
	return f.err
}

type seenKeys struct {
	mu   sync.Mutex
	keys map[string]bool
}

func (s *seenKeys) MarkSeen(_ context.Context, key string, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.keys[key] {
		return false, nil
	}
	s.keys[key] = true
	return true, nil
}

func (s *seenKeys) Forget(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, key)
	return nil
}

func newLedger(t *testing.T) *stripewebhook.EventLedger {
	t.Helper()
	ledger, err := stripewebhook.NewEventLedger(&seenKeys{keys: map[string]bool{}}, time.Minute)
	require.NoError(t, err)
	return ledger
}

func TestStripeWebhookSkipsRedelivery(t *testing.T) {
	payload, header := signedCompletedEvent(t, secret)
	svc := &recordingService{}
	h := StripeWebhook(svc, stripewebhook.NewEventParser(secret, logger.Nop()), newLedger(t), logger.Nop())

	rec := deliver(h, payload, header)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = deliver(h, payload, header)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"duplicate":true`)
	assert.Equal(t, 1, svc.calls)
}

func TestStripeWebhookRejectsBadSignature(t *testing.T) {
	payload, _ := signedCompletedEvent(t, secret)
	svc := &recordingService{}
	h := StripeWebhook(svc, stripewebhook.NewEventParser(secret, logger.Nop()), newLedger(t), logger.Nop())

	rec := deliver(h, payload, "t=1,v1=invalid")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "SIGNATURE_INVALID", errorCode(t, rec))
	assert.Zero(t, svc.calls)
}

func TestStripeWebhookWithoutSecretOrLedger(t *testing.T) {
	payload, _ := signedCompletedEvent(t, secret)
	svc := &recordingService{}
	h := StripeWebhook(svc, stripewebhook.NewEventParser("", logger.Nop()), nil, logger.Nop())

	assert.Equal(t, http.StatusOK, deliver(h, payload, "").Code)
	assert.Equal(t, http.StatusOK, deliver(h, payload, "").Code)
	assert.Equal(t, 2, svc.calls, "no ledger means every delivery reaches the engine")

	assert.Equal(t, http.StatusBadRequest, deliver(h, []byte("{nope"), "").Code)
	assert.Equal(t, 2, svc.calls)
}

func TestStripeWebhookFailureAllowsRetry(t *testing.T) {
	payload, header := signedCompletedEvent(t, secret)
	svc := &recordingService{err: errors.New("db down")}
	h := StripeWebhook(svc, stripewebhook.NewEventParser(secret, logger.Nop()), newLedger(t), logger.Nop())

	assert.Equal(t, http.StatusInternalServerError, deliver(h, payload, header).Code)

	svc.err = nil
	assert.Equal(t, http.StatusOK, deliver(h, payload, header).Code)
	assert.Equal(t, 2, svc.calls)
}

func TestStripeWebhookUnconfigured(t *testing.T) {
	h := StripeWebhook(nil, nil, nil, logger.Nop())
	assert.Equal(t, http.StatusInternalServerError, deliver(h, []byte("{}"), "").Code)
}

func deliver(h http.Handler, payload []byte, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(payload))
	if header != "" {
		req.Header.Set("Stripe-Signature", header)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error.Code
}

func signedCompletedEvent(t *testing.T, secret string) ([]byte, string) {
	t.Helper()
	session, err := json.Marshal(map[string]any{
		"id":             "cs_" + uuid.NewString(),
		"object":         "checkout.session",
		"payment_status": "paid",
		"payment_intent": "pi_1",
		"metadata":       map[string]string{"order_id": "7"},
	})
	require.NoError(t, err)
	payload, err := json.Marshal(&stripe.Event{
		ID:         "evt_" + uuid.NewString(),
		Type:       stripe.EventTypeCheckoutSessionCompleted,
		Object:     "event",
		APIVersion: stripe.APIVersion,
		Data:       &stripe.EventData{Raw: session},
	})
	require.NoError(t, err)

	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return payload, fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}
