package webhooks

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/kalamart/marketplace-backend/internal/settlement"
	pkgerrors "github.com/kalamart/marketplace-backend/pkg/errors"
)

type stubApplier struct {
	calls int
	err   error
}

func (s *stubApplier) Apply(ctx context.Context, event settlement.Event) (bool, error) {
	s.calls++
	if s.err != nil {
		return false, s.err
	}
	return true, nil
}

type stubSignatureVerifier struct {
	valid string
}

func (s stubSignatureVerifier) VerifyWebhookSignature(body []byte, signature string) error {
	if signature != s.valid {
		return pkgerrors.New(pkgerrors.CodeSignature, "invalid webhook signature")
	}
	return nil
}

type memoryGuard struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newMemoryGuard() *memoryGuard {
	return &memoryGuard{seen: map[string]bool{}}
}

func (g *memoryGuard) CheckAndMark(ctx context.Context, eventID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.seen[eventID] {
		return true, nil
	}
	g.seen[eventID] = true
	return false, nil
}

func (g *memoryGuard) Delete(ctx context.Context, eventID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.seen, eventID)
	return nil
}

func capturedEventBody() []byte {
	return []byte(`{
		"event": "payment.captured",
		"payload": {"payment": {"entity": {"id": "pay_1", "order_id": "order_1", "amount": 2832, "status": "captured"}}}
	}`)
}

func webhookRequest(body []byte, signature, eventID string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/gateway", bytes.NewReader(body))
	if signature != "" {
		req.Header.Set(signatureHeader, signature)
	}
	if eventID != "" {
		req.Header.Set(eventIDHeader, eventID)
	}
	return req
}

func TestGatewayWebhookProcessesAndDeduplicates(t *testing.T) {
	svc := &stubApplier{}
	guard := newMemoryGuard()
	handler := GatewayWebhook(svc, stubSignatureVerifier{valid: "good"}, guard, nil)

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, webhookRequest(capturedEventBody(), "good", "evt_1"))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d (%s)", resp.Code, resp.Body.String())
	}
	if svc.calls != 1 {
		t.Fatalf("expected one apply, got %d", svc.calls)
	}

	resp2 := httptest.NewRecorder()
	handler.ServeHTTP(resp2, webhookRequest(capturedEventBody(), "good", "evt_1"))
	if resp2.Code != http.StatusOK {
		t.Fatalf("expected 200 on duplicate got %d", resp2.Code)
	}
	if svc.calls != 1 {
		t.Fatalf("duplicate delivery must not reapply, got %d calls", svc.calls)
	}
}

func TestGatewayWebhookRejectsBadSignatureBeforeParsing(t *testing.T) {
	svc := &stubApplier{}
	handler := GatewayWebhook(svc, stubSignatureVerifier{valid: "good"}, newMemoryGuard(), nil)

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, webhookRequest([]byte(`{not even json`), "bad", "evt_2"))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
	if svc.calls != 0 {
		t.Fatalf("apply must not run on bad signature")
	}
}

func TestGatewayWebhookAcknowledgesUnknownEvents(t *testing.T) {
	svc := &stubApplier{}
	guard := newMemoryGuard()
	handler := GatewayWebhook(svc, stubSignatureVerifier{valid: "good"}, guard, nil)

	body := []byte(`{"event": "invoice.generated", "payload": {}}`)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, webhookRequest(body, "good", "evt_3"))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d (%s)", resp.Code, resp.Body.String())
	}
	if svc.calls != 0 {
		t.Fatalf("unknown events must not reach the state machine")
	}
	if len(guard.seen) != 0 {
		t.Fatalf("unknown events must not consume dedupe slots")
	}
}

func TestGatewayWebhookFailureUnlocksRetry(t *testing.T) {
	svc := &stubApplier{err: fmt.Errorf("db unavailable")}
	guard := newMemoryGuard()
	handler := GatewayWebhook(svc, stubSignatureVerifier{valid: "good"}, guard, nil)

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, webhookRequest(capturedEventBody(), "good", "evt_4"))
	if resp.Code < http.StatusInternalServerError {
		t.Fatalf("expected 5xx so the gateway retries, got %d", resp.Code)
	}

	// The retry must be processable once the failure clears.
	svc.err = nil
	resp2 := httptest.NewRecorder()
	handler.ServeHTTP(resp2, webhookRequest(capturedEventBody(), "good", "evt_4"))
	if resp2.Code != http.StatusOK {
		t.Fatalf("expected 200 on retry got %d", resp2.Code)
	}
	if svc.calls != 2 {
		t.Fatalf("expected retry to reach the state machine, got %d calls", svc.calls)
	}
}

func TestGatewayWebhookDerivesEventIDFromBody(t *testing.T) {
	svc := &stubApplier{}
	guard := newMemoryGuard()
	handler := GatewayWebhook(svc, stubSignatureVerifier{valid: "good"}, guard, nil)

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, webhookRequest(capturedEventBody(), "good", ""))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}

	resp2 := httptest.NewRecorder()
	handler.ServeHTTP(resp2, webhookRequest(capturedEventBody(), "good", ""))
	if resp2.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp2.Code)
	}
	if svc.calls != 1 {
		t.Fatalf("identical bodies should deduplicate, got %d calls", svc.calls)
	}
}
