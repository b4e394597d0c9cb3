package responses

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	pkgerrors "github.com/kalamart/marketplace-backend/pkg/errors"
)

func decodeError(t *testing.T, resp *httptest.ResponseRecorder) (string, string) {
	t.Helper()
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	return envelope.Error.Code, envelope.Error.Message
}

func TestWriteSuccessEnvelope(t *testing.T) {
	resp := httptest.NewRecorder()
	WriteSuccess(resp, map[string]string{"status": "ok"})

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if ct := resp.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %q", ct)
	}
	var envelope struct {
		Data map[string]string `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.Data["status"] != "ok" {
		t.Fatalf("unexpected payload %v", envelope.Data)
	}
}

func TestWriteErrorPassesClientSafeMessages(t *testing.T) {
	resp := httptest.NewRecorder()
	WriteError(context.Background(), nil, resp,
		pkgerrors.New(pkgerrors.CodeValidation, "qty must be positive"))

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
	code, msg := decodeError(t, resp)
	if code != string(pkgerrors.CodeValidation) {
		t.Fatalf("unexpected code %s", code)
	}
	if msg != "qty must be positive" {
		t.Fatalf("expected message passthrough, got %q", msg)
	}
}

func TestWriteErrorMasksInternalMessages(t *testing.T) {
	resp := httptest.NewRecorder()
	WriteError(context.Background(), nil, resp,
		pkgerrors.Wrap(pkgerrors.CodeInternal, errors.New("pq: relation orders does not exist"), "query orders"))

	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", resp.Code)
	}
	_, msg := decodeError(t, resp)
	if msg != "internal server error" {
		t.Fatalf("internal detail leaked: %q", msg)
	}
}

func TestWriteErrorWrapsUntypedErrors(t *testing.T) {
	resp := httptest.NewRecorder()
	WriteError(context.Background(), nil, resp, errors.New("boom"))

	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", resp.Code)
	}
	code, _ := decodeError(t, resp)
	if code != string(pkgerrors.CodeInternal) {
		t.Fatalf("unexpected code %s", code)
	}
}

func TestWriteErrorIncludesDetailsWhenAllowed(t *testing.T) {
	resp := httptest.NewRecorder()
	WriteError(context.Background(), nil, resp,
		pkgerrors.New(pkgerrors.CodeValidation, "validation failed").
			WithDetails(map[string]string{"qty": "must be at least 1"}))

	var envelope struct {
		Error struct {
			Details map[string]string `json:"details"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.Error.Details["qty"] != "must be at least 1" {
		t.Fatalf("expected details, got %v", envelope.Error.Details)
	}
}
