package webhooks

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/kalamart/marketplace-backend/api/responses"
	"github.com/kalamart/marketplace-backend/internal/settlement"
	pkgerrors "github.com/kalamart/marketplace-backend/pkg/errors"
	"github.com/kalamart/marketplace-backend/pkg/logger"
)

const (
	signatureHeader = "X-Signature"
	eventIDHeader   = "X-Event-Id"
)

// SettlementApplier feeds a decoded gateway event through the state machine.
type SettlementApplier interface {
	Apply(ctx context.Context, event settlement.Event) (bool, error)
}

type signatureVerifier interface {
	VerifyWebhookSignature(body []byte, signature string) error
}

type webhookGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Delete(ctx context.Context, eventID string) error
}

// GatewayWebhook ingests payment gateway notifications. The signature is
// verified over the raw body before any parsing; unknown event types are
// acknowledged so the gateway stops retrying them; infrastructure failures
// return non-2xx so the gateway retries.
func GatewayWebhook(svc SettlementApplier, verifier signatureVerifier, guard webhookGuard, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "settlement service unavailable"))
			return
		}
		if verifier == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "gateway client unavailable"))
			return
		}
		if guard == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "idempotency guard unavailable"))
			return
		}

		payload, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		signature := r.Header.Get(signatureHeader)
		if err := verifier.VerifyWebhookSignature(payload, signature); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		event, err := settlement.DecodeEvent(payload)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if logg != nil {
			ctx = logg.WithEventType(ctx, event.Name())
		}

		if _, unknown := event.(settlement.Unknown); unknown {
			if logg != nil {
				logg.Info(ctx, "unhandled gateway event acknowledged")
			}
			responses.WriteSuccess(w, nil)
			return
		}

		eventID := strings.TrimSpace(r.Header.Get(eventIDHeader))
		if eventID == "" {
			sum := sha256.Sum256(payload)
			eventID = hex.EncodeToString(sum[:])
		}

		alreadyProcessed, err := guard.CheckAndMark(ctx, eventID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
			return
		}
		if alreadyProcessed {
			responses.WriteSuccess(w, nil)
			return
		}

		applied, err := svc.Apply(ctx, event)
		if err != nil {
			_ = guard.Delete(ctx, eventID)
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if logg != nil {
			logg.Info(ctx, fmt.Sprintf("gateway event %s processed (applied=%t)", eventID, applied))
		}
		responses.WriteSuccess(w, nil)
	}
}
