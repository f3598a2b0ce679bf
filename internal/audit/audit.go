// Package audit emite el rastro auditable del motor: cada decisión y
// cada transición de ciclo de vida queda como evento estructurado.
// Hoy el sink es el logger; a futuro puede colgarse una DB o un bus.
package audit

import (
	"context"

	"go.uber.org/zap"

	"github.com/agentauth/consentd/internal/observability/logger"
)

// Event nombra los eventos auditables del motor.
type Event string

const (
	ConsentCreated  Event = "consent.created"
	ConsentApproved Event = "consent.approved"
	ConsentDenied   Event = "consent.denied"
	ConsentRevoked  Event = "consent.revoked"

	AuthorizeAllow Event = "authorize.allow"
	AuthorizeDeny  Event = "authorize.deny"

	VerifyValid   Event = "verify.valid"
	VerifyInvalid Event = "verify.invalid"
)

// Log escribe un evento de auditoría con campos estructurados.
//
// Para denials por carrera del ledger, el caller agrega el campo
// ledger_race=true: la respuesta API es idéntica a un limit breach
// genuino (a propósito, para no filtrar timing), pero el audit trail
// sí preserva la distinción.
func Log(ctx context.Context, event Event, fields ...zap.Field) {
	all := make([]zap.Field, 0, len(fields)+1)
	all = append(all, zap.String("audit_event", string(event)))
	all = append(all, fields...)
	logger.From(ctx).Named("audit").Info(string(event), all...)
}
