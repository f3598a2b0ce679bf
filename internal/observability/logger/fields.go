package logger

import (
	"time"

	"go.uber.org/zap"
)

// =================================================================================
// CAMPOS ESTÁNDAR - HTTP
// =================================================================================

// RequestID crea un campo para el ID del request.
func RequestID(v string) zap.Field { return zap.String("request_id", v) }

// Method crea un campo para el método HTTP.
func Method(v string) zap.Field { return zap.String("method", v) }

// Path crea un campo para el path del request.
func Path(v string) zap.Field { return zap.String("path", v) }

// Status crea un campo para el status code HTTP.
func Status(v int) zap.Field { return zap.Int("status", v) }

// Duration crea un campo para la duración del request.
func Duration(v time.Duration) zap.Field { return zap.Duration("duration", v) }

// ClientIP crea un campo para la IP del cliente.
func ClientIP(v string) zap.Field { return zap.String("client_ip", v) }

// Bytes crea un campo para los bytes escritos en la respuesta.
func Bytes(v int) zap.Field { return zap.Int("bytes", v) }

// DurationMs crea un campo para la duración del request en milisegundos.
func DurationMs(v int64) zap.Field { return zap.Int64("duration_ms", v) }

// UserAgent crea un campo para el User-Agent del cliente.
func UserAgent(v string) zap.Field { return zap.String("user_agent", v) }

// =================================================================================
// CAMPOS ESTÁNDAR - NEGOCIO
// =================================================================================

// ConsentID crea un campo para el ID del consent.
func ConsentID(v string) zap.Field { return zap.String("consent_id", v) }

// UserID crea un campo para el ID del usuario dueño del consent.
func UserID(v string) zap.Field { return zap.String("user_id", v) }

// AgentID crea un campo para el ID del agente autorizado.
func AgentID(v string) zap.Field { return zap.String("agent_id", v) }

// CodeID crea un campo para el ID (jti) de un authorization code.
func CodeID(v string) zap.Field { return zap.String("code_id", v) }

// MerchantID crea un campo para el merchant de la transacción.
func MerchantID(v string) zap.Field { return zap.String("merchant_id", v) }

// Decision crea un campo para el resultado ALLOW/DENY.
func Decision(v string) zap.Field { return zap.String("decision", v) }

// Action es el tipo de acción declarado por el agente en authorize.
func Action(v string) zap.Field { return zap.String("action", v) }

// Reason crea un campo para el reason code de una denegación.
func Reason(v string) zap.Field { return zap.String("reason", v) }

// Amount crea un campo para un monto en unidades menores.
func Amount(v int64) zap.Field { return zap.Int64("amount", v) }

// Currency crea un campo para la moneda ISO 4217.
func Currency(v string) zap.Field { return zap.String("currency", v) }

// =================================================================================
// CAMPOS ESTÁNDAR - SISTEMA
// =================================================================================

// Component crea un campo para el componente/módulo.
func Component(v string) zap.Field { return zap.String("component", v) }

// Layer crea un campo para la capa (controller, service, store).
func Layer(v string) zap.Field { return zap.String("layer", v) }

// Op crea un campo para la operación actual.
func Op(v string) zap.Field { return zap.String("op", v) }

// Err crea un campo para un error.
func Err(err error) zap.Field { return zap.Error(err) }

// Int crea un campo int genérico.
func Int(key string, v int) zap.Field { return zap.Int(key, v) }

// String crea un campo string genérico.
func String(key, v string) zap.Field { return zap.String(key, v) }

// Bool crea un campo bool genérico.
func Bool(key string, v bool) zap.Field { return zap.Bool(key, v) }

// Any crea un campo genérico para cualquier tipo.
func Any(key string, v any) zap.Field { return zap.Any(key, v) }
