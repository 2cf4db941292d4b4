// Package metrics define los contadores Prometheus del servicio.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	KeyRotationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "keywarden_key_rotations_total",
		Help: "Rotaciones de clave, por resultado (ok|error).",
	}, []string{"result"})

	KeysByStatus = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "keywarden_keys_by_status",
		Help: "Cantidad de claves en el keyset, por estado.",
	}, []string{"status"})

	KeysSweptTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "keywarden_keys_swept_total",
		Help: "Claves transicionadas por el sweep, por acción (expired|removed).",
	}, []string{"action"})

	TokensSignedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "keywarden_tokens_signed_total",
		Help: "Tokens emitidos.",
	})

	TokenVerificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "keywarden_token_verifications_total",
		Help: "Verificaciones de token, por resultado.",
	}, []string{"result"})

	RevocationCheckFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "keywarden_revocation_check_failures_total",
		Help: "Consultas de revocación que fallaron contra el backend.",
	})
)

var registerOnce sync.Once

// Register registra todos los colectores en el registry default. Idempotente.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			KeyRotationsTotal,
			KeysByStatus,
			KeysSweptTotal,
			TokensSignedTotal,
			TokenVerificationsTotal,
			RevocationCheckFailuresTotal,
		)
	})
}
