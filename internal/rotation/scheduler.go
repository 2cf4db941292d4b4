// Package rotation maneja la rotación periódica de claves y el sweep del
// ciclo de vida. Un proceso es dueño de su rotación: no hay coordinación
// entre instancias, cada despliegue corre un scheduler.
package rotation

import (
	"context"
	"fmt"
	"time"

	"github.com/dropDatabas3/keywarden/internal/keyset"
	"github.com/dropDatabas3/keywarden/internal/metrics"
	"github.com/dropDatabas3/keywarden/internal/observability/logger"
)

// Generator produce claves nuevas (la factory del keyset).
type Generator interface {
	Generate() (*keyset.SigningKey, error)
}

// KeySet es lo que el scheduler necesita del store.
type KeySet interface {
	Active() (*keyset.SigningKey, error)
	Promote(ctx context.Context, k *keyset.SigningKey) error
	Sweep(ctx context.Context, now time.Time) (expired, removed int)
	Counts() (active, retiring, expired int)
}

// Config del scheduler.
type Config struct {
	RotationInterval time.Duration
	SweepInterval    time.Duration
}

// Scheduler dispara rotaciones y sweeps en intervalos independientes.
type Scheduler struct {
	cfg      Config
	keys     KeySet
	gen      Generator
	onChange func() // notificación post-cambio (invalidar el JWKS cacheado)
	now      func() time.Time
}

// NewScheduler crea el scheduler. onChange puede ser nil.
func NewScheduler(cfg Config, keys KeySet, gen Generator, onChange func()) *Scheduler {
	return &Scheduler{cfg: cfg, keys: keys, gen: gen, onChange: onChange, now: time.Now}
}

// Bootstrap garantiza una clave active antes de aceptar tráfico. Si el
// keyset ya trae una (restaurada del respaldo durable) no hace nada; si
// está vacío, genera y promueve de forma síncrona. Acá un fallo sí es
// fatal: sin clave activa el servicio no puede firmar.
func (s *Scheduler) Bootstrap(ctx context.Context) error {
	if _, err := s.keys.Active(); err == nil {
		return nil
	}

	k, err := s.gen.Generate()
	if err != nil {
		return fmt.Errorf("rotation: bootstrap: %w", err)
	}
	if err := s.keys.Promote(ctx, k); err != nil {
		return fmt.Errorf("rotation: bootstrap promote: %w", err)
	}
	s.notify()
	logger.Named("rotation").Info("clave inicial generada", logger.KID(k.KID), logger.Alg(k.Alg))
	return nil
}

// Run corre los dos ticks hasta que ctx se cancele.
func (s *Scheduler) Run(ctx context.Context) error {
	rotate := time.NewTicker(s.cfg.RotationInterval)
	defer rotate.Stop()
	sweep := time.NewTicker(s.cfg.SweepInterval)
	defer sweep.Stop()

	log := logger.Named("rotation")
	log.Info("scheduler arrancado",
		logger.DurationMs(s.cfg.RotationInterval.Milliseconds()),
		logger.Count("sweep_interval_s", int(s.cfg.SweepInterval.Seconds())))

	for {
		select {
		case <-ctx.Done():
			log.Info("scheduler detenido")
			return ctx.Err()
		case <-rotate.C:
			if err := s.RotateOnce(ctx); err != nil {
				// La clave activa anterior sigue firmando; se reintenta en
				// el próximo tick.
				log.Error("rotación falló", logger.Err(err))
			}
		case <-sweep.C:
			s.SweepOnce(ctx)
		}
	}
}

// RotateOnce genera una clave nueva y la promueve. La generación corre
// fuera de cualquier lock del store.
func (s *Scheduler) RotateOnce(ctx context.Context) error {
	k, err := s.gen.Generate()
	if err != nil {
		metrics.KeyRotationsTotal.WithLabelValues("error").Inc()
		return err
	}
	if err := s.keys.Promote(ctx, k); err != nil {
		metrics.KeyRotationsTotal.WithLabelValues("error").Inc()
		return err
	}
	metrics.KeyRotationsTotal.WithLabelValues("ok").Inc()
	s.notify()
	s.updateGauges()
	logger.Named("rotation").Info("clave rotada", logger.KID(k.KID), logger.Alg(k.Alg))
	return nil
}

// SweepOnce aplica las transiciones retiring→expired y expired→removida
// que correspondan al instante actual.
func (s *Scheduler) SweepOnce(ctx context.Context) {
	expired, removed := s.keys.Sweep(ctx, s.now().UTC())
	if expired == 0 && removed == 0 {
		return
	}
	metrics.KeysSweptTotal.WithLabelValues("expired").Add(float64(expired))
	metrics.KeysSweptTotal.WithLabelValues("removed").Add(float64(removed))
	s.notify()
	s.updateGauges()
	logger.Named("rotation").Info("sweep aplicado",
		logger.Count("expired", expired), logger.Count("removed", removed))
}

func (s *Scheduler) notify() {
	if s.onChange != nil {
		s.onChange()
	}
}

func (s *Scheduler) updateGauges() {
	active, retiring, expired := s.keys.Counts()
	metrics.KeysByStatus.WithLabelValues("active").Set(float64(active))
	metrics.KeysByStatus.WithLabelValues("retiring").Set(float64(retiring))
	metrics.KeysByStatus.WithLabelValues("expired").Set(float64(expired))
}
