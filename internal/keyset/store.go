package keyset

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dropDatabas3/keywarden/internal/observability/logger"
)

// StoreConfig parametriza las ventanas del ciclo de vida.
type StoreConfig struct {
	// OverlapWindow: cuánto tiempo una clave retiring sigue publicada y
	// válida para verificación después de ser demoteada.
	OverlapWindow time.Duration

	// MaxTokenTTL: vida máxima de un token emitido. La remoción física de una
	// clave se gatilla recién en retired_at + max(OverlapWindow, MaxTokenTTL),
	// para que ningún token no-expirado pueda referenciar una clave removida.
	MaxTokenTTL time.Duration

	// MaxActiveKeys: tope de claves no expiradas (active + retiring). Al
	// promover por encima del tope se fuerza la expiración de la retiring
	// más vieja en vez de esperar su purge_at. Tradeoff deliberado: memoria
	// acotada a cambio de una ventana angosta donde un token recién retirado
	// puede fallar verificación antes de tiempo.
	MaxActiveKeys int
}

// Durable es el respaldo opcional del keyset (fs o postgres). No es necesario
// para la correctitud, solo para sobrevivir restarts sin invalidar tokens.
type Durable interface {
	Load(ctx context.Context) ([]SigningKey, error)
	SaveSnapshot(ctx context.Context, keys []SigningKey) error
}

// snapshot es la vista inmutable que leen los verificadores. Los lectores
// nunca bloquean en una rotación: cargan el puntero y listo.
type snapshot struct {
	active  *SigningKey
	byKID   map[string]*SigningKey
	ordered []*SigningKey
}

// Store mantiene el conjunto de claves con lecturas copy-on-write.
// Mutación single-writer (mu); lectura vía puntero atómico.
type Store struct {
	cfg     StoreConfig
	durable Durable
	now     func() time.Time

	mu   sync.Mutex
	snap atomic.Pointer[snapshot]
}

// NewStore crea un Store vacío. durable puede ser nil (memory-only).
func NewStore(cfg StoreConfig, durable Durable) *Store {
	s := &Store{cfg: cfg, durable: durable, now: time.Now}
	s.snap.Store(&snapshot{byKID: map[string]*SigningKey{}})
	return s
}

// Active devuelve la única clave active. ErrNoActiveKey si no hay: eso es
// fatal fuera del bootstrap inicial (el scheduler garantiza una clave antes
// de aceptar firmas).
func (s *Store) Active() (*SigningKey, error) {
	snap := s.snap.Load()
	if snap == nil || snap.active == nil {
		return nil, ErrNoActiveKey
	}
	cp := *snap.active
	return &cp, nil
}

// ByKID busca una clave por KID en cualquier estado no-removido.
// Una clave purgada y una que nunca existió son indistinguibles a propósito.
func (s *Store) ByKID(kid string) (*SigningKey, error) {
	snap := s.snap.Load()
	if snap == nil {
		return nil, ErrKeyNotFound
	}
	k, ok := snap.byKID[kid]
	if !ok {
		return nil, ErrKeyNotFound
	}
	cp := *k
	return &cp, nil
}

// Promote inserta newKey como active y demota la active anterior a retiring
// con retired_at=now y purge_at=now+overlap. Atómico para los lectores:
// nunca se observa cero o dos claves active.
func (s *Store) Promote(ctx context.Context, newKey *SigningKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	cur := s.snap.Load()

	if _, dup := cur.byKID[newKey.KID]; dup {
		return fmt.Errorf("promote: kid %s ya existe", newKey.KID)
	}

	nk := *newKey
	nk.Status = StatusActive
	if nk.CreatedAt.IsZero() {
		nk.CreatedAt = now
	}

	keys := []*SigningKey{&nk}
	for _, old := range cur.ordered {
		cp := *old
		if cp.Status == StatusActive {
			ra := now
			pa := now.Add(s.cfg.OverlapWindow)
			cp.Status = StatusRetiring
			cp.RetiredAt = &ra
			cp.PurgeAt = &pa
		}
		keys = append(keys, &cp)
	}

	s.enforceCap(keys)
	s.publish(keys)
	return s.persist(ctx)
}

// enforceCap fuerza la expiración de las retiring más viejas si el conjunto
// no-expirado supera MaxActiveKeys. Ver el tradeoff en StoreConfig.
func (s *Store) enforceCap(keys []*SigningKey) {
	if s.cfg.MaxActiveKeys <= 0 {
		return
	}
	for {
		live := 0
		var oldest *SigningKey
		for _, k := range keys {
			if k.Status == StatusExpired {
				continue
			}
			live++
			if k.Status == StatusRetiring {
				if oldest == nil || retiredAtOf(k).Before(retiredAtOf(oldest)) {
					oldest = k
				}
			}
		}
		if live <= s.cfg.MaxActiveKeys || oldest == nil {
			return
		}
		oldest.Status = StatusExpired
		logger.Named("keyset").Warn("retiring key force-expired por tope de claves",
			logger.KID(oldest.KID), logger.Count("max_active_keys", s.cfg.MaxActiveKeys))
	}
}

// Sweep pasa a expired las retiring cuyo purge_at venció y remueve las
// expired cuya ventana de remoción (retired_at + max(overlap, ttl máximo de
// token)) ya pasó por completo. Seguro de llamar concurrente con lecturas.
func (s *Store) Sweep(ctx context.Context, now time.Time) (expired, removed int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.snap.Load()
	if cur == nil || len(cur.ordered) == 0 {
		return 0, 0
	}

	changed := false
	keys := make([]*SigningKey, 0, len(cur.ordered))
	for _, k := range cur.ordered {
		cp := *k
		if cp.Status == StatusRetiring && cp.PurgeAt != nil && !now.Before(*cp.PurgeAt) {
			cp.Status = StatusExpired
			expired++
			changed = true
		}
		if cp.Status == StatusExpired && !now.Before(s.removeAfter(&cp)) {
			removed++
			changed = true
			continue
		}
		keys = append(keys, &cp)
	}

	if changed {
		s.publish(keys)
		if err := s.persist(ctx); err != nil {
			logger.Named("keyset").Warn("persistencia post-sweep falló", logger.Err(err))
		}
	}
	return expired, removed
}

// removeAfter calcula el instante a partir del cual una clave puede removerse
// sin dejar huérfano ningún token todavía vigente.
func (s *Store) removeAfter(k *SigningKey) time.Time {
	base := k.CreatedAt
	if k.RetiredAt != nil {
		base = *k.RetiredAt
	}
	grace := s.cfg.OverlapWindow
	if s.cfg.MaxTokenTTL > grace {
		grace = s.cfg.MaxTokenTTL
	}
	return base.Add(grace)
}

// LoadDurable restaura el keyset desde el respaldo durable. Si el respaldo
// trae más de una active (no debería), conserva la más nueva y demota el
// resto.
func (s *Store) LoadDurable(ctx context.Context) error {
	if s.durable == nil {
		return nil
	}
	loaded, err := s.durable.Load(ctx)
	if err != nil {
		return fmt.Errorf("keyset: load durable: %w", err)
	}
	if len(loaded) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	var newestActive *SigningKey
	for i := range loaded {
		k := &loaded[i]
		if k.Status == StatusActive {
			if newestActive == nil || k.CreatedAt.After(newestActive.CreatedAt) {
				newestActive = k
			}
		}
	}

	keys := make([]*SigningKey, 0, len(loaded))
	for i := range loaded {
		cp := loaded[i]
		if cp.Status == StatusActive && &loaded[i] != newestActive {
			ra := now
			pa := now.Add(s.cfg.OverlapWindow)
			cp.Status = StatusRetiring
			cp.RetiredAt = &ra
			cp.PurgeAt = &pa
		}
		keys = append(keys, &cp)
	}

	s.enforceCap(keys)
	s.publish(keys)
	return nil
}

// Publishable devuelve copias sin material privado de las claves no
// expiradas (active + retiring), ordenadas: active primero.
func (s *Store) Publishable() []SigningKey {
	snap := s.snap.Load()
	out := make([]SigningKey, 0, len(snap.ordered))
	for _, k := range snap.ordered {
		if k.Publishable() {
			out = append(out, k.publicCopy())
		}
	}
	return out
}

// All devuelve copias sin material privado de todas las claves, incluidas
// las expired aún no removidas. Para listados operativos.
func (s *Store) All() []SigningKey {
	snap := s.snap.Load()
	out := make([]SigningKey, 0, len(snap.ordered))
	for _, k := range snap.ordered {
		out = append(out, k.publicCopy())
	}
	return out
}

// Counts devuelve el conteo por estado (para métricas y tests).
func (s *Store) Counts() (active, retiring, expired int) {
	snap := s.snap.Load()
	for _, k := range snap.ordered {
		switch k.Status {
		case StatusActive:
			active++
		case StatusRetiring:
			retiring++
		case StatusExpired:
			expired++
		}
	}
	return
}

// publish arma y publica un snapshot nuevo. Se llama con mu tomado.
func (s *Store) publish(keys []*SigningKey) {
	sort.SliceStable(keys, func(i, j int) bool {
		if keys[i].Status != keys[j].Status {
			return statusRank(keys[i].Status) < statusRank(keys[j].Status)
		}
		return keys[i].CreatedAt.After(keys[j].CreatedAt)
	})

	snap := &snapshot{byKID: make(map[string]*SigningKey, len(keys)), ordered: keys}
	for _, k := range keys {
		snap.byKID[k.KID] = k
		if k.Status == StatusActive && snap.active == nil {
			snap.active = k
		}
	}
	s.snap.Store(snap)
}

func statusRank(st KeyStatus) int {
	switch st {
	case StatusActive:
		return 0
	case StatusRetiring:
		return 1
	default:
		return 2
	}
}

// persist vuelca el snapshot actual al respaldo durable. Se llama con mu tomado.
func (s *Store) persist(ctx context.Context) error {
	if s.durable == nil {
		return nil
	}
	snap := s.snap.Load()
	keys := make([]SigningKey, 0, len(snap.ordered))
	for _, k := range snap.ordered {
		keys = append(keys, *k)
	}
	if err := s.durable.SaveSnapshot(ctx, keys); err != nil {
		return fmt.Errorf("keyset: save snapshot: %w", err)
	}
	return nil
}

func retiredAtOf(k *SigningKey) time.Time {
	if k.RetiredAt != nil {
		return *k.RetiredAt
	}
	return k.CreatedAt
}
