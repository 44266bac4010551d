package simulation

import (
	"container/list"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jbouniol/finovera/pkg/redis"
)

// ErrRunNotFound is returned when no stored run has the requested ID
var ErrRunNotFound = errors.New("simulation run not found")

// RunStore persists finished simulation results
type RunStore interface {
	Save(ctx context.Context, r *Result) error
	Get(ctx context.Context, runID string) (*Result, error)
}

// PostgresRunStore keeps results in simulation.runs
// ⭐ SSOT: 시뮬레이션 결과 저장/조회
type PostgresRunStore struct {
	pool *pgxpool.Pool
}

// NewPostgresRunStore creates a PostgreSQL-backed store
func NewPostgresRunStore(pool *pgxpool.Pool) *PostgresRunStore {
	return &PostgresRunStore{pool: pool}
}

// Save implements RunStore
func (s *PostgresRunStore) Save(ctx context.Context, r *Result) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}

	query := `
		INSERT INTO simulation.runs (
			run_id, created_at, policy_key, asset_count,
			final_value, total_return, floor_breached, payload
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (run_id) DO NOTHING
	`

	_, err = s.pool.Exec(ctx, query,
		r.RunID,
		r.CreatedAt,
		r.PolicyKey,
		len(r.Assets),
		r.Final,
		r.Summary.TotalReturn,
		r.Summary.FloorBreached,
		payload,
	)
	if err != nil {
		return fmt.Errorf("save simulation run: %w", err)
	}

	return nil
}

// Get implements RunStore
func (s *PostgresRunStore) Get(ctx context.Context, runID string) (*Result, error) {
	query := `SELECT payload FROM simulation.runs WHERE run_id = $1`

	var payload []byte
	if err := s.pool.QueryRow(ctx, query, runID).Scan(&payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("get simulation run: %w", err)
	}

	var r Result
	if err := json.Unmarshal(payload, &r); err != nil {
		return nil, fmt.Errorf("decode simulation run: %w", err)
	}
	return &r, nil
}

// RedisRunStore keeps results for redis.TTLSimulation
type RedisRunStore struct {
	cache *redis.Cache
}

// NewRedisRunStore creates a Redis-backed store
func NewRedisRunStore(cache *redis.Cache) *RedisRunStore {
	return &RedisRunStore{cache: cache}
}

// Save implements RunStore
func (s *RedisRunStore) Save(ctx context.Context, r *Result) error {
	if err := s.cache.Set(ctx, redis.SimulationKey(r.RunID), r, redis.TTLSimulation); err != nil {
		return fmt.Errorf("save simulation run: %w", err)
	}
	return nil
}

// Get implements RunStore
func (s *RedisRunStore) Get(ctx context.Context, runID string) (*Result, error) {
	var r Result
	found, err := s.cache.Get(ctx, redis.SimulationKey(runID), &r)
	if err != nil {
		return nil, fmt.Errorf("get simulation run: %w", err)
	}
	if !found {
		return nil, ErrRunNotFound
	}
	return &r, nil
}

// MemoryRunStore keeps the most recent runs in process, evicting the oldest
type MemoryRunStore struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	runs     map[string]*list.Element
}

// NewMemoryRunStore creates a store holding at most capacity runs
func NewMemoryRunStore(capacity int) *MemoryRunStore {
	if capacity <= 0 {
		capacity = 100
	}
	return &MemoryRunStore{
		capacity: capacity,
		order:    list.New(),
		runs:     make(map[string]*list.Element),
	}
}

// Save implements RunStore
func (s *MemoryRunStore) Save(_ context.Context, r *Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.runs[r.RunID]; ok {
		el.Value = r
		return nil
	}

	s.runs[r.RunID] = s.order.PushBack(r)
	for s.order.Len() > s.capacity {
		oldest := s.order.Front()
		s.order.Remove(oldest)
		delete(s.runs, oldest.Value.(*Result).RunID)
	}
	return nil
}

// Get implements RunStore
func (s *MemoryRunStore) Get(_ context.Context, runID string) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.runs[runID]
	if !ok {
		return nil, ErrRunNotFound
	}
	return el.Value.(*Result), nil
}
