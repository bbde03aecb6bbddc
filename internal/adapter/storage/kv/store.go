// Package kv keeps the factory state in a key value storage such as the
// gofiber redis storage. The whole state lives under one key so a reservation
// is a single Set.
package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/crabzie/factory-runtime/internal/core/domain"
	"github.com/crabzie/factory-runtime/internal/core/port"
	"go.uber.org/zap"
)

// Storage is the subset of the gofiber storage interface the store needs
type Storage interface {
	Get(key string) ([]byte, error)
	Set(key string, val []byte, exp time.Duration) error
	Delete(key string) error
}

// document is the persisted state, machines in the 1 idle / 0 busy encoding
type document struct {
	Machines           map[string]int                `json:"machines"`
	ProcessingTime     map[string]float64            `json:"processing_time"`
	MaterialsUsage     map[string]map[string]float64 `json:"materials_usage"`
	MaterialsAvailable domain.Inventory              `json:"materials_available"`
	Schedule           domain.Schedule               `json:"schedule"`
}

// Locker serializes writers that share the storage across processes
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

type resourceStore struct {
	mu      sync.Mutex
	storage Storage
	locker  Locker
	key     string
	log     *zap.Logger
}

type Option func(*resourceStore)

// WithLocker guards every read-modify-write with locker under "<prefix>:lock"
func WithLocker(locker Locker) Option {
	return func(s *resourceStore) {
		s.locker = locker
	}
}

// NewResourceStore creates a store persisting under "<prefix>:state".
// Without a Locker writes are only serialized within this process.
func NewResourceStore(storage Storage, prefix string, log *zap.Logger, opts ...Option) port.ResourceStore {
	s := &resourceStore{
		storage: storage,
		key:     prefix + ":state",
		log:     log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *resourceStore) lockKey() string {
	return strings.TrimSuffix(s.key, ":state") + ":lock"
}

func (s *resourceStore) load() (*document, error) {
	raw, err := s.storage.Get(s.key)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", s.key, err)
	}
	doc := &document{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, doc); err != nil {
			return nil, fmt.Errorf("decode %s: %w", s.key, err)
		}
	}
	if doc.Machines == nil {
		doc.Machines = map[string]int{}
	}
	return doc, nil
}

func (s *resourceStore) save(doc *document) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s: %w", s.key, err)
	}
	if err := s.storage.Set(s.key, raw, 0); err != nil {
		s.log.Error("Failed to persist factory state", zap.String("key", s.key), zap.Error(err))
		return fmt.Errorf("set %s: %w", s.key, err)
	}
	return nil
}

// update applies fn to the current document and persists it. Nothing is
// written when fn fails.
func (s *resourceStore) update(ctx context.Context, fn func(doc *document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locker != nil {
		unlock, err := s.locker.Lock(ctx, s.lockKey())
		if err != nil {
			return fmt.Errorf("lock %s: %w", s.lockKey(), err)
		}
		defer unlock()
	}
	doc, err := s.load()
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}
	return s.save(doc)
}

func (s *resourceStore) view() (*document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *resourceStore) LoadMachineStates(_ context.Context) (map[string]domain.MachineState, error) {
	doc, err := s.view()
	if err != nil {
		return nil, err
	}
	states := make(map[string]domain.MachineState, len(doc.Machines))
	for name, code := range doc.Machines {
		state, err := domain.MachineStateFromCode(code)
		if err != nil {
			return nil, fmt.Errorf("machine %q: %w", name, err)
		}
		states[name] = state
	}
	return states, nil
}

func (s *resourceStore) SaveMachineStates(ctx context.Context, states map[string]domain.MachineState) error {
	return s.update(ctx, func(doc *document) error {
		doc.Machines = make(map[string]int, len(states))
		for name, state := range states {
			doc.Machines[name] = state.Code()
		}
		return nil
	})
}

func (s *resourceStore) UpdateMachineState(ctx context.Context, machine string, state domain.MachineState) error {
	return s.update(ctx, func(doc *document) error {
		if _, ok := doc.Machines[machine]; !ok {
			return fmt.Errorf("update machine %q: %w", machine, domain.ErrUnknownMachine)
		}
		doc.Machines[machine] = state.Code()
		return nil
	})
}

func (s *resourceStore) LoadProcessingTimes(_ context.Context) (map[string]float64, error) {
	doc, err := s.view()
	if err != nil {
		return nil, err
	}
	if doc.ProcessingTime == nil {
		return map[string]float64{}, nil
	}
	return doc.ProcessingTime, nil
}

func (s *resourceStore) SaveProcessingTimes(ctx context.Context, times map[string]float64) error {
	return s.update(ctx, func(doc *document) error {
		doc.ProcessingTime = maps.Clone(times)
		return nil
	})
}

func (s *resourceStore) LoadMaterialsUsage(_ context.Context) (map[string]map[string]float64, error) {
	doc, err := s.view()
	if err != nil {
		return nil, err
	}
	if doc.MaterialsUsage == nil {
		return map[string]map[string]float64{}, nil
	}
	return doc.MaterialsUsage, nil
}

func (s *resourceStore) SaveMaterialsUsage(ctx context.Context, usage map[string]map[string]float64) error {
	return s.update(ctx, func(doc *document) error {
		doc.MaterialsUsage = usage
		return nil
	})
}

func (s *resourceStore) LoadMaterialsAvailable(_ context.Context) (domain.Inventory, error) {
	doc, err := s.view()
	if err != nil {
		return nil, err
	}
	return doc.MaterialsAvailable.Clone(), nil
}

func (s *resourceStore) SaveMaterialsAvailable(ctx context.Context, inventory domain.Inventory) error {
	return s.update(ctx, func(doc *document) error {
		doc.MaterialsAvailable = inventory
		return nil
	})
}

func (s *resourceStore) LoadSchedule(_ context.Context) (domain.Schedule, error) {
	doc, err := s.view()
	if err != nil {
		return nil, err
	}
	return doc.Schedule.Clone(), nil
}

func (s *resourceStore) SaveSchedule(ctx context.Context, schedule domain.Schedule) error {
	return s.update(ctx, func(doc *document) error {
		doc.Schedule = schedule
		return nil
	})
}

func (s *resourceStore) AppendOrder(ctx context.Context, order domain.Order) (domain.Order, error) {
	err := s.update(ctx, func(doc *document) error {
		if order.OrderID == "" {
			order.OrderID = domain.NextOrderID(doc.Schedule)
		}
		order = order.Clone()
		doc.Schedule = append(doc.Schedule, order)
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	return order.Clone(), nil
}

// CommitReservation re-validates against the stored document, so a writer
// that planned against a stale read cannot overwrite a newer busy machine.
func (s *resourceStore) CommitReservation(ctx context.Context, commit domain.ReservationCommit) (domain.ReservationState, error) {
	var next domain.ReservationState
	err := s.update(ctx, func(doc *document) error {
		states := make(map[string]domain.MachineState, len(doc.Machines))
		for name, code := range doc.Machines {
			state, err := domain.MachineStateFromCode(code)
			if err != nil {
				return fmt.Errorf("machine %q: %w", name, err)
			}
			states[name] = state
		}
		applied, err := commit.Apply(states, doc.MaterialsAvailable, doc.Schedule)
		if err != nil {
			return err
		}
		doc.Machines[commit.Machine] = domain.MachineBusy.Code()
		doc.MaterialsAvailable = applied.Inventory
		doc.Schedule = applied.Schedule
		next = applied
		return nil
	})
	if err != nil {
		return domain.ReservationState{}, err
	}
	return domain.ReservationState{
		Inventory: next.Inventory.Clone(),
		Schedule:  next.Schedule.Clone(),
	}, nil
}
