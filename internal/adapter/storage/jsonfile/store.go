// Package jsonfile stores the factory as five JSON documents in one directory,
// the layout operators edit by hand.
package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/crabzie/factory-runtime/internal/core/domain"
	"github.com/crabzie/factory-runtime/internal/core/port"
	"go.uber.org/zap"
)

const (
	LockFile               = ".lock"
	MachinesFile           = "machines.json"
	ProcessingTimeFile     = "processing_time.json"
	MaterialsUsageFile     = "materials_usage.json"
	MaterialsAvailableFile = "materials_available.json"
	ScheduleFile           = "schedule.json"
)

const (
	lockPollInterval = 10 * time.Millisecond
	staleLockAge     = 30 * time.Second
)

type resourceStore struct {
	mu  sync.Mutex
	dir string
	log *zap.Logger
}

// NewResourceStore creates a store rooted at dir, creating the directory when missing.
// Machines are persisted with the 1 idle / 0 busy encoding.
func NewResourceStore(dir string, log *zap.Logger) (port.ResourceStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", dir, err)
	}
	return &resourceStore{dir: dir, log: log}, nil
}

// read decodes name into v, leaving v untouched when the file does not exist
func (s *resourceStore) read(name string, v any) error {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}

// write replaces name through a temp file and rename
func (s *resourceStore) write(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		return fmt.Errorf("replace %s: %w", name, err)
	}
	return nil
}

// lockDir takes the directory lock shared by every process using dir.
// A lock file older than staleLockAge is left over from a crashed writer.
func (s *resourceStore) lockDir(ctx context.Context) (func(), error) {
	path := filepath.Join(s.dir, LockFile)
	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_ = f.Close()
			return func() { _ = os.Remove(path) }, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("lock %s: %w", s.dir, err)
		}
		if info, statErr := os.Stat(path); statErr == nil && time.Since(info.ModTime()) > staleLockAge {
			s.log.Warn("Removing stale lock file", zap.String("path", path), zap.Time("modified", info.ModTime()))
			_ = os.Remove(path)
			continue
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("lock %s: %w", s.dir, ctx.Err())
		case <-time.After(lockPollInterval):
		}
	}
}

func (s *resourceStore) loadMachines() (map[string]domain.MachineState, error) {
	codes := map[string]int{}
	if err := s.read(MachinesFile, &codes); err != nil {
		return nil, err
	}
	states := make(map[string]domain.MachineState, len(codes))
	for name, code := range codes {
		state, err := domain.MachineStateFromCode(code)
		if err != nil {
			return nil, fmt.Errorf("%s: machine %q: %w", MachinesFile, name, err)
		}
		states[name] = state
	}
	return states, nil
}

func (s *resourceStore) saveMachines(states map[string]domain.MachineState) error {
	codes := make(map[string]int, len(states))
	for name, state := range states {
		codes[name] = state.Code()
	}
	return s.write(MachinesFile, codes)
}

func (s *resourceStore) LoadMachineStates(_ context.Context) (map[string]domain.MachineState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadMachines()
}

func (s *resourceStore) SaveMachineStates(_ context.Context, states map[string]domain.MachineState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveMachines(states)
}

func (s *resourceStore) UpdateMachineState(ctx context.Context, machine string, state domain.MachineState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	unlock, err := s.lockDir(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	states, err := s.loadMachines()
	if err != nil {
		return err
	}
	if _, ok := states[machine]; !ok {
		return fmt.Errorf("update machine %q: %w", machine, domain.ErrUnknownMachine)
	}
	states[machine] = state
	return s.saveMachines(states)
}

func (s *resourceStore) LoadProcessingTimes(_ context.Context) (map[string]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	times := map[string]float64{}
	return times, s.read(ProcessingTimeFile, &times)
}

func (s *resourceStore) SaveProcessingTimes(_ context.Context, times map[string]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(ProcessingTimeFile, times)
}

func (s *resourceStore) LoadMaterialsUsage(_ context.Context) (map[string]map[string]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	usage := map[string]map[string]float64{}
	return usage, s.read(MaterialsUsageFile, &usage)
}

func (s *resourceStore) SaveMaterialsUsage(_ context.Context, usage map[string]map[string]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(MaterialsUsageFile, usage)
}

func (s *resourceStore) LoadMaterialsAvailable(_ context.Context) (domain.Inventory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv := domain.Inventory{}
	return inv, s.read(MaterialsAvailableFile, &inv)
}

func (s *resourceStore) SaveMaterialsAvailable(_ context.Context, inventory domain.Inventory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(MaterialsAvailableFile, inventory.Clone())
}

func (s *resourceStore) LoadSchedule(_ context.Context) (domain.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	schedule := domain.Schedule{}
	if err := s.read(ScheduleFile, &schedule); err != nil {
		return nil, err
	}
	return schedule.Clone(), nil
}

func (s *resourceStore) SaveSchedule(_ context.Context, schedule domain.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(ScheduleFile, schedule.Clone())
}

func (s *resourceStore) AppendOrder(ctx context.Context, order domain.Order) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	unlock, err := s.lockDir(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	defer unlock()

	schedule := domain.Schedule{}
	if err := s.read(ScheduleFile, &schedule); err != nil {
		return domain.Order{}, err
	}
	if order.OrderID == "" {
		order.OrderID = domain.NextOrderID(schedule)
	}
	order = order.Clone()
	if err := s.write(ScheduleFile, append(schedule, order)); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

// CommitReservation re-validates against the files on disk, then writes
// inventory, schedule and machines in that order. Each file is replaced
// atomically; the three together are not.
func (s *resourceStore) CommitReservation(ctx context.Context, commit domain.ReservationCommit) (domain.ReservationState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	unlock, err := s.lockDir(ctx)
	if err != nil {
		return domain.ReservationState{}, err
	}
	defer unlock()

	states, err := s.loadMachines()
	if err != nil {
		return domain.ReservationState{}, err
	}
	inventory := domain.Inventory{}
	if err := s.read(MaterialsAvailableFile, &inventory); err != nil {
		return domain.ReservationState{}, err
	}
	schedule := domain.Schedule{}
	if err := s.read(ScheduleFile, &schedule); err != nil {
		return domain.ReservationState{}, err
	}

	next, err := commit.Apply(states, inventory, schedule)
	if err != nil {
		return domain.ReservationState{}, err
	}

	if err := s.write(MaterialsAvailableFile, next.Inventory); err != nil {
		return domain.ReservationState{}, err
	}
	if err := s.write(ScheduleFile, next.Schedule); err != nil {
		s.log.Error("Reservation partially written", zap.String("machine", commit.Machine), zap.Error(err))
		return domain.ReservationState{}, err
	}
	states[commit.Machine] = domain.MachineBusy
	if err := s.saveMachines(states); err != nil {
		s.log.Error("Reservation partially written", zap.String("machine", commit.Machine), zap.Error(err))
		return domain.ReservationState{}, err
	}
	return next, nil
}
