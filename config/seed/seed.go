// Package seed loads a factory description from YAML (or JSON) into a
// resource store and dumps a store back out.
package seed

import (
	"context"
	"fmt"
	"maps"
	"os"
	"slices"

	"github.com/crabzie/factory-runtime/internal/core/domain"
	"github.com/crabzie/factory-runtime/internal/core/port"
	"gopkg.in/yaml.v3"
)

// Seed is the full factory state. Machines use the 1 idle / 0 busy encoding.
type Seed struct {
	Machines           map[string]int                `yaml:"machines" json:"machines"`
	ProcessingTime     map[string]float64            `yaml:"processing_time" json:"processing_time"`
	MaterialsUsage     map[string]map[string]float64 `yaml:"materials_usage" json:"materials_usage"`
	MaterialsAvailable map[string]float64            `yaml:"materials_available" json:"materials_available"`
	Schedule           []map[string]any              `yaml:"schedule" json:"schedule"`
}

// Load reads and parses the seed file at path
func Load(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Parse decodes a seed document
func Parse(data []byte) (*Seed, error) {
	var s Seed
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	if _, err := s.machineStates(); err != nil {
		return nil, err
	}
	if _, err := s.schedule(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Seed) machineStates() (map[string]domain.MachineState, error) {
	states := make(map[string]domain.MachineState, len(s.Machines))
	for name, code := range s.Machines {
		machine, err := domain.NormalizeMachine(name)
		if err != nil {
			return nil, fmt.Errorf("machines: %w", err)
		}
		state, err := domain.MachineStateFromCode(code)
		if err != nil {
			return nil, fmt.Errorf("machines: %s: %w", name, err)
		}
		states[machine] = state
	}
	return states, nil
}

func (s *Seed) schedule() (domain.Schedule, error) {
	out := make(domain.Schedule, 0, len(s.Schedule))
	for i, entry := range s.Schedule {
		o, err := orderFromEntry(entry)
		if err != nil {
			return nil, fmt.Errorf("schedule[%d]: %w", i, err)
		}
		out = append(out, o)
	}
	return out, nil
}

func orderFromEntry(entry map[string]any) (domain.Order, error) {
	var o domain.Order
	id, ok := entry["order_id"].(string)
	if !ok || id == "" {
		return o, fmt.Errorf("order_id must be a non-empty string")
	}
	product, ok := entry["product"].(string)
	if !ok {
		return o, fmt.Errorf("order %s: product must be a string", id)
	}
	qty, ok := entry["quantity"].(int)
	if !ok {
		return o, fmt.Errorf("order %s: quantity must be an integer", id)
	}

	o = domain.Order{OrderID: id, Product: product, Quantity: qty}
	for k, v := range entry {
		switch k {
		case "order_id", "product", "quantity":
			continue
		}
		if o.Metadata == nil {
			o.Metadata = make(map[string]any)
		}
		o.Metadata[k] = v
	}
	return o, nil
}

// Apply replaces every section of store with the seed
func (s *Seed) Apply(ctx context.Context, store port.ResourceStore) error {
	states, err := s.machineStates()
	if err != nil {
		return err
	}
	schedule, err := s.schedule()
	if err != nil {
		return err
	}

	if err := store.SaveMachineStates(ctx, states); err != nil {
		return fmt.Errorf("seed machines: %w", err)
	}
	if err := store.SaveProcessingTimes(ctx, maps.Clone(s.ProcessingTime)); err != nil {
		return fmt.Errorf("seed processing times: %w", err)
	}
	if err := store.SaveMaterialsUsage(ctx, s.MaterialsUsage); err != nil {
		return fmt.Errorf("seed materials usage: %w", err)
	}
	if err := store.SaveMaterialsAvailable(ctx, domain.Inventory(maps.Clone(s.MaterialsAvailable))); err != nil {
		return fmt.Errorf("seed materials available: %w", err)
	}
	if err := store.SaveSchedule(ctx, schedule); err != nil {
		return fmt.Errorf("seed schedule: %w", err)
	}
	return nil
}

// Snapshot reads the current state of store as a seed
func Snapshot(ctx context.Context, store port.ResourceStore) (*Seed, error) {
	states, err := store.LoadMachineStates(ctx)
	if err != nil {
		return nil, err
	}
	times, err := store.LoadProcessingTimes(ctx)
	if err != nil {
		return nil, err
	}
	usage, err := store.LoadMaterialsUsage(ctx)
	if err != nil {
		return nil, err
	}
	inventory, err := store.LoadMaterialsAvailable(ctx)
	if err != nil {
		return nil, err
	}
	schedule, err := store.LoadSchedule(ctx)
	if err != nil {
		return nil, err
	}

	s := &Seed{
		Machines:           make(map[string]int, len(states)),
		ProcessingTime:     times,
		MaterialsUsage:     usage,
		MaterialsAvailable: inventory,
		Schedule:           make([]map[string]any, 0, len(schedule)),
	}
	for _, name := range slices.Sorted(maps.Keys(states)) {
		s.Machines[name] = states[name].Code()
	}
	for _, o := range schedule {
		entry := make(map[string]any, len(o.Metadata)+3)
		maps.Copy(entry, o.Metadata)
		entry["order_id"] = o.OrderID
		entry["product"] = o.Product
		entry["quantity"] = o.Quantity
		s.Schedule = append(s.Schedule, entry)
	}
	return s, nil
}

// Marshal renders the seed as YAML
func (s *Seed) Marshal() ([]byte, error) {
	return yaml.Marshal(s)
}
