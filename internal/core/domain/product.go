package domain

import (
	"maps"
	"math"
	"slices"
	"strings"
)

// Inventory maps material name to available quantity
type Inventory map[string]float64

// Clone returns a copy of the inventory, never nil
func (inv Inventory) Clone() Inventory {
	out := make(Inventory, len(inv))
	maps.Copy(out, inv)
	return out
}

// ProductSpec is the read-only reference data of one product.
// ProcessingTime is nil when no processing time is configured.
type ProductSpec struct {
	Name           string             `json:"name"`
	ProcessingTime *float64           `json:"processing_time,omitempty"`
	Materials      map[string]float64 `json:"materials,omitempty"`
}

// Requirements returns per_unit*quantity for every material of the product
func (p ProductSpec) Requirements(quantity int) map[string]float64 {
	out := make(map[string]float64, len(p.Materials))
	for material, perUnit := range p.Materials {
		out[material] = perUnit * float64(quantity)
	}
	return out
}

// Shortfalls lists every material of the requirements that inv cannot cover,
// sorted by material name.
func (inv Inventory) Shortfalls(required map[string]float64) []Shortfall {
	var out []Shortfall
	for _, material := range slices.Sorted(maps.Keys(required)) {
		need := required[material]
		if have := inv[material]; have < need {
			out = append(out, Shortfall{Material: material, Required: need, Available: have})
		}
	}
	return out
}

// Deduct returns a copy of inv with the requirements removed
func (inv Inventory) Deduct(required map[string]float64) Inventory {
	out := inv.Clone()
	for material, need := range required {
		out[material] = out[material] - need
	}
	return out
}

// ComputeDuration returns the job length in time units: max(1, round(pt*qty))
func ComputeDuration(processingTime float64, quantity int) int {
	d := int(math.Round(processingTime * float64(quantity)))
	if d < 1 {
		return 1
	}
	return d
}

// Summary renders the process time and materials per unit of the product
func (p ProductSpec) Summary() string {
	var b strings.Builder
	b.WriteString("Product: " + p.Name)
	if p.ProcessingTime != nil {
		b.WriteString("\n- Process time per unit: " + FormatQuantity(*p.ProcessingTime) + " seconds")
	}
	if len(p.Materials) > 0 {
		b.WriteString("\n- Materials per unit:")
		for _, material := range slices.Sorted(maps.Keys(p.Materials)) {
			b.WriteString("\n  • " + material + ": " + FormatQuantity(p.Materials[material]))
		}
	}
	return b.String()
}
