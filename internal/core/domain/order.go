package domain

import (
	"encoding/json"
	"fmt"
	"maps"
	"strconv"
	"strings"
)

const firstOrderID = "ORD-001"

// Order is a pending schedule entry. Metadata holds any extra keys of the
// entry and is flattened next to the known fields when serialized.
type Order struct {
	OrderID  string         `json:"order_id"`
	Product  string         `json:"product"`
	Quantity int            `json:"quantity"`
	Metadata map[string]any `json:"-"`
}

// Schedule is the FIFO list of pending orders
type Schedule []Order

func (o Order) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(o.Metadata)+3)
	maps.Copy(out, o.Metadata)
	out["order_id"] = o.OrderID
	out["product"] = o.Product
	out["quantity"] = o.Quantity
	return json.Marshal(out)
}

func (o *Order) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*o = Order{}
	if v, ok := raw["order_id"].(string); ok {
		o.OrderID = v
	}
	if v, ok := raw["product"].(string); ok {
		o.Product = v
	}
	switch v := raw["quantity"].(type) {
	case float64:
		o.Quantity = int(v)
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("order %q: invalid quantity %q", o.OrderID, v)
		}
		o.Quantity = n
	}

	delete(raw, "order_id")
	delete(raw, "product")
	delete(raw, "quantity")
	if len(raw) > 0 {
		o.Metadata = raw
	}
	return nil
}

// Clone returns a deep copy of the order
func (o Order) Clone() Order {
	o.Metadata = maps.Clone(o.Metadata)
	return o
}

// Clone returns a copy that shares nothing with s. A nil schedule clones to an empty one.
func (s Schedule) Clone() Schedule {
	out := make(Schedule, len(s))
	for i, o := range s {
		out[i] = o.Clone()
	}
	return out
}

// Find returns the order with the given id
func (s Schedule) Find(orderID string) (Order, bool) {
	for _, o := range s {
		if o.OrderID == orderID {
			return o, true
		}
	}
	return Order{}, false
}

// Without returns a copy of s with every entry for orderID removed,
// and whether anything was removed.
func (s Schedule) Without(orderID string) (Schedule, bool) {
	out := make(Schedule, 0, len(s))
	removed := false
	for _, o := range s {
		if o.OrderID == orderID {
			removed = true
			continue
		}
		out = append(out, o.Clone())
	}
	return out, removed
}

// Text renders the schedule as indented JSON
func (s Schedule) Text() string {
	if s == nil {
		s = Schedule{}
	}
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "[]"
	}
	return string(b)
}

// NextOrderID derives the id following the last schedule entry.
// An empty schedule or a last id that is not PREFIX-NNN yields ORD-001.
func NextOrderID(schedule Schedule) string {
	if len(schedule) == 0 {
		return firstOrderID
	}
	last := schedule[len(schedule)-1].OrderID
	parts := strings.Split(last, "-")
	if len(parts) != 2 {
		return firstOrderID
	}
	n, err := strconv.Atoi(parts[1])
	if err != nil {
		return firstOrderID
	}
	return fmt.Sprintf("%s-%03d", parts[0], n+1)
}
