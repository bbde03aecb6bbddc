package domain

// AssignRequest asks for one order to be reserved on one machine
type AssignRequest struct {
	Product  string `json:"product"`
	Quantity int    `json:"quantity"`
	Machine  string `json:"machine"`
	OrderID  string `json:"order_id"`
}

// AssignResult is the structured outcome of an assignment.
// On failure only Success, Message, Reason and Shortfalls are set.
type AssignResult struct {
	Success         bool              `json:"success"`
	Message         string            `json:"message"`
	Reason          ReservationReason `json:"reason,omitempty"`
	Shortfalls      []Shortfall       `json:"shortfalls,omitempty"`
	OrderID         string            `json:"order_id,omitempty"`
	Machine         string            `json:"machine,omitempty"`
	DurationSeconds int               `json:"duration_seconds,omitempty"`
	Inventory       Inventory         `json:"inventory,omitempty"`
	Schedule        Schedule          `json:"schedule,omitempty"`
}

// FailedAssignment converts a reservation failure into a result
func FailedAssignment(orderID string, rerr *ReservationError) *AssignResult {
	return &AssignResult{
		Success:    false,
		Message:    rerr.Message,
		Reason:     rerr.Reason,
		Shortfalls: rerr.Shortfalls,
		OrderID:    orderID,
	}
}

// MaterialNeed is one material line of a resource report
type MaterialNeed struct {
	Material        string  `json:"material_name"`
	QuantityPerUnit float64 `json:"quantity_per_unit"`
	StockRemaining  float64 `json:"stock_remaining"`
}

// ProductResources lists what a product consumes, or why it cannot be reported
type ProductResources struct {
	Product         string         `json:"product_name"`
	MaterialsNeeded []MaterialNeed `json:"materials_needed,omitempty"`
	Error           string         `json:"error,omitempty"`
}

// ResourceReport answers which machines are idle and what products need
type ResourceReport struct {
	IdleMachines []string           `json:"idle_machines"`
	Products     []ProductResources `json:"products"`
}
