// Package domain provides the factory entities, domain level errors & helper
// structs shared by the services and adapters.
package domain

import (
	"fmt"
	"strings"
)

type MachineState string

const (
	MachineIdle MachineState = "IDLE"
	MachineBusy MachineState = "BUSY"
)

const machinePrefix = "machine_"

// Code returns the persisted encoding of the state: 1 for idle, 0 for busy
func (s MachineState) Code() int {
	if s == MachineBusy {
		return 0
	}
	return 1
}

// MachineStateFromCode decodes the persisted 0|1 machine encoding
func MachineStateFromCode(code int) (MachineState, error) {
	switch code {
	case 0:
		return MachineBusy, nil
	case 1:
		return MachineIdle, nil
	default:
		return "", fmt.Errorf("invalid machine state code %d", code)
	}
}

// NormalizeMachine canonicalizes a machine identifier.
// A single letter "a" becomes "machine_a", "Machine_B " becomes "machine_b".
func NormalizeMachine(id string) (string, error) {
	token := strings.ToLower(strings.TrimSpace(id))
	if len(token) == 1 && token[0] >= 'a' && token[0] <= 'z' {
		return machinePrefix + token, nil
	}
	if strings.HasPrefix(token, machinePrefix) && len(token) > len(machinePrefix) {
		return token, nil
	}
	return "", &ReservationError{
		Reason:  ReasonUnknownMachine,
		Message: fmt.Sprintf("Unsupported machine identifier: %s", id),
	}
}
