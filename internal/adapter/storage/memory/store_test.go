package memory

import (
	"testing"

	"github.com/crabzie/factory-runtime/internal/adapter/storage/storetest"
	"github.com/crabzie/factory-runtime/internal/core/port"
)

func TestResourceStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) port.ResourceStore {
		return NewResourceStore()
	})
}
