package memory_test

import (
	"testing"

	"github.com/meigma/bundle/internal/storetest"
	"github.com/meigma/bundle/store"
	"github.com/meigma/bundle/store/memory"
)

func TestStoreConformance(t *testing.T) {
	t.Parallel()

	storetest.Run(t, func(*testing.T) store.Store {
		return memory.New()
	})
}
