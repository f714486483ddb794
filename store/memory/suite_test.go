package memory_test

import (
	"testing"

	"github.com/xraph/taskq/store"
	"github.com/xraph/taskq/store/memory"
	"github.com/xraph/taskq/store/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(*testing.T) store.Store { return memory.New() })
}
