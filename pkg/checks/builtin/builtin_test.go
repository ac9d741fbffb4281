package builtin

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRegistry(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []string{
		"cpu",
		"host_alive",
		"http_check",
		"jenkins",
		"load",
		"memory",
		"redisdb",
		"sqlite",
	}, NewRegistry().Names())
}
