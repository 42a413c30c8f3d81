package metrics

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResult(t *testing.T) {
	errStock := errors.New("stock")
	classify := func(err error) string {
		if errors.Is(err, errStock) {
			return "insufficient_stock"
		}
		return ""
	}

	assert.Equal(t, "ok", Result(nil, classify))
	assert.Equal(t, "insufficient_stock", Result(errStock, classify))
	assert.Equal(t, "error", Result(errors.New("boom"), classify))
	assert.Equal(t, "error", Result(errors.New("boom"), nil))
}
