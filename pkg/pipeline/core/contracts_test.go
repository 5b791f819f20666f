package core_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/eloisaabril01/emailscrap/pkg/pipeline/core"
)

func TestTransientErrorUnwraps(t *testing.T) {
	base := errors.New("connection reset")
	err := error(&core.TransientError{Err: base})
	assert.ErrorIs(t, err, base)
	assert.Equal(t, "connection reset", err.Error())
	assert.Equal(t, "transient error", (&core.TransientError{}).Error())
}

func TestLimitedTransientError(t *testing.T) {
	err := &core.LimitedTransientError{Err: errors.New("slow"), ExtraRetries: 2}
	assert.Equal(t, 2, err.MaxExtraRetries())
	assert.Equal(t, "slow", err.Error())
	var nilErr *core.LimitedTransientError
	assert.Equal(t, 0, nilErr.MaxExtraRetries())
}
