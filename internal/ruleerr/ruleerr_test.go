package ruleerr

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusHints(t *testing.T) {
	cases := map[Kind]int{
		KindNotFound:           404,
		KindValidation:         400,
		KindConflict:           409,
		KindBadRequest:         400,
		KindServiceUnavailable: 503,
		KindInternal:           500,
	}
	for kind, want := range cases {
		assert.Equal(t, want, kind.StatusHint())
	}
}

func TestIsUnwrapsWrappedError(t *testing.T) {
	base := NotFound("rule not found", map[string]string{"id": "r1"})
	wrapped := fmt.Errorf("lookup failed: %w", base)

	assert.True(t, Is(wrapped, KindNotFound))
	assert.False(t, Is(wrapped, KindConflict))
	assert.False(t, Is(fmt.Errorf("plain"), KindNotFound))
}

func TestErrorMessageIncludesCause(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := ServiceUnavailable("storage write failed", cause)

	assert.Contains(t, err.Error(), "ServiceUnavailable")
	assert.Contains(t, err.Error(), "disk full")
	assert.ErrorIs(t, err, cause)
}
