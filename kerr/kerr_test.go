package kerr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOk(t *testing.T) {
	require.True(t, Err_t(0).Ok(), "zero value should be Ok")
	require.False(t, ENOMEM.Ok(), "ENOMEM should not be Ok")
}

func TestStringTakesAbsoluteValue(t *testing.T) {
	require.Equal(t, ENOMEM.String(), (-ENOMEM).String(), "String() should ignore sign")
	require.Equal(t, "ENOMEM", ENOMEM.String())
}

func TestStringUnknown(t *testing.T) {
	require.Equal(t, "EUNKNOWN", Err_t(999).String(), "expected EUNKNOWN for an unregistered code")
}
