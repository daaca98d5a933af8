package xid

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestNewIsPrefixedAndUnique(t *testing.T) {
	a := New("sale")
	b := New("sale")

	require.True(t, strings.HasPrefix(a, "sale-"))
	require.NotEqual(t, a, b)

	_, err := uuid.Parse(strings.TrimPrefix(a, "sale-"))
	require.NoError(t, err)
}
