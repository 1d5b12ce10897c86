package version

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFull(t *testing.T) {
	full := Full()
	require.Contains(t, full, "openquest")
	require.Contains(t, full, Version)
	require.Contains(t, full, Commit)
}
