package logger

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	for _, dev := range []bool{true, false} {
		log, err := New(dev, "pickup-api")
		require.NoError(t, err)
		require.NotNil(t, log)
	}
}
