package fake

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"seatwatch/internal/models"
)

func TestFakeClient_Deterministic(t *testing.T) {
	c := New()
	ctx := context.Background()

	a, err := c.Lookup(ctx, "12345")
	require.NoError(t, err)
	b, err := c.Lookup(ctx, "12345")
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.Equal(t, "12345", a.ClassNumber)
	require.Contains(t, []string{models.SeatStatusOpen, models.SeatStatusClosed}, a.SeatStatus)
}

func TestFakeClient_SomeClassesOpen(t *testing.T) {
	c := New()
	ctx := context.Background()

	open := 0
	for i := 0; i < 100; i++ {
		st, err := c.Lookup(ctx, string(rune('A'+i%26))+string(rune('0'+i%10)))
		require.NoError(t, err)
		if st.SeatStatus == models.SeatStatusOpen {
			open++
		}
	}
	require.Greater(t, open, 0)
	require.Less(t, open, 100)
}
