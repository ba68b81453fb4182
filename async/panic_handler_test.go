package async

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type recordHandler struct {
	values []any
}

func (h *recordHandler) HandlePanic(r any) {
	h.values = append(h.values, r)
}

func TestPanicHandler(t *testing.T) {
	handler := &recordHandler{}

	require.NotPanics(t, func() {
		defer HandlePanic(handler)
		panic("there")
	})

	require.Equal(t, []any{"there"}, handler.values)

	require.NotPanics(t, func() {
		defer HandlePanic(NoopPanicHandler{})
		panic("where")
	})

	require.NotPanics(t, func() {
		defer HandlePanic(LogPanicHandler{})
		panic("anywhere")
	})

	require.PanicsWithValue(t, "everywhere", func() {
		defer HandlePanic(nil)
		panic("everywhere")
	})

	require.NotPanics(t, func() {
		defer HandlePanic(handler)
	})

	require.Len(t, handler.values, 1)
}
