package reporter

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type recorder struct {
	messages   []string
	exceptions []any
	err        error
}

func (r *recorder) ReportException(info any) error {
	return r.ReportExceptionWithContext(info, nil)
}

func (r *recorder) ReportMessage(message string) error {
	return r.ReportMessageWithContext(message, nil)
}

func (r *recorder) ReportMessageWithContext(message string, _ Context) error {
	r.messages = append(r.messages, message)
	return r.err
}

func (r *recorder) ReportExceptionWithContext(info any, _ Context) error {
	r.exceptions = append(r.exceptions, info)
	return r.err
}

func TestReportWithoutReporter(t *testing.T) {
	_, ok := GetReporterFromContext(context.Background())
	require.False(t, ok)

	MessageWithContext(context.Background(), "ignored", nil)
	ExceptionWithContext(context.Background(), "ignored", nil)
}

func TestReportWithReporter(t *testing.T) {
	rec := &recorder{}
	ctx := NewContextWithReporter(context.Background(), rec)

	MessageWithContext(ctx, "drift", Context{"mailbox": "x"})
	ExceptionWithContext(ctx, "failure", nil)

	require.Equal(t, []string{"drift"}, rec.messages)
	require.Equal(t, []any{"failure"}, rec.exceptions)

	// A failing reporter is only logged.
	rec.err = errors.New("unreachable")
	MessageWithContext(ctx, "again", nil)
	require.Len(t, rec.messages, 2)
}

func TestNilReporterIsAbsent(t *testing.T) {
	ctx := NewContextWithReporter(context.Background(), nil)

	_, ok := GetReporterFromContext(ctx)
	require.False(t, ok)
}

func TestLogReporter(t *testing.T) {
	var rep Reporter = LogReporter{}

	require.NoError(t, rep.ReportMessage("message"))
	require.NoError(t, rep.ReportException("exception"))
	require.NoError(t, rep.ReportMessageWithContext("message", Context{"k": 1}))
}
