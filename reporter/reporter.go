// Package reporter forwards partial failures and inconsistencies found by the store to an external reporting
// tool. The reporter travels in the context of the failing call.
package reporter

import (
	"context"

	"github.com/sirupsen/logrus"
)

type Context = map[string]any

// Reporter represents an external reporting tool which can be hooked into the store to report key information and/or
// unexpected behaviors.
type Reporter interface {
	ReportException(any) error
	ReportMessage(string) error
	ReportMessageWithContext(string, Context) error
	ReportExceptionWithContext(any, Context) error
}

type reporterKeyType struct{}

var reporterKeyVal reporterKeyType

func NewContextWithReporter(ctx context.Context, reporter Reporter) context.Context {
	return context.WithValue(ctx, reporterKeyVal, reporter)
}

func GetReporterFromContext(ctx context.Context) (Reporter, bool) {
	rep, ok := ctx.Value(reporterKeyVal).(Reporter)

	return rep, ok && rep != nil
}

// MessageWithContext reports a message to the reporter of the context, if any.
func MessageWithContext(ctx context.Context, message string, context Context) {
	report(ctx, func(rep Reporter) error { return rep.ReportMessageWithContext(message, context) })
}

// ExceptionWithContext reports a failure to the reporter of the context, if any.
func ExceptionWithContext(ctx context.Context, message string, context Context) {
	report(ctx, func(rep Reporter) error { return rep.ReportExceptionWithContext(message, context) })
}

func report(ctx context.Context, fn func(Reporter) error) {
	rep, ok := GetReporterFromContext(ctx)
	if !ok {
		return
	}

	if err := fn(rep); err != nil {
		logrus.WithError(err).Error("Failed to report message")
	}
}

type NullReporter struct{}

func (*NullReporter) ReportException(any) error { return nil }
func (*NullReporter) ReportMessage(string) error { return nil }
func (*NullReporter) ReportMessageWithContext(string, Context) error { return nil }
func (*NullReporter) ReportExceptionWithContext(any, Context) error { return nil }

// LogReporter writes reports to the standard logger, for tools without a reporting backend.
type LogReporter struct{}

func (LogReporter) ReportException(info any) error {
	return LogReporter{}.ReportExceptionWithContext(info, nil)
}

func (LogReporter) ReportMessage(message string) error {
	return LogReporter{}.ReportMessageWithContext(message, nil)
}

func (LogReporter) ReportMessageWithContext(message string, context Context) error {
	logrus.WithFields(context).Warn(message)
	return nil
}

func (LogReporter) ReportExceptionWithContext(info any, context Context) error {
	logrus.WithFields(context).WithField("exception", info).Error("Reported exception")
	return nil
}
