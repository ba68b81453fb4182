package async

import (
	"runtime/debug"

	"github.com/sirupsen/logrus"
)

type PanicHandler interface {
	HandlePanic(any)
}

// NoopPanicHandler swallows panics.
type NoopPanicHandler struct{}

func (n NoopPanicHandler) HandlePanic(any) {}

// LogPanicHandler logs panics together with the stack of the panicking goroutine.
type LogPanicHandler struct{}

func (LogPanicHandler) HandlePanic(r any) {
	logrus.WithField("panic", r).WithField("stack", string(debug.Stack())).Error("Recovered from panic")
}

// HandlePanic must be deferred. It recovers a panic and passes it to the handler; a nil handler lets the
// panic through.
func HandlePanic(panicHandler PanicHandler) {
	if panicHandler == nil {
		return
	}

	if r := recover(); r != nil {
		panicHandler.HandlePanic(r)
	}
}
