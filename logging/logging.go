// Package logging annotates background jobs with pprof labels, so that their goroutines can be told apart in
// profiles and their log lines carry the same fields.
package logging

import (
	"context"
	"fmt"
	"runtime"
	"runtime/pprof"
	"strconv"

	"github.com/sirupsen/logrus"
)

type Labels map[string]any

// GoAnnotated runs fn in a new goroutine whose context carries the labels and the location of the caller.
func GoAnnotated(ctx context.Context, fn func(context.Context), labels ...Labels) {
	go pprof.Do(ctx, getLabels(labels...), fn)
}

// DoAnnotated is like GoAnnotated but runs fn in the calling goroutine.
func DoAnnotated(ctx context.Context, fn func(context.Context), labels ...Labels) {
	pprof.Do(ctx, getLabels(labels...), fn)
}

// Entry returns a log entry with the labels of the context as fields. The caller location is left out.
func Entry(ctx context.Context) *logrus.Entry {
	fields := logrus.Fields{}

	pprof.ForLabels(ctx, func(key, value string) bool {
		switch key {
		case "fn", "file", "line":
		default:
			fields[key] = value
		}

		return true
	})

	return logrus.WithContext(ctx).WithFields(fields)
}

func getLabels(labels ...Labels) pprof.LabelSet {
	pc, file, line, ok := runtime.Caller(2)
	if !ok {
		panic("failed to get caller's stack frame")
	}

	set := []string{"fn", runtime.FuncForPC(pc).Name(), "file", file, "line", strconv.Itoa(line)}

	for _, labels := range labels {
		for key, val := range labels {
			set = append(set, key, fmt.Sprintf("%v", val))
		}
	}

	return pprof.Labels(set...)
}
