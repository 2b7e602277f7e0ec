package logger

import (
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

// wrapperPackages are skipped when resolving the caller of a log call.
var wrapperPackages = []string{
	"github.com/sirupsen/logrus",
	"marketpipe/logger.",
}

// callerHook points entry.Caller at the first frame outside logrus and
// the wrappers in this package.
type callerHook struct{}

func (h *callerHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *callerHook) Fire(entry *logrus.Entry) error {
	var pcs [24]uintptr
	n := runtime.Callers(4, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if !isWrapperFrame(frame.Function) {
			entry.Caller = &frame
			return nil
		}
		if !more {
			return nil
		}
	}
}

func isWrapperFrame(fn string) bool {
	if fn == "" || strings.HasPrefix(fn, "runtime.") {
		return true
	}
	for _, pkg := range wrapperPackages {
		if strings.HasPrefix(fn, pkg) {
			return true
		}
	}
	return false
}
