// Package klog is the kernel's logging front door. Biscuit writes
// everything straight to its console with fmt.Printf; this simulation
// keeps a console-like unadorned text format but routes it through
// logrus so each subsystem (scheduler, vm, process) tags its lines and
// panics are logged before they unwind, the way a real panic message is
// printed to the console before the kernel halts.
package klog

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

var root = newRoot()

func newRoot() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp: false,
		FullTimestamp:    true,
	})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// SetLevel adjusts the root logger's verbosity, e.g. logrus.DebugLevel to
// trace scheduling decisions during development.
func SetLevel(lvl logrus.Level) {
	root.SetLevel(lvl)
}

// For returns a child logger tagged with the given subsystem name, e.g.
// klog.For("sched") or klog.For("vm").
func For(subsys string) *logrus.Entry {
	return root.WithField("subsys", subsys)
}

// Bootf logs a boot-sequence message at info level, mirroring Biscuit's
// main()'s unconditional fmt.Printf boot banner lines.
func Bootf(format string, args ...interface{}) {
	root.WithField("subsys", "boot").Infof(format, args...)
}

// Panicf logs a fatal message and then panics, matching the kernel's
// "print the invariant violation, then die" discipline for programmer
// invariant violations and resource exhaustion (spec.md §7).
func Panicf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	root.WithField("subsys", "panic").Error(msg)
	panic(msg)
}
