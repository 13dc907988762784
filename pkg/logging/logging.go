// Package logging centralises dexchaind's structured logging conventions on
// top of logrus, matching the field-tagged logging style already used
// throughout the node (component, block_num, trx_id).
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the shared entry point; components derive scoped loggers from
// it via Component, Block and Trx rather than constructing their own
// logrus.Logger.
var Logger = newBase()

func newBase() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// SetLevel parses and applies a textual log level ("debug", "info", "warn",
// "error"); unknown levels are ignored, leaving the current level intact.
func SetLevel(level string) {
	if lvl, err := logrus.ParseLevel(level); err == nil {
		Logger.SetLevel(lvl)
	}
}

// Component returns a logger scoped to a named subsystem, e.g.
// logging.Component("market").
func Component(name string) *logrus.Entry {
	return Logger.WithField("component", name)
}

// Block returns a logger scoped to a subsystem and a specific block number,
// mirroring the teacher's logrus.WithFields({"parent": ..., "height": ...})
// usage in the fork manager.
func Block(name string, blockNum uint64) *logrus.Entry {
	return Logger.WithFields(logrus.Fields{"component": name, "block_num": blockNum})
}

// Trx returns a logger scoped to a subsystem and a transaction id.
func Trx(name string, trxID string) *logrus.Entry {
	return Logger.WithFields(logrus.Fields{"component": name, "trx_id": trxID})
}
