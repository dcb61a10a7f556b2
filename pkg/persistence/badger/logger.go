package badger

import (
	"fmt"
	"strings"

	badgerdb "github.com/dgraph-io/badger/v3"
	"go.uber.org/zap"
)

// storeLogger routes badger's internal logging into the snapshot store's zap logger.
// Badger reports compactions and flushes at info level; those are demoted to debug so a
// build run's log stays about the run.
type storeLogger struct {
	sugar *zap.SugaredLogger
}

var _ badgerdb.Logger = (*storeLogger)(nil)

func newStoreLogger(logger *zap.Logger, dataPath string) *storeLogger {
	return &storeLogger{
		sugar: logger.With(zap.String("component", "badger"), zap.String("dataPath", dataPath)).Sugar(),
	}
}

func message(format string, args []interface{}) string {
	return strings.TrimRight(fmt.Sprintf(format, args...), "\n")
}

func (l *storeLogger) Errorf(format string, args ...interface{}) {
	l.sugar.Error(message(format, args))
}

func (l *storeLogger) Warningf(format string, args ...interface{}) {
	l.sugar.Warn(message(format, args))
}

func (l *storeLogger) Infof(format string, args ...interface{}) {
	l.sugar.Debug(message(format, args))
}

func (l *storeLogger) Debugf(format string, args ...interface{}) {
	l.sugar.Debug(message(format, args))
}
