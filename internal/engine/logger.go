package engine

import (
	"fmt"

	logx "databay/pkg/logx"
)

// cronLogger bridges robfig/cron's logr-style logger onto logx.
type cronLogger struct {
	log logx.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	// cron logs every wake/run at info; that is debug noise here.
	l.log.Trace("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	fields := append(kvFields(keysAndValues), logx.Err(err))
	l.log.Error("cron: "+msg, fields...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
