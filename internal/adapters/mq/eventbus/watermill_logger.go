package eventbus

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/nikhlu07/Credo/pkg/logger"
)

// watermillLogger forwards watermill's logs to logger.Logger. Trace goes to debug.
type watermillLogger struct {
	log    logger.Logger
	fields watermill.LogFields
}

func newWatermillLogger(l logger.Logger) watermill.LoggerAdapter {
	return &watermillLogger{log: l.Named("watermill")}
}

func (w *watermillLogger) convert(fields watermill.LogFields) []logger.Field {
	merged := w.fields.Add(fields)
	out := make([]logger.Field, 0, len(merged))
	for k, v := range merged {
		out = append(out, logger.Any(k, v))
	}
	return out
}

func (w *watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	w.log.Error(context.Background(), msg, append(w.convert(fields), logger.Error(err))...)
}

func (w *watermillLogger) Info(msg string, fields watermill.LogFields) {
	w.log.Info(context.Background(), msg, w.convert(fields)...)
}

func (w *watermillLogger) Debug(msg string, fields watermill.LogFields) {
	w.log.Debug(context.Background(), msg, w.convert(fields)...)
}

func (w *watermillLogger) Trace(msg string, fields watermill.LogFields) {
	w.log.Debug(context.Background(), msg, w.convert(fields)...)
}

func (w *watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &watermillLogger{log: w.log, fields: w.fields.Add(fields)}
}
