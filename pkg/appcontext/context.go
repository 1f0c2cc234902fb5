package appcontext

import (
	"context"

	"github.com/sirupsen/logrus"
)

type contextId int

const (
	jobIdKeyId contextId = iota
	recordIdKeyId
	requestIdKeyId
)

func WithRequestId(ctx context.Context, requestId string) context.Context {
	return context.WithValue(ctx, requestIdKeyId, requestId)
}

func WithRecordId(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, recordIdKeyId, id)
}

func WithJobId(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, jobIdKeyId, id)
}

func RequestId(ctx context.Context) string {
	id, _ := ctx.Value(requestIdKeyId).(string)
	return id
}

func LoggerFromContext(logger logrus.FieldLogger, ctx context.Context) logrus.FieldLogger {
	if ctx == nil {
		return logger
	}

	result := logger

	if ctxJobId, ok := ctx.Value(jobIdKeyId).(int64); ok && ctxJobId != 0 {
		result = result.WithField("job_id", ctxJobId)
	}

	if ctxRecordId, ok := ctx.Value(recordIdKeyId).(int64); ok && ctxRecordId != 0 {
		result = result.WithField("record_id", ctxRecordId)
	}

	if ctxRequestId, ok := ctx.Value(requestIdKeyId).(string); ok && ctxRequestId != "" {
		result = result.WithField("request_id", ctxRequestId)
	}

	return result
}
