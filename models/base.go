package models

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/mmdatafocus/retail_backend/config"
	"github.com/mmdatafocus/retail_backend/policy"
	"github.com/mmdatafocus/retail_backend/utils"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("github.com/mmdatafocus/retail_backend/models")

// tenantContext binds the caller's tenant and user to ctx, so the tenant guard
// scopes every statement of the operation, and makes sure a correlation id is set.
func tenantContext(ctx context.Context, identity policy.Identity) context.Context {
	ctx = utils.SetBusinessIdInContext(ctx, identity.BusinessId)
	ctx = utils.SetUserIdInContext(ctx, identity.UserId)
	if _, ok := utils.GetCorrelationIdFromContext(ctx); !ok {
		ctx = utils.SetCorrelationIdInContext(ctx, uuid.NewString())
	}
	return ctx
}

func correlationIdFromContextOrNew(ctx context.Context) string {
	if v, ok := utils.GetCorrelationIdFromContext(ctx); ok && v != "" {
		return v
	}
	return uuid.NewString()
}

// startOperation opens the span of a ledger operation and binds the tenant.
func startOperation(ctx context.Context, name string, identity policy.Identity) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("business_id", identity.BusinessId),
		attribute.Int("user_id", identity.UserId),
	))
	return tenantContext(ctx, identity), span
}

// failOperation classifies err, mirrors it to the error log and marks the span.
// The returned error is what the caller sees.
func failOperation(ctx context.Context, span trace.Span, identity policy.Identity, operation string, metadata map[string]any, err error) error {
	appErr := utils.AsAppError(err)
	span.RecordError(err)
	span.SetStatus(codes.Error, appErr.Message)

	meta := map[string]any{
		"business_id": identity.BusinessId,
		"user_id":     identity.UserId,
	}
	for k, v := range metadata {
		meta[k] = v
	}
	for k, v := range appErr.Metadata {
		meta[k] = v
	}
	MirrorError(ctx, operation, meta, appErr)
	if appErr.Kind == utils.KindInternal {
		config.LogError(config.GetLogger(), "models", operation, "unclassified failure", nil, err)
	}
	return appErr
}

// readDB returns the database bound to ctx for reads outside a transaction.
func readDB(ctx context.Context) (*gorm.DB, error) {
	db := config.GetDB()
	if db == nil {
		return nil, errors.New("database is not connected")
	}
	return db.WithContext(ctx), nil
}
