package observability

import (
	"context"
	"errors"

	"github.com/couchcryptid/nightlight-qc/internal/domain"
	"github.com/couchcryptid/nightlight-qc/internal/raster"
)

// ErrorClass is the metric label for a failed scene.
type ErrorClass string

const (
	ClassSceneUnreadable ErrorClass = "scene_unreadable"
	ClassSchemaMismatch  ErrorClass = "schema_mismatch"
	ClassShapeMismatch   ErrorClass = "shape_mismatch"
	ClassBadRequest      ErrorClass = "bad_request"
	ClassCanceled        ErrorClass = "canceled"
	ClassUnknown         ErrorClass = "unknown"
)

// Classify maps an assessment error onto a small, fixed label set.
// Only sentinels are inspected; messages are never matched.
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ClassUnknown
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ClassCanceled
	case errors.Is(err, raster.ErrSceneUnreadable):
		return ClassSceneUnreadable
	case errors.Is(err, domain.ErrSchemaMismatch):
		return ClassSchemaMismatch
	case errors.Is(err, domain.ErrShapeMismatch):
		return ClassShapeMismatch
	case errors.Is(err, domain.ErrBadRequest), errors.Is(err, domain.ErrUnknownVariant):
		return ClassBadRequest
	default:
		return ClassUnknown
	}
}
