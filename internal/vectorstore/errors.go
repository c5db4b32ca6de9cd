package vectorstore

import (
	"errors"
	"fmt"

	"github.com/samber/oops"
)

// Sentinel errors. Every error returned by Store wraps exactly one of them and carries
// the matching oops code, so callers can use either errors.Is or CodeOf.
var (
	ErrDimensionMismatch  = errors.New("dimension mismatch")
	ErrDegenerateVector   = errors.New("degenerate vector")
	ErrNotFound           = errors.New("not found")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrInvalidID          = errors.New("invalid id")
)

// Error codes attached with oops.
const (
	CodeDimensionMismatch  = "vectorstore.dimension_mismatch"
	CodeDegenerateVector   = "vectorstore.degenerate_vector"
	CodeNotFound           = "vectorstore.not_found"
	CodeStorageUnavailable = "vectorstore.storage_unavailable"
	CodeInvalidID          = "vectorstore.invalid_id"
	CodeInternal           = "vectorstore.internal"
)

// CodeOf returns the oops code carried by err, or "" when err is nil or was not
// produced with a code.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok || oopsErr.Code() == nil {
		return ""
	}
	if code, ok := oopsErr.Code().(string); ok {
		return code
	}
	return fmt.Sprint(oopsErr.Code())
}

func dimensionError(got, want int, id string) error {
	if id != "" {
		return oops.Code(CodeDimensionMismatch).With("id", id, "got", got, "want", want).
			Wrapf(ErrDimensionMismatch, "embedding %q has length %d, want %d", id, got, want)
	}
	return oops.Code(CodeDimensionMismatch).With("got", got, "want", want).
		Wrapf(ErrDimensionMismatch, "vector has length %d, want %d", got, want)
}

func degenerateError(id string) error {
	if id != "" {
		return oops.Code(CodeDegenerateVector).With("id", id).
			Wrapf(ErrDegenerateVector, "embedding %q has zero or non-finite norm", id)
	}
	return oops.Code(CodeDegenerateVector).Wrapf(ErrDegenerateVector, "vector has zero or non-finite norm")
}

func invalidIDError(id string, cause error) error {
	return oops.Code(CodeInvalidID).With("id", id).Wrap(fmt.Errorf("%w: %w", ErrInvalidID, cause))
}

func notFoundError(id string) error {
	return oops.Code(CodeNotFound).With("id", id).Wrapf(ErrNotFound, "bottle %q", id)
}

func storageError(op string, cause error) error {
	if cause == nil {
		cause = errors.New("no storage backend configured")
	}
	return oops.Code(CodeStorageUnavailable).With("op", op).Wrap(fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, cause))
}

func internalError(op string, cause error) error {
	return oops.Code(CodeInternal).With("op", op).Wrapf(cause, "%s", op)
}
