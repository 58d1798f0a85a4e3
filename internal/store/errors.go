package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/lib/pq"
)

// Error classes per the pipeline taxonomy. Transient failures are worth
// retrying; permanent ones (constraint or data defects) are not.
const (
	ClassTransient = "transient"
	ClassPermanent = "permanent"
)

// ErrMixedBucket marks a snapshot batch whose rows span more than one
// aligned time. That is a programmer error at the call site, never a
// reason to retry.
var ErrMixedBucket = errors.New("snapshot batch spans multiple aligned times")

// StoreError is the typed failure every gateway method returns. Class is
// one of ClassTransient or ClassPermanent.
type StoreError struct {
	Op    string
	Class string
	Err   error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %s: %v", e.Op, e.Class, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Transient reports whether a retry of the same operation could succeed.
func (e *StoreError) Transient() bool { return e.Class == ClassTransient }

// IsTransient classifies any error from the gateway. Unknown errors
// default to transient so the retry loop, not the classifier, bounds the
// damage.
func IsTransient(err error) bool {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Transient()
	}
	return true
}

// wrap turns a raw database error into a StoreError with the taxonomy
// class. nil passes through.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Class: classify(err), Err: err}
}

// classify maps driver errors to the taxonomy. Postgres error classes:
// integrity (23), data (22), and syntax/undefined-object (42) failures
// are defects in the rows or the schema and retrying cannot help;
// connection (08), resources (53), operator intervention (57), system
// (58), serialization (40), and lock (55) classes are expected to clear.
func classify(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "22", "23", "42":
			return ClassPermanent
		case "08", "40", "53", "55", "57", "58":
			return ClassTransient
		default:
			return ClassTransient
		}
	}
	if errors.Is(err, ErrMixedBucket) {
		return ClassPermanent
	}
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return ClassTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassTransient
	}
	return ClassTransient
}
