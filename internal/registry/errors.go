package registry

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrVendorNotFound is returned when updating a rate card that does not exist.
	ErrVendorNotFound = errors.New("vendor not found")

	// ErrNotCAStore marks bulk Spark entries for stores outside the allowlist.
	ErrNotCAStore = errors.New("not a CA store")
)

// FieldError reports an invalid value in a store update.
type FieldError struct {
	StoreID string
	Field   string
	Value   any
	Reason  string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("store %s: invalid %s %v: %s", e.StoreID, e.Field, e.Value, e.Reason)
}

// InvalidRateError reports a rate card field that is negative or not finite.
// No part of the table is persisted when it is returned.
type InvalidRateError struct {
	Vendor string
	Field  string
	Value  float64
}

func (e *InvalidRateError) Error() string {
	return fmt.Sprintf("Invalid %s for vendor %s: %v", e.Field, e.Vendor, e.Value)
}

// SchemaError reports an on-disk registry document that does not match its schema.
type SchemaError struct {
	Path     string
	Problems []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s: schema validation failed: %s", e.Path, strings.Join(e.Problems, "; "))
}

func notCAStore(storeID string) error {
	return fmt.Errorf("Store %s is %w", storeID, ErrNotCAStore)
}
