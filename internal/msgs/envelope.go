// Package msgs defines the JSON messages the croncat contracts exchange.
// Every execute and query message is an externally tagged envelope: a
// struct of optional variant pointers of which exactly one is set, encoded
// as {"variant_name":{...}}.
package msgs

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
)

var ErrUnknownVariant = errors.New("unknown message variant")

// Empty is the body of variants without fields, encoded as {}.
type Empty struct{}

// Decode unmarshals raw into dst and checks exactly one variant is set.
// Unknown variants and unknown fields are rejected.
func Decode(raw []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", ErrUnknownVariant, err)
	}
	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Pointer || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("decode target must be a pointer to a struct, got %T", dst)
	}
	v = v.Elem()
	set := 0
	for i := 0; i < v.NumField(); i++ {
		f := v.Field(i)
		if f.Kind() == reflect.Pointer && !f.IsNil() {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("%w: want exactly one variant, got %d", ErrUnknownVariant, set)
	}
	return nil
}

// PageQuery is the common pagination pair. FromIndex counts entries to
// skip; Limit defaults per contract.
type PageQuery struct {
	FromIndex *uint64 `json:"from_index,omitempty"`
	Limit     *uint64 `json:"limit,omitempty"`
}

// Page resolves the offset and limit, capping limit at max.
func (p *PageQuery) Page(defaultLimit, max uint64) (from, limit uint64) {
	limit = defaultLimit
	if p == nil {
		return 0, limit
	}
	if p.FromIndex != nil {
		from = *p.FromIndex
	}
	if p.Limit != nil && *p.Limit > 0 {
		limit = *p.Limit
	}
	if limit > max {
		limit = max
	}
	return from, limit
}

// TaskHashMsg addresses a single task.
type TaskHashMsg struct {
	TaskHash string `json:"task_hash"`
}

// Ptr returns a pointer to v, for filling optional message fields.
func Ptr[T any](v T) *T { return &v }
