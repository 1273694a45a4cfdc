// Package valuepath reads and writes values inside JSON documents by a
// path of object keys and array indexes.
package valuepath

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/buger/jsonparser"
)

var ErrInvalidPath = errors.New("invalid value path")

// Index is one path step: {"key":"name"} or {"index":3}.
type Index struct {
	Key   *string `json:"key,omitempty"`
	Index *uint64 `json:"index,omitempty"`
}

func Key(k string) Index { return Index{Key: &k} }
func At(i uint64) Index  { return Index{Index: &i} }

// Path addresses a value from the document root.
type Path []Index

func (p Path) String() string {
	out := "$"
	for _, step := range p {
		switch {
		case step.Key != nil:
			out += "." + *step.Key
		case step.Index != nil:
			out += "[" + strconv.FormatUint(*step.Index, 10) + "]"
		}
	}
	return out
}

func (p Path) keys() ([]string, error) {
	keys := make([]string, 0, len(p))
	for i, step := range p {
		switch {
		case step.Key != nil && step.Index == nil:
			keys = append(keys, *step.Key)
		case step.Index != nil && step.Key == nil:
			keys = append(keys, "["+strconv.FormatUint(*step.Index, 10)+"]")
		default:
			return nil, fmt.Errorf("%w: step %d must set exactly one of key or index", ErrInvalidPath, i)
		}
	}
	return keys, nil
}

// Get returns the raw JSON found at p in doc.
func Get(doc []byte, p Path) (json.RawMessage, error) {
	keys, err := p.keys()
	if err != nil {
		return nil, err
	}
	value, typ, _, err := jsonparser.Get(doc, keys...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPath, p, err)
	}
	if typ == jsonparser.String {
		quoted := make([]byte, 0, len(value)+2)
		quoted = append(quoted, '"')
		quoted = append(quoted, value...)
		return append(quoted, '"'), nil
	}
	return value, nil
}

// Set replaces the value at p in doc with value, which must be valid JSON.
// The path must already exist so a transform cannot add fields the
// message did not declare.
func Set(doc []byte, p Path, value json.RawMessage) (json.RawMessage, error) {
	if !json.Valid(value) {
		return nil, fmt.Errorf("%w: replacement is not valid JSON", ErrInvalidPath)
	}
	if _, err := Get(doc, p); err != nil {
		return nil, err
	}
	keys, err := p.keys()
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return append(json.RawMessage(nil), value...), nil
	}
	out, err := jsonparser.Set(append([]byte(nil), doc...), value, keys...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPath, p, err)
	}
	return out, nil
}
