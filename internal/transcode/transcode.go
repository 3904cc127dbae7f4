// Package transcode converts XML documents to their JSON structural equivalent and back.
//
// The mapping follows the convention used by most XML/JSON bridges: element names
// become object keys, attributes are "@"-prefixed members, text that shares an element
// with attributes or children lives under "#text", and repeated sibling elements are
// grouped into arrays. The conversion has no schema knowledge and is not guaranteed to
// round-trip namespaces, comments, or interleaved siblings.
package transcode

import (
	"bytes"
	"fmt"
)

// Reserved member names of the JSON form.
const (
	attrPrefix     = "@"
	textKey        = "#text"
	cdataKey       = "#cdata-section"
	commentKey     = "#comment"
	declarationKey = "?xml"
)

// MaxDepth is the deepest element or container nesting either parser accepts.
// Conversion recurses once per level, so the limit bounds stack use.
const MaxDepth = 1000

// ParseError reports input that is not well-formed in the given format.
type ParseError struct {
	Format string // "xml" or "json"
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Format, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Wrap encloses an XML fragment in a synthetic root element so that bare text or
// several sibling elements still form a single document.
func Wrap(fragment []byte, root string) []byte {
	buf := make([]byte, 0, len(fragment)+2*len(root)+5)
	buf = append(buf, '<')
	buf = append(buf, root...)
	buf = append(buf, '>')
	buf = append(buf, fragment...)
	buf = append(buf, "</"...)
	buf = append(buf, root...)
	buf = append(buf, '>')
	return buf
}

// Unwrap removes the single top-level member named root from a JSON object and
// returns its value re-serialized. It is the inverse of converting a Wrap'ed document.
func Unwrap(jsonText []byte, root string) ([]byte, error) {
	v, err := decodeJSON(jsonText)
	if err != nil {
		return nil, &ParseError{Format: "json", Err: err}
	}

	obj, ok := v.(object)
	if !ok || len(obj) != 1 || obj[0].key != root {
		return nil, &ParseError{Format: "json", Err: fmt.Errorf("expected an object with a single %q member", root)}
	}

	var buf bytes.Buffer
	if err := encodeJSON(&buf, obj[0].value); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
