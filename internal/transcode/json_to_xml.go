package transcode

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	attrEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
)

// JSONToXML converts a JSON object with a single member into a compact XML document
// rooted at that member. Empty input, null and {} produce an empty document with no
// error; callers treat that as "no content".
func JSONToXML(jsonText []byte) ([]byte, error) {
	if len(bytes.TrimSpace(jsonText)) == 0 {
		return nil, nil
	}

	v, err := decodeJSON(jsonText)
	if err != nil {
		return nil, &ParseError{Format: "json", Err: err}
	}
	if v == nil {
		return nil, nil
	}

	obj, ok := v.(object)
	if !ok {
		return nil, &ParseError{Format: "json", Err: fmt.Errorf("top-level value must be an object, got %s", kindOf(v))}
	}

	var decl, root *member
	for i := range obj {
		m := &obj[i]
		switch {
		case m.key == declarationKey:
			decl = m
		case strings.HasPrefix(m.key, attrPrefix) || strings.HasPrefix(m.key, "#"):
			return nil, &ParseError{Format: "json", Err: fmt.Errorf("member %q cannot appear at the document level", m.key)}
		case root != nil:
			return nil, &ParseError{Format: "json", Err: errors.New("root object has multiple members; a document needs a single root element")}
		default:
			root = m
		}
	}
	if root == nil {
		return nil, nil
	}
	if arr, ok := root.value.([]any); ok && len(arr) != 1 {
		return nil, &ParseError{Format: "json", Err: fmt.Errorf("root member %q is an array of %d elements", root.key, len(arr))}
	}

	var buf bytes.Buffer
	if decl != nil {
		if err := writeDeclaration(&buf, decl.value); err != nil {
			return nil, &ParseError{Format: "json", Err: err}
		}
	}
	if err := writeElement(&buf, root.key, root.value); err != nil {
		return nil, &ParseError{Format: "json", Err: err}
	}
	return buf.Bytes(), nil
}

func writeDeclaration(buf *bytes.Buffer, v any) error {
	obj, ok := v.(object)
	if !ok {
		return fmt.Errorf("%q must be an object", declarationKey)
	}

	attrs := map[string]string{"version": "1.0"}
	for _, m := range obj {
		s, err := scalarText(m.value)
		if err != nil {
			return fmt.Errorf("%s.%s: %w", declarationKey, m.key, err)
		}
		attrs[strings.TrimPrefix(m.key, attrPrefix)] = s
	}

	buf.WriteString(`<?xml version="` + attrEscaper.Replace(attrs["version"]) + `"`)
	for _, name := range []string{"encoding", "standalone"} {
		if s, ok := attrs[name]; ok && s != "" {
			buf.WriteString(" " + name + `="` + attrEscaper.Replace(s) + `"`)
		}
	}
	buf.WriteString("?>")
	return nil
}

func writeElement(buf *bytes.Buffer, key string, v any) error {
	if key == "" {
		return errors.New("empty member name cannot become an element")
	}
	name := encodeName(key)

	switch t := v.(type) {
	case nil:
		buf.WriteString("<" + name + " />")
	case []any:
		for _, item := range t {
			if err := writeElement(buf, key, item); err != nil {
				return err
			}
		}
	case object:
		return writeObject(buf, name, t)
	default:
		s, err := scalarText(t)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		buf.WriteString("<" + name + ">")
		buf.WriteString(textEscaper.Replace(s))
		buf.WriteString("</" + name + ">")
	}
	return nil
}

func writeObject(buf *bytes.Buffer, name string, obj object) error {
	buf.WriteString("<" + name)

	hasContent := false
	for _, m := range obj {
		if !strings.HasPrefix(m.key, attrPrefix) {
			hasContent = hasContent || !strings.HasPrefix(m.key, "$")
			continue
		}
		s := ""
		if m.value != nil {
			var err error
			if s, err = scalarText(m.value); err != nil {
				return fmt.Errorf("attribute %s of <%s>: %w", m.key, name, err)
			}
		}
		buf.WriteString(" " + encodeName(strings.TrimPrefix(m.key, attrPrefix)) + `="` + attrEscaper.Replace(s) + `"`)
	}

	if !hasContent {
		buf.WriteString(" />")
		return nil
	}
	buf.WriteByte('>')

	for _, m := range obj {
		var err error
		switch {
		case strings.HasPrefix(m.key, attrPrefix), strings.HasPrefix(m.key, "$"):
			continue
		case m.key == textKey:
			err = writeEach(m.value, func(s string) { buf.WriteString(textEscaper.Replace(s)) })
		case m.key == cdataKey:
			err = writeEach(m.value, func(s string) {
				buf.WriteString("<![CDATA[" + strings.ReplaceAll(s, "]]>", "]]]]><![CDATA[>") + "]]>")
			})
		case m.key == commentKey:
			err = writeEach(m.value, func(s string) {
				buf.WriteString("<!--" + strings.ReplaceAll(s, "--", "- -") + "-->")
			})
		default:
			err = writeElement(buf, m.key, m.value)
		}
		if err != nil {
			return err
		}
	}

	buf.WriteString("</" + name + ">")
	return nil
}

// writeEach calls write for a scalar or for every scalar of an array.
func writeEach(v any, write func(string)) error {
	items, ok := v.([]any)
	if !ok {
		items = []any{v}
	}
	for _, item := range items {
		if item == nil {
			continue
		}
		s, err := scalarText(item)
		if err != nil {
			return err
		}
		write(s)
	}
	return nil
}

func scalarText(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case json.Number:
		return t.String(), nil
	case bool:
		if t {
			return "true", nil
		}
		return "false", nil
	default:
		return "", fmt.Errorf("expected a scalar, got %s", kindOf(v))
	}
}

func kindOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case object:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	default:
		return "number"
	}
}
