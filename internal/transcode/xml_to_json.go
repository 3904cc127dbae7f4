package transcode

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// element is a parsed XML element. children holds *element and string (text) nodes
// in document order.
type element struct {
	name     string
	attrs    object
	children []any
}

// XMLToJSON converts a well-formed XML document into its compact JSON structural
// equivalent, e.g. <a x="1">t</a> becomes {"a":{"@x":"1","#text":"t"}}.
func XMLToJSON(xmlText []byte) ([]byte, error) {
	root, err := parseXML(xmlText)
	if err != nil {
		return nil, &ParseError{Format: "xml", Err: err}
	}

	var buf bytes.Buffer
	if err := encodeJSON(&buf, object{{key: root.name, value: root.value()}}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func parseXML(data []byte) (*element, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))

	var (
		root     *element
		stack    []*element
		textOpen bool
	)
	for {
		tok, err := dec.RawToken()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			textOpen = false
			if len(stack) >= MaxDepth {
				return nil, fmt.Errorf("elements nested deeper than %d levels", MaxDepth)
			}
			el := &element{name: decodeName(qualifiedName(t.Name))}
			for _, a := range t.Attr {
				el.attrs = append(el.attrs, member{key: attrPrefix + decodeName(qualifiedName(a.Name)), value: a.Value})
			}
			if len(stack) == 0 {
				if root != nil {
					return nil, fmt.Errorf("multiple root elements: <%s> follows <%s>", el.name, root.name)
				}
				root = el
			} else {
				parent := stack[len(stack)-1]
				parent.children = append(parent.children, el)
			}
			stack = append(stack, el)

		case xml.EndElement:
			textOpen = false
			name := decodeName(qualifiedName(t.Name))
			if len(stack) == 0 {
				return nil, fmt.Errorf("unexpected end element </%s>", name)
			}
			if top := stack[len(stack)-1]; top.name != name {
				return nil, fmt.Errorf("element <%s> closed by </%s>", top.name, name)
			}
			stack = stack[:len(stack)-1]

		case xml.CharData:
			if len(stack) == 0 {
				if len(bytes.TrimSpace(t)) != 0 {
					return nil, errors.New("text outside the root element")
				}
				continue
			}
			parent := stack[len(stack)-1]
			if textOpen {
				last := len(parent.children) - 1
				parent.children[last] = parent.children[last].(string) + string(t)
			} else {
				parent.children = append(parent.children, string(t))
				textOpen = true
			}

		default:
			// Comments, processing instructions and directives carry no data.
			textOpen = false
		}
	}

	if len(stack) != 0 {
		return nil, fmt.Errorf("element <%s> is not closed", stack[len(stack)-1].name)
	}
	if root == nil {
		return nil, errors.New("no root element")
	}
	return root, nil
}

func qualifiedName(n xml.Name) string {
	if n.Space == "" {
		return n.Local
	}
	return n.Space + ":" + n.Local
}

// value returns the JSON form of e: null when empty, a string when it only holds
// text, and an object otherwise.
func (e *element) value() any {
	var (
		texts    []string
		hasElems bool
	)
	for _, c := range e.children {
		switch c := c.(type) {
		case string:
			if strings.TrimSpace(c) != "" {
				texts = append(texts, c)
			}
		case *element:
			hasElems = true
		}
	}

	if len(e.attrs) == 0 && !hasElems {
		switch len(texts) {
		case 0:
			return nil
		case 1:
			return texts[0]
		}
	}

	obj := make(object, 0, len(e.attrs)+len(e.children))
	obj = append(obj, e.attrs...)
	index := make(map[string]int)
	for _, c := range e.children {
		switch c := c.(type) {
		case string:
			if strings.TrimSpace(c) != "" {
				obj = appendGrouped(obj, index, textKey, c)
			}
		case *element:
			obj = appendGrouped(obj, index, c.name, c.value())
		}
	}
	return obj
}

// appendGrouped adds key to obj, folding repeated keys into an array held at the
// position of the first occurrence.
func appendGrouped(obj object, index map[string]int, key string, v any) object {
	i, seen := index[key]
	if !seen {
		index[key] = len(obj)
		return append(obj, member{key: key, value: v})
	}
	if arr, ok := obj[i].value.([]any); ok {
		obj[i].value = append(arr, v)
	} else {
		obj[i].value = []any{obj[i].value, v}
	}
	return obj
}
