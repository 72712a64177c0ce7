package indi

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"strings"
)

// Element is one parsed XML element: a top-level vector document, or one of
// its members.
type Element struct {
	// Tag is the element's local name (e.g. "defNumberVector", "oneNumber").
	Tag string

	// Attrs holds the element's attributes by local name.
	Attrs map[string]string

	// Text is the element's character data, trimmed of surrounding whitespace.
	// Empty if the element has no text.
	Text string

	// Children are the direct child elements in document order.
	// Always empty for child elements themselves.
	Children []Element
}

// Attr returns the named attribute, or "" if absent.
func (e *Element) Attr(name string) string {
	return e.Attrs[name]
}

// Device returns the element's device attribute.
func (e *Element) Device() string {
	return e.Attrs["device"]
}

// Name returns the element's name attribute.
func (e *Element) Name() string {
	return e.Attrs["name"]
}

// ParseElement decodes one complete document produced by the Framer.
//
// The result carries the root's tag, attributes and text plus its direct
// children (tag, attributes, text). Elements nested deeper than one level
// are skipped; their text is not attributed to any child.
//
// Invalid UTF-8 bytes are removed before decoding.
//
// Parameters:
//   - doc: A complete document
//
// Returns:
//   - *Element: The parsed root element
//   - error: *ParseError if the document is not well-formed
func ParseElement(doc []byte) (*Element, error) {
	// Drivers sometimes emit Latin-1 labels; drop invalid bytes rather than
	// the whole document.
	dec := xml.NewDecoder(bytes.NewReader(bytes.ToValidUTF8(doc, nil)))

	var (
		root     *Element
		rootText strings.Builder
		child    *Element
		text     strings.Builder
		depth    int
	)

	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return nil, newParseError(doc, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			switch depth {
			case 1:
				root = &Element{Tag: t.Name.Local, Attrs: attrMap(t.Attr)}
			case 2:
				child = &Element{Tag: t.Name.Local, Attrs: attrMap(t.Attr)}
				text.Reset()
			}

		case xml.CharData:
			switch depth {
			case 1:
				rootText.Write(t)
			case 2:
				text.Write(t)
			}

		case xml.EndElement:
			switch depth {
			case 1:
				root.Text = strings.TrimSpace(rootText.String())
				return root, nil
			case 2:
				child.Text = strings.TrimSpace(text.String())
				root.Children = append(root.Children, *child)
				child = nil
			}
			depth--
		}
	}
}

// attrMap converts decoder attributes to a map keyed by local name.
func attrMap(attrs []xml.Attr) map[string]string {
	m := make(map[string]string, len(attrs))
	for _, a := range attrs {
		m[a.Name.Local] = a.Value
	}
	return m
}
