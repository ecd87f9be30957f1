package importer

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"strings"

	"github.com/mmdatafocus/routesync_backend/utils"
)

type xmlNode struct {
	name     string
	attrs    []xml.Attr
	text     strings.Builder
	children []*xmlNode
	line     int
}

// ReadXML flattens an XML export into rows. The record container is found by
// descending through single-child wrappers (<export><customers><customer>...);
// each child of the container is one row. Attributes and leaf elements become
// columns, and nested elements are joined with "_".
func ReadXML(r io.Reader) ([]RawRow, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, &utils.ParseError{Op: "read xml", Err: err}
	}
	data, err := toUTF8(raw)
	if err != nil {
		return nil, &utils.ParseError{Op: "decode xml", Err: err}
	}

	root, err := buildXMLTree(data)
	if err != nil {
		return nil, &utils.ParseError{Op: "parse xml", Err: err}
	}

	container := root
	for len(container.children) == 1 && hasNestedChildren(container.children[0]) {
		container = container.children[0]
	}

	rows := make([]RawRow, 0, len(container.children))
	for _, rec := range container.children {
		row := newRawRow(rec.line)
		flattenXML(row, "", rec)
		if len(row.Values) == 0 {
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func buildXMLTree(data []byte) (*xmlNode, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	var (
		stack []*xmlNode
		root  *xmlNode
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			line, _ := dec.InputPos()
			n := &xmlNode{name: t.Name.Local, attrs: t.Attr, line: line}
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				parent.children = append(parent.children, n)
			} else if root == nil {
				root = n
			}
			stack = append(stack, n)
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].text.Write(t)
			}
		}
	}
	if root == nil {
		return nil, errors.New("document has no root element")
	}
	return root, nil
}

func hasNestedChildren(n *xmlNode) bool {
	for _, c := range n.children {
		if len(c.children) > 0 {
			return true
		}
	}
	return false
}

func flattenXML(row RawRow, prefix string, n *xmlNode) {
	for _, a := range n.attrs {
		row.set(joinKey(prefix, a.Name.Local), strings.TrimSpace(a.Value))
	}
	for _, c := range n.children {
		key := joinKey(prefix, c.name)
		if len(c.children) == 0 {
			if len(c.attrs) > 0 {
				flattenXML(row, key, c)
			}
			row.set(key, strings.TrimSpace(c.text.String()))
			continue
		}
		flattenXML(row, key, c)
	}
}

func joinKey(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "_" + name
}
