package ofac

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// xmlNode is a schema-free XML tree node. The SDN list has shipped in more
// than one schema, so the extractor walks a generic tree instead of binding
// to fixed structs.
type xmlNode struct {
	Name     string
	Attrs    map[string]string
	Text     string
	Children []*xmlNode
}

func (n *xmlNode) childText(names ...string) string {
	for _, c := range n.Children {
		for _, name := range names {
			if strings.EqualFold(c.Name, name) {
				if t := strings.TrimSpace(c.Text); t != "" {
					return t
				}
			}
		}
	}
	return ""
}

// xmlExtractor is the structured SDN parser.
type xmlExtractor struct{}

func (xmlExtractor) Name() string { return "structured-xml" }

// Extract parses the document into a tree and walks entries named like
// sdnEntry, searching up to depth 5 when the entry list is nested.
func (e xmlExtractor) Extract(data []byte) ([]ExtractedAddress, error) {
	root, err := parseTree(data)
	if err != nil {
		return nil, fmt.Errorf("ofac: parse xml: %w", err)
	}

	var entries []*xmlNode
	collectEntries(root, 0, &entries)

	var out []ExtractedAddress
	for _, entry := range entries {
		name := entryName(entry)
		uid := entryUID(entry)
		collectAddresses(entry, name, uid, &out)
	}
	return out, nil
}

func parseTree(data []byte) (*xmlNode, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	root := &xmlNode{Name: "document", Attrs: map[string]string{}}
	stack := []*xmlNode{root}

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			node := &xmlNode{Name: t.Name.Local, Attrs: make(map[string]string, len(t.Attr))}
			for _, a := range t.Attr {
				node.Attrs[a.Name.Local] = a.Value
			}
			parent := stack[len(stack)-1]
			parent.Children = append(parent.Children, node)
			stack = append(stack, node)
		case xml.EndElement:
			if len(stack) > 1 {
				stack = stack[:len(stack)-1]
			}
		case xml.CharData:
			stack[len(stack)-1].Text += string(t)
		}
	}
	return root, nil
}

// collectEntries gathers nodes that look like SDN entries. The search stops
// at depth 5; deeper nesting means the document is not in a known shape.
func collectEntries(n *xmlNode, depth int, out *[]*xmlNode) {
	if depth > 5 {
		return
	}
	lower := strings.ToLower(n.Name)
	if lower == "sdnentry" || (strings.Contains(lower, "entry") && strings.Contains(lower, "sdn")) {
		*out = append(*out, n)
		return
	}
	for _, c := range n.Children {
		collectEntries(c, depth+1, out)
	}
}

func entryName(entry *xmlNode) string {
	if n := entry.childText("lastName"); n != "" {
		first := entry.childText("firstName")
		if first != "" {
			return first + " " + n
		}
		return n
	}
	if n := entry.childText("wholeName"); n != "" {
		return n
	}
	if n := entry.childText("name"); n != "" {
		return n
	}
	return "UNKNOWN"
}

func entryUID(entry *xmlNode) string {
	if uid, ok := entry.Attrs["uid"]; ok && uid != "" {
		return uid
	}
	return entry.childText("uid")
}

// collectAddresses walks the entry subtree for id and feature nodes whose
// type names a digital currency address, pairing the ticker with the value.
func collectAddresses(n *xmlNode, sdnName, sdnID string, out *[]ExtractedAddress) {
	typeText := n.childText("idType", "featureType", "type")
	if m := digitalCurrencyMarker.FindStringSubmatch(typeText); m != nil {
		value := n.childText("idNumber", "value", "versionDetail", "registrationNumber")
		if value != "" {
			*out = append(*out, ExtractedAddress{
				Address:     value,
				AddressType: normalizeTicker(m[1]),
				SDNName:     sdnName,
				SDNID:       sdnID,
			})
		}
	}
	for _, c := range n.Children {
		collectAddresses(c, sdnName, sdnID, out)
	}
}
