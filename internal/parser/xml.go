package parser

import (
	"bytes"
	"encoding/xml"
	"io"
	"strconv"
	"strings"
)

// flattenXML produces element-path keys joined with dots, attributes as
// path[@attr]. Repeated sibling elements get positional [n] suffixes so
// Maven dependency blocks stay distinguishable.
func flattenXML(data []byte) map[string]string {
	out := make(map[string]string)
	decoder := xml.NewDecoder(bytes.NewReader(data))

	type frame struct {
		name   string
		counts map[string]int
		text   strings.Builder
	}
	var stack []*frame

	currentPath := func() string {
		parts := make([]string, len(stack))
		for i, f := range stack {
			parts[i] = f.name
		}
		return strings.Join(parts, ".")
	}

	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return map[string]string{}
		}

		switch t := tok.(type) {
		case xml.StartElement:
			name := t.Name.Local
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				n := parent.counts[name]
				parent.counts[name]++
				if n > 0 {
					name = name + "[" + strconv.Itoa(n) + "]"
				}
			}
			stack = append(stack, &frame{name: name, counts: map[string]int{}})
			for _, attr := range t.Attr {
				out[currentPath()+"[@"+attr.Name.Local+"]"] = attr.Value
			}
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].text.Write(t)
			}
		case xml.EndElement:
			if len(stack) == 0 {
				continue
			}
			top := stack[len(stack)-1]
			text := strings.TrimSpace(top.text.String())
			if text != "" {
				out[currentPath()] = text
			}
			stack = stack[:len(stack)-1]
		}
	}
	return out
}
