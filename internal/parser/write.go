package parser

import (
	"bytes"
	"fmt"
	"maps"
	"slices"

	"gopkg.in/yaml.v3"
)

// UpdateFrontmatter sets the given properties in the note's frontmatter and
// returns the new file content. Other properties keep their order, style and
// comments; new ones are appended. A nil value deletes the property. A note
// without frontmatter gets one.
func UpdateFrontmatter(data []byte, updates map[string]any) ([]byte, error) {
	block, rest, ok := cutFrontmatter(data)

	var doc yaml.Node
	if ok && len(bytes.TrimSpace(block)) > 0 {
		if err := yaml.Unmarshal(block, &doc); err != nil {
			return nil, fmt.Errorf("parser: frontmatter: %w", err)
		}
	}
	var mapping *yaml.Node
	if doc.Kind == yaml.DocumentNode && len(doc.Content) == 1 && doc.Content[0].Kind == yaml.MappingNode {
		mapping = doc.Content[0]
	} else {
		mapping = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		doc = yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{mapping}}
	}

	for _, key := range slices.Sorted(maps.Keys(updates)) {
		idx := -1
		for i := 0; i+1 < len(mapping.Content); i += 2 {
			if mapping.Content[i].Value == key {
				idx = i
				break
			}
		}
		value := updates[key]
		if value == nil {
			if idx >= 0 {
				mapping.Content = slices.Delete(mapping.Content, idx, idx+2)
			}
			continue
		}
		var vn yaml.Node
		if err := vn.Encode(value); err != nil {
			return nil, fmt.Errorf("parser: encode %s: %w", key, err)
		}
		if idx >= 0 {
			vn.HeadComment = mapping.Content[idx+1].HeadComment
			vn.LineComment = mapping.Content[idx+1].LineComment
			mapping.Content[idx+1] = &vn
			continue
		}
		mapping.Content = append(mapping.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
			&vn)
	}

	var buf bytes.Buffer
	buf.WriteString("---\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return nil, fmt.Errorf("parser: encode frontmatter: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("parser: encode frontmatter: %w", err)
	}
	buf.WriteString("---")
	if ok {
		buf.Write(rest)
	} else {
		buf.WriteString("\n")
		buf.Write(data)
	}
	return buf.Bytes(), nil
}
