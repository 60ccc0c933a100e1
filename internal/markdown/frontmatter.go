package markdown

import (
	"strings"

	"gopkg.in/yaml.v3"
)

const fmDelim = "---"

// splitFrontmatter separates a leading --- block from the body lines.
// Without a closing delimiter the whole input is body.
func splitFrontmatter(lines []string) (map[string]string, []string) {
	if len(lines) == 0 || strings.TrimRight(lines[0], " \t") != fmDelim {
		return nil, lines
	}
	for i := 1; i < len(lines); i++ {
		if strings.TrimRight(lines[i], " \t") == fmDelim {
			return decodeFrontmatter(lines[1:i]), lines[i+1:]
		}
	}
	return nil, lines
}

// decodeFrontmatter reads the block as YAML, keeping scalars as written and
// joining sequences with ", ". Anything YAML rejects is read as flat
// key: value lines instead.
func decodeFrontmatter(block []string) map[string]string {
	raw := strings.Join(block, "\n")
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(raw), &doc); err == nil &&
		doc.Kind == yaml.DocumentNode && len(doc.Content) == 1 && doc.Content[0].Kind == yaml.MappingNode {
		return mappingToMap(doc.Content[0])
	}
	return flatFrontmatter(block)
}

func mappingToMap(m *yaml.Node) map[string]string {
	out := make(map[string]string, len(m.Content)/2)
	for i := 0; i+1 < len(m.Content); i += 2 {
		key, val := m.Content[i], m.Content[i+1]
		if key.Kind != yaml.ScalarNode || key.Value == "" {
			continue
		}
		switch val.Kind {
		case yaml.ScalarNode:
			out[key.Value] = val.Value
		case yaml.SequenceNode:
			parts := make([]string, 0, len(val.Content))
			for _, item := range val.Content {
				if item.Kind == yaml.ScalarNode {
					parts = append(parts, item.Value)
				}
			}
			out[key.Value] = strings.Join(parts, ", ")
		case yaml.AliasNode:
			if val.Alias != nil && val.Alias.Kind == yaml.ScalarNode {
				out[key.Value] = val.Alias.Value
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func flatFrontmatter(block []string) map[string]string {
	out := make(map[string]string)
	for _, line := range block {
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		out[k] = unquote(strings.TrimSpace(v))
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func unquote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
