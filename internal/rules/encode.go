package rules

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Encode renders doc in the given format. The output is a pure function of
// doc.Lines and always ends with a newline.
func Encode(doc Document, format Format) ([]byte, error) {
	switch format {
	case FormatYAML:
		return encodeYAML(doc)
	case FormatText:
		return encodeText(doc), nil
	default:
		return nil, fmt.Errorf("unknown rule format %q", format)
	}
}

func encodeText(doc Document) []byte {
	var b bytes.Buffer
	for _, l := range doc.Lines {
		switch l.Kind {
		case Entry, Comment:
			b.WriteString(l.Text)
		}
		b.WriteByte('\n')
	}
	return b.Bytes()
}

// encodeYAML writes a payload document by hand so comments stay where they
// were in the custom section; each scalar goes through the YAML encoder, which
// quotes it when plain style would change its meaning.
// Blank lines are not representable inside the sequence and are dropped.
func encodeYAML(doc Document) ([]byte, error) {
	var b bytes.Buffer
	if doc.EntryCount() == 0 && !hasComment(doc) {
		b.WriteString("payload: []\n")
		return b.Bytes(), nil
	}
	b.WriteString("payload:\n")
	for _, l := range doc.Lines {
		switch l.Kind {
		case Comment:
			b.WriteString("  ")
			b.WriteString(yamlComment(l.Text))
			b.WriteByte('\n')
		case Entry:
			s, err := yamlScalar(l.Text)
			if err != nil {
				return nil, err
			}
			b.WriteString("  - ")
			b.WriteString(s)
			b.WriteByte('\n')
		}
	}
	return b.Bytes(), nil
}

func hasComment(doc Document) bool {
	for _, l := range doc.Lines {
		if l.Kind == Comment {
			return true
		}
	}
	return false
}

func yamlComment(text string) string {
	t := strings.TrimSpace(text)
	if strings.HasPrefix(t, "#") {
		return t
	}
	// ";" and "//" comments from .list files.
	return "# " + t
}

func yamlScalar(s string) (string, error) {
	n := yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}
	out, err := yaml.Marshal(&n)
	if err != nil {
		return "", fmt.Errorf("encode payload item %q: %w", s, err)
	}
	return strings.TrimSuffix(string(out), "\n"), nil
}
