package rules

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

type Format string

const (
	// FormatYAML is a Clash rule-provider document: a top-level "payload"
	// sequence of strings.
	FormatYAML Format = "yaml"
	// FormatText is one rule per line (".list" files).
	FormatText Format = "text"
)

// ParseFormat accepts the names used in config files.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yaml", "yml":
		return FormatYAML, nil
	case "text", "list", "txt":
		return FormatText, nil
	default:
		return "", fmt.Errorf("unknown rule format %q (want yaml or text)", s)
	}
}

type LineKind int

const (
	Blank LineKind = iota
	Comment
	Entry
)

func (k LineKind) String() string {
	switch k {
	case Blank:
		return "blank"
	case Comment:
		return "comment"
	case Entry:
		return "entry"
	default:
		return "unknown"
	}
}

// Line is one line of a rule document. Entries are opaque to the merger: Text
// is the trimmed rule string and is compared byte-for-byte. Comment Text is kept
// verbatim.
type Line struct {
	Kind LineKind
	Text string
}

type Document struct {
	Source string
	Format Format
	Lines  []Line
}

// Entries returns the entry lines in document order, duplicates included.
func (d Document) Entries() []string {
	out := make([]string, 0, len(d.Lines))
	for _, l := range d.Lines {
		if l.Kind == Entry {
			out = append(out, l.Text)
		}
	}
	return out
}

func (d Document) EntryCount() int {
	n := 0
	for _, l := range d.Lines {
		if l.Kind == Entry {
			n++
		}
	}
	return n
}

// Parse reads a rule document. Content whose top level carries a "payload:"
// key is decoded as YAML; anything else is read line by line. Local rule files
// are not validated: any non-comment, non-blank line is an entry.
func Parse(source string, data []byte) (Document, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if hasPayloadKey(data) {
		return parseYAML(source, data)
	}
	return parseText(source, string(data)), nil
}

func hasPayloadKey(data []byte) bool {
	for _, raw := range strings.Split(string(data), "\n") {
		line := strings.TrimSuffix(raw, "\r")
		if strings.HasPrefix(line, "payload:") {
			return true
		}
	}
	return false
}

func parseText(source, text string) Document {
	doc := Document{Source: source, Format: FormatText}
	text = strings.TrimSuffix(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	if text == "" {
		return doc
	}
	for _, raw := range strings.Split(text, "\n") {
		doc.Lines = append(doc.Lines, classify(raw))
	}
	return doc
}

func classify(raw string) Line {
	line := strings.TrimSpace(raw)
	switch {
	case line == "":
		return Line{Kind: Blank}
	case isCommentText(line):
		return Line{Kind: Comment, Text: strings.TrimRight(raw, " \t\r")}
	default:
		return Line{Kind: Entry, Text: line}
	}
}

func isCommentText(line string) bool {
	return strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") || strings.HasPrefix(line, "//")
}

func parseYAML(source string, data []byte) (Document, error) {
	doc := Document{Source: source, Format: FormatYAML}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return Document{}, &ParseError{
			Code:    "RULESET_PARSE_ERROR",
			Message: "payload 文档不是合法 YAML",
			Source:  source,
			Cause:   err,
		}
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 || root.Content[0].Kind != yaml.MappingNode {
		return Document{}, &ParseError{
			Code:    "RULESET_PARSE_ERROR",
			Message: "payload 文档顶层必须是 mapping",
			Source:  source,
		}
	}

	top := root.Content[0]
	var key, payload *yaml.Node
	for i := 0; i+1 < len(top.Content); i += 2 {
		if top.Content[i].Value == "payload" {
			key, payload = top.Content[i], top.Content[i+1]
			break
		}
	}
	if payload == nil {
		return doc, nil
	}
	if payload.Kind != yaml.SequenceNode && !(payload.Kind == yaml.ScalarNode && payload.Tag == "!!null") {
		return Document{}, &ParseError{
			Code:    "RULESET_PARSE_ERROR",
			Message: "payload 必须是字符串列表",
			Source:  source,
			Line:    payload.Line,
		}
	}

	// yaml.v3 attaches comments to whichever node is nearest; collect them
	// from every node around payload so none are lost.
	doc.Lines = append(doc.Lines, commentLines(root.HeadComment, top.HeadComment, key.HeadComment, key.LineComment, payload.HeadComment, payload.LineComment)...)
	for _, item := range payload.Content {
		doc.Lines = append(doc.Lines, commentLines(item.HeadComment)...)
		if line, ok := itemLine(item); ok {
			doc.Lines = append(doc.Lines, line)
		}
		doc.Lines = append(doc.Lines, commentLines(item.LineComment, item.FootComment)...)
	}
	doc.Lines = append(doc.Lines, commentLines(payload.FootComment, key.FootComment, top.FootComment, root.FootComment)...)
	return doc, nil
}

func itemLine(item *yaml.Node) (Line, bool) {
	if item.Kind != yaml.ScalarNode {
		// Same as upstream consumers: non-string items are ignored.
		return Line{}, false
	}
	v := strings.TrimSpace(item.Value)
	switch {
	case v == "", strings.ContainsAny(v, "\r\n"):
		// A rule is always a single line.
		return Line{}, false
	case strings.HasPrefix(v, "#"):
		return Line{Kind: Comment, Text: v}, true
	default:
		return Line{Kind: Entry, Text: v}, true
	}
}

func commentLines(comments ...string) []Line {
	var out []Line
	for _, c := range comments {
		for _, s := range strings.Split(c, "\n") {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			out = append(out, Line{Kind: Comment, Text: s})
		}
	}
	return out
}
