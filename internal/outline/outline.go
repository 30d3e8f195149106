package outline

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Node is one entry of a nested document outline.
//
// ChapterNumber is unique within a document and dot-delimited to express
// nesting ("2.3"). A node carrying FixedContent is materialized verbatim and
// never generated.
type Node struct {
	ChapterNumber  string `json:"chapterNumber" yaml:"chapterNumber"`
	Title          string `json:"title" yaml:"title"`
	GovernStandard string `json:"governStandard,omitempty" yaml:"governStandard,omitempty"`
	GeneratePrompt bool   `json:"generatePrompt,omitempty" yaml:"generatePrompt,omitempty"`
	FixedContent   string `json:"fixedContent,omitempty" yaml:"fixedContent,omitempty"`
	Children       []Node `json:"children,omitempty" yaml:"children,omitempty"`
}

// HasFixedContent reports whether the node short-circuits generation.
func (n Node) HasFixedContent() bool {
	return strings.TrimSpace(n.FixedContent) != ""
}

// Shallow returns a copy of the node without its children. Task metadata
// snapshots only the node a task works on.
func (n Node) Shallow() Node {
	n.Children = nil
	return n
}

// Assets summarizes project-wide asset readiness. Each flag is an OR across
// every ingested asset.
type Assets struct {
	EmbedReady bool `json:"embedReady" yaml:"embedReady"`
	TableReady bool `json:"tableReady" yaml:"tableReady"`
}

// Project carries the project context copied into every task's metadata.
type Project struct {
	Name     string            `json:"name,omitempty" yaml:"name,omitempty"`
	Language string            `json:"language,omitempty" yaml:"language,omitempty"`
	Audience string            `json:"audience,omitempty" yaml:"audience,omitempty"`
	Extra    map[string]string `json:"extra,omitempty" yaml:"extra,omitempty"`
}

// Document is the on-disk outline format: project context, asset readiness
// flags, and the chapter tree.
type Document struct {
	Project  Project `json:"project" yaml:"project"`
	Assets   Assets  `json:"assets" yaml:"assets"`
	Chapters []Node  `json:"chapters" yaml:"chapters"`
}

// ErrEmpty is returned when an outline file holds no chapters.
var ErrEmpty = errors.New("outline has no chapters")

// Load reads an outline document from a YAML or JSON file.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read outline: %w", err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse outline %s: %w", path, err)
	}
	return doc, nil
}

// Parse decodes an outline document. JSON input is accepted because it is a
// subset of YAML. A bare list of nodes is treated as the chapter tree.
func Parse(data []byte) (*Document, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, ErrEmpty
	}

	var root yaml.Node
	if err := yaml.Unmarshal(trimmed, &root); err != nil {
		return nil, err
	}
	if len(root.Content) == 0 {
		return nil, ErrEmpty
	}

	doc := &Document{}
	switch root.Content[0].Kind {
	case yaml.SequenceNode:
		if err := root.Content[0].Decode(&doc.Chapters); err != nil {
			return nil, err
		}
	case yaml.MappingNode:
		if err := root.Content[0].Decode(doc); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unexpected outline root of kind %d", root.Content[0].Kind)
	}
	if len(doc.Chapters) == 0 {
		return nil, ErrEmpty
	}
	return doc, nil
}

// Flat is an outline node visited in pre-order together with its parent's
// chapter number ("" for top-level nodes).
type Flat struct {
	Node     Node
	ParentID string
	Depth    int
}

// Flatten walks the outline in pre-order.
func Flatten(nodes []Node) []Flat {
	var out []Flat
	var walk func(list []Node, parent string, depth int)
	walk = func(list []Node, parent string, depth int) {
		for _, n := range list {
			out = append(out, Flat{Node: n.Shallow(), ParentID: parent, Depth: depth})
			walk(n.Children, strings.TrimSpace(n.ChapterNumber), depth+1)
		}
	}
	walk(nodes, "", 0)
	return out
}
