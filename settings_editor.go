package dkit

import (
	"fmt"
	"os"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// SettingsEditor modifies a settings file in place, preserving comments and
// key order.
type SettingsEditor struct {
	fs   afero.Fs
	path string
}

// NewSettingsEditor creates a new SettingsEditor
func NewSettingsEditor(fs afero.Fs, path string) *SettingsEditor {
	return &SettingsEditor{fs: fs, path: path}
}

// AddIncludePaths appends paths missing from include_paths and reports how
// many were added. The file is created when it does not exist.
func (e *SettingsEditor) AddIncludePaths(paths ...string) (int, error) {
	content, err := afero.ReadFile(e.fs, e.path)
	if err != nil && !os.IsNotExist(err) {
		return 0, WithFile(NewConfigError("failed to read settings file", err), e.path)
	}

	var node yaml.Node
	if len(content) > 0 {
		if err := yaml.Unmarshal(content, &node); err != nil {
			return 0, WithFile(NewConfigError("failed to parse settings YAML", err), e.path)
		}
	}
	if node.Kind == 0 {
		node = yaml.Node{
			Kind:    yaml.DocumentNode,
			Content: []*yaml.Node{{Kind: yaml.MappingNode}},
		}
	}

	listNode, err := e.findOrCreateList(&node, KeyIncludePaths)
	if err != nil {
		return 0, WithFile(err, e.path)
	}

	added := 0
	for _, p := range paths {
		if containsScalar(listNode, p) {
			continue
		}
		listNode.Content = append(listNode.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: p})
		added++
	}
	if added == 0 {
		return 0, nil
	}

	out, err := yaml.Marshal(&node)
	if err != nil {
		return 0, NewConfigError("failed to marshal updated settings", err)
	}

	if err := e.fs.MkdirAll(DirPath(e.path), 0o755); err != nil {
		return 0, WithFile(NewFSError("failed to create settings directory", err), e.path)
	}
	if err := afero.WriteFile(e.fs, e.path, out, 0o644); err != nil {
		return 0, WithFile(NewFSError("failed to write settings file", err), e.path)
	}
	return added, nil
}

// findOrCreateList finds the sequence stored under key in the document's
// top-level mapping, creating it when absent.
func (e *SettingsEditor) findOrCreateList(root *yaml.Node, key string) (*yaml.Node, error) {
	if root.Kind != yaml.DocumentNode {
		return nil, fmt.Errorf("expected document node")
	}
	if len(root.Content) == 0 || root.Content[0].Kind != yaml.MappingNode {
		return nil, fmt.Errorf("expected mapping node in document")
	}

	mapping := root.Content[0]
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value != key {
			continue
		}
		value := mapping.Content[i+1]
		if value.Kind == yaml.ScalarNode && value.Tag == "!!null" {
			value.Kind = yaml.SequenceNode
			value.Tag = ""
			value.Value = ""
		}
		if value.Kind != yaml.SequenceNode {
			return nil, fmt.Errorf("%s is not a list", key)
		}
		return value, nil
	}

	value := &yaml.Node{Kind: yaml.SequenceNode}
	mapping.Content = append(mapping.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: key}, value)
	return value, nil
}

func containsScalar(seq *yaml.Node, value string) bool {
	for _, item := range seq.Content {
		if item.Value == value {
			return true
		}
	}
	return false
}
