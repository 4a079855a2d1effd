package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// LoadYAMLWithComments loads a YAML file preserving the AST structure including comments
func LoadYAMLWithComments(path string) (*yaml.Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, err
	}
	return &node, nil
}

// SaveYAMLWithComments writes a YAML node back to file, preserving comments
func SaveYAMLWithComments(path string, node *yaml.Node) error {
	data, err := yaml.Marshal(node)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// FindMapKey finds a key in a YAML mapping node and returns its value node
func FindMapKey(node *yaml.Node, key string) *yaml.Node {
	if node == nil || node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}

// AddMapKey adds a key-value pair to a mapping node
func AddMapKey(node *yaml.Node, key string, value *yaml.Node) {
	if node == nil || node.Kind != yaml.MappingNode {
		return
	}
	node.Content = append(node.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Value: key},
		value,
	)
}

// AddToSequence adds an item to a YAML sequence node
func AddToSequence(seq *yaml.Node, item *yaml.Node) {
	if seq == nil || seq.Kind != yaml.SequenceNode {
		return
	}
	seq.Content = append(seq.Content, item)
}

// RemoveFromSequence removes an item from a sequence by matching a field value
// Returns true if an item was removed
func RemoveFromSequence(seq *yaml.Node, field, value string) bool {
	if seq == nil || seq.Kind != yaml.SequenceNode {
		return false
	}
	for i := 0; i < len(seq.Content); i++ {
		item := seq.Content[i]
		if item.Kind == yaml.MappingNode {
			for j := 0; j < len(item.Content); j += 2 {
				if item.Content[j].Value == field && item.Content[j+1].Value == value {
					seq.Content = append(seq.Content[:i], seq.Content[i+1:]...)
					return true
				}
			}
		}
	}
	return false
}

// SequenceContains checks if a sequence contains an item with the given field value
func SequenceContains(seq *yaml.Node, field, value string) bool {
	if seq == nil || seq.Kind != yaml.SequenceNode {
		return false
	}
	for i := 0; i < len(seq.Content); i++ {
		item := seq.Content[i]
		if item.Kind == yaml.MappingNode {
			for j := 0; j < len(item.Content); j += 2 {
				if item.Content[j].Value == field && item.Content[j+1].Value == value {
					return true
				}
			}
		}
	}
	return false
}

// TunnelToNode converts a TunnelSpec to a YAML node, skipping empty fields
func TunnelToNode(t TunnelSpec) *yaml.Node {
	node := &yaml.Node{Kind: yaml.MappingNode}

	add := func(key, value, tag string) {
		if value == "" {
			return
		}
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: key},
			&yaml.Node{Kind: yaml.ScalarNode, Value: value, Tag: tag},
		)
	}

	add("name", t.Name, "!!str")
	add("provider", t.Provider, "!!str")
	add("port", strconv.Itoa(t.Port), "!!int")
	if t.Host != DefaultHost {
		add("host", t.Host, "!!str")
	}
	add("mode", t.Mode, "!!str")
	add("tunnelName", t.TunnelName, "!!str")
	add("domain", t.Domain, "!!str")
	add("subdomain", t.Subdomain, "!!str")
	add("token", t.Token, "!!str")
	add("secret", t.Secret, "!!str")
	if t.Disabled {
		add("disabled", "true", "!!bool")
	}

	return node
}

// GetRootDocument returns the document node's content (handles YAML document wrapper)
func GetRootDocument(node *yaml.Node) *yaml.Node {
	if node == nil {
		return nil
	}
	// yaml.v3 wraps content in a DocumentNode
	if node.Kind == yaml.DocumentNode && len(node.Content) > 0 {
		return node.Content[0]
	}
	return node
}

// EnsureTunnelsNode ensures the top-level tunnels sequence exists and returns it
func EnsureTunnelsNode(root *yaml.Node) *yaml.Node {
	tunnelsNode := FindMapKey(root, "tunnels")
	if tunnelsNode == nil {
		tunnelsNode = &yaml.Node{Kind: yaml.SequenceNode}
		AddMapKey(root, "tunnels", tunnelsNode)
		return tunnelsNode
	}

	// A bare "tunnels:" parses as a null scalar
	if tunnelsNode.Kind != yaml.SequenceNode {
		tunnelsNode.Kind = yaml.SequenceNode
		tunnelsNode.Tag = ""
		tunnelsNode.Value = ""
	}
	// "tunnels: []" would keep appended items in flow style
	tunnelsNode.Style = 0
	return tunnelsNode
}

// AppendTunnel adds a tunnel to the manifest at path, creating the file
// if needed and preserving existing comments. It fails if the name is taken.
func AppendTunnel(path string, t TunnelSpec) error {
	var doc *yaml.Node
	if _, err := os.Stat(path); err == nil {
		doc, err = LoadYAMLWithComments(path)
		if err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}
	} else {
		doc = newManifestDocument(filepath.Base(filepath.Dir(absPath(path))))
	}

	root := GetRootDocument(doc)
	if root == nil || root.Kind != yaml.MappingNode {
		return fmt.Errorf("%s: top level must be a mapping", path)
	}

	tunnels := EnsureTunnelsNode(root)
	if SequenceContains(tunnels, "name", t.Name) {
		return fmt.Errorf("tunnel %q already exists in %s", t.Name, path)
	}
	AddToSequence(tunnels, TunnelToNode(t))

	return SaveYAMLWithComments(path, doc)
}

// RemoveTunnel removes the named tunnel from the manifest at path
func RemoveTunnel(path, name string) error {
	doc, err := LoadYAMLWithComments(path)
	if err != nil {
		return err
	}
	root := GetRootDocument(doc)
	if !RemoveFromSequence(FindMapKey(root, "tunnels"), "name", name) {
		return fmt.Errorf("tunnel %q not found in %s", name, path)
	}
	return SaveYAMLWithComments(path, doc)
}

func newManifestDocument(name string) *yaml.Node {
	scalar := func(v string) *yaml.Node { return &yaml.Node{Kind: yaml.ScalarNode, Value: v} }

	root := &yaml.Node{Kind: yaml.MappingNode}
	AddMapKey(root, "apiVersion", scalar(DefaultAPIVersion))
	AddMapKey(root, "kind", scalar(DefaultKind))
	if name != "" && name != "." && name != "/" {
		meta := &yaml.Node{Kind: yaml.MappingNode}
		AddMapKey(meta, "name", scalar(name))
		AddMapKey(root, "metadata", meta)
	}
	AddMapKey(root, "tunnels", &yaml.Node{Kind: yaml.SequenceNode})

	return &yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{root}}
}

func absPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}
