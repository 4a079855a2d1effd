package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

const commentedManifest = `# Tunnels for the shop demo
apiVersion: tunneldash/v1
kind: Tunnels
metadata:
  name: shop
tunnels:
  # Storefront dev server
  - name: web
    provider: cloudflared
    port: 3000
  - name: api
    provider: ngrok
    port: 8080
`

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tunneldash.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAndSaveYAMLWithComments(t *testing.T) {
	path := writeManifest(t, commentedManifest)

	node, err := LoadYAMLWithComments(path)
	if err != nil {
		t.Fatalf("failed to load YAML: %v", err)
	}
	if node.Kind != yaml.DocumentNode {
		t.Errorf("expected DocumentNode, got %v", node.Kind)
	}

	outputPath := filepath.Join(filepath.Dir(path), "output.yaml")
	if err := SaveYAMLWithComments(outputPath, node); err != nil {
		t.Fatalf("failed to save YAML: %v", err)
	}

	saved, err := os.ReadFile(outputPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(saved), "# Tunnels for the shop demo") {
		t.Error("top-level comment not preserved")
	}
	if !strings.Contains(string(saved), "# Storefront dev server") {
		t.Error("item comment not preserved")
	}
}

func TestFindMapKey(t *testing.T) {
	var node yaml.Node
	if err := yaml.Unmarshal([]byte(commentedManifest), &node); err != nil {
		t.Fatal(err)
	}
	root := GetRootDocument(&node)

	if v := FindMapKey(root, "apiVersion"); v == nil || v.Value != DefaultAPIVersion {
		t.Errorf("FindMapKey(apiVersion) = %v", v)
	}
	if name := FindMapKey(FindMapKey(root, "metadata"), "name"); name == nil || name.Value != "shop" {
		t.Errorf("FindMapKey(metadata.name) = %v", name)
	}
	if FindMapKey(root, "nonexistent") != nil {
		t.Error("expected nil for non-existent key")
	}
	if FindMapKey(nil, "test") != nil {
		t.Error("expected nil for nil node")
	}
}

func TestSequenceHelpers(t *testing.T) {
	var node yaml.Node
	if err := yaml.Unmarshal([]byte(commentedManifest), &node); err != nil {
		t.Fatal(err)
	}
	tunnels := FindMapKey(GetRootDocument(&node), "tunnels")

	if !SequenceContains(tunnels, "name", "web") {
		t.Error("expected web in tunnels")
	}
	if SequenceContains(tunnels, "name", "docs") {
		t.Error("did not expect docs in tunnels")
	}

	AddToSequence(tunnels, TunnelToNode(TunnelSpec{Name: "docs", Provider: "sshrelay", Port: 4000}))
	if len(tunnels.Content) != 3 || !SequenceContains(tunnels, "name", "docs") {
		t.Errorf("AddToSequence did not append, got %d items", len(tunnels.Content))
	}

	if !RemoveFromSequence(tunnels, "name", "web") {
		t.Error("expected web to be removed")
	}
	if RemoveFromSequence(tunnels, "name", "web") {
		t.Error("web removed twice")
	}
	if len(tunnels.Content) != 2 {
		t.Errorf("expected 2 tunnels, got %d", len(tunnels.Content))
	}

	// Non-sequence nodes are left alone
	AddToSequence(nil, &yaml.Node{})
	if SequenceContains(nil, "name", "x") || RemoveFromSequence(nil, "name", "x") {
		t.Error("nil sequence should match nothing")
	}
}

func TestTunnelToNode(t *testing.T) {
	spec := TunnelSpec{
		Name:       "web",
		Provider:   "cloudflared",
		Port:       3000,
		Host:       DefaultHost,
		Mode:       "local",
		TunnelName: "shop",
		Domain:     "shop.example.com",
		Token:      "${CF_TOKEN}",
		Disabled:   true,
	}

	data, err := yaml.Marshal(TunnelToNode(spec))
	if err != nil {
		t.Fatal(err)
	}

	var decoded TunnelSpec
	if err := yaml.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("rendered node does not decode: %v\n%s", err, data)
	}
	spec.Host = ""
	if decoded != spec {
		t.Errorf("decoded %+v, want %+v", decoded, spec)
	}
	if strings.Contains(string(data), "host:") {
		t.Errorf("default host should be omitted:\n%s", data)
	}
}

func TestTunnelToNode_QuotesNumericStrings(t *testing.T) {
	data, err := yaml.Marshal(TunnelToNode(TunnelSpec{Name: "web", Provider: "sshrelay", Port: 3000, Token: "12345"}))
	if err != nil {
		t.Fatal(err)
	}

	var decoded TunnelSpec
	if err := yaml.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("decode: %v\n%s", err, data)
	}
	if decoded.Token != "12345" || decoded.Port != 3000 {
		t.Errorf("decoded %+v", decoded)
	}
}

func TestEnsureTunnelsNode(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing", "apiVersion: tunneldash/v1\n"},
		{"null", "apiVersion: tunneldash/v1\ntunnels:\n"},
		{"flow", "apiVersion: tunneldash/v1\ntunnels: []\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var node yaml.Node
			if err := yaml.Unmarshal([]byte(tt.content), &node); err != nil {
				t.Fatal(err)
			}
			root := GetRootDocument(&node)

			seq := EnsureTunnelsNode(root)
			if seq.Kind != yaml.SequenceNode || seq.Style&yaml.FlowStyle != 0 {
				t.Fatalf("expected block sequence, got kind %v style %v", seq.Kind, seq.Style)
			}
			if EnsureTunnelsNode(root) != seq {
				t.Error("second call should return the same node")
			}
		})
	}
}

func TestAppendTunnel(t *testing.T) {
	path := writeManifest(t, commentedManifest)

	if err := AppendTunnel(path, TunnelSpec{Name: "docs", Provider: "sshrelay", Port: 4000, Host: DefaultHost}); err != nil {
		t.Fatalf("AppendTunnel failed: %v", err)
	}

	saved, _ := os.ReadFile(path)
	if !strings.Contains(string(saved), "# Storefront dev server") {
		t.Error("comments lost on append")
	}

	m, err := NewLoader(filepath.Dir(path)).Load()
	if err != nil {
		t.Fatalf("appended manifest does not load: %v\n%s", err, saved)
	}
	if len(m.Tunnels) != 3 || m.Tunnels[2].Name != "docs" || m.Tunnels[2].Port != 4000 {
		t.Errorf("unexpected tunnels %+v", m.Tunnels)
	}

	err = AppendTunnel(path, TunnelSpec{Name: "web", Provider: "sshrelay", Port: 5000})
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Errorf("expected duplicate error, got %v", err)
	}
}

func TestAppendTunnel_CreatesManifest(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "blog")
	if err := os.Mkdir(dir, 0755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, DefaultConfigFile)

	if err := AppendTunnel(path, TunnelSpec{Name: "web", Provider: "cloudflared", Port: 1313, Mode: "quick"}); err != nil {
		t.Fatalf("AppendTunnel failed: %v", err)
	}

	m, err := NewLoader(dir).Load()
	if err != nil {
		t.Fatalf("created manifest does not load: %v", err)
	}
	if m.Metadata.Name != "blog" {
		t.Errorf("expected metadata.name blog, got %q", m.Metadata.Name)
	}
	if len(m.Tunnels) != 1 || m.Tunnels[0].Port != 1313 {
		t.Errorf("unexpected tunnels %+v", m.Tunnels)
	}
}

func TestRemoveTunnel(t *testing.T) {
	path := writeManifest(t, commentedManifest)

	if err := RemoveTunnel(path, "api"); err != nil {
		t.Fatalf("RemoveTunnel failed: %v", err)
	}
	m, err := NewLoader(filepath.Dir(path)).Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Tunnels) != 1 || m.Tunnels[0].Name != "web" {
		t.Errorf("unexpected tunnels %+v", m.Tunnels)
	}

	if err := RemoveTunnel(path, "api"); err == nil {
		t.Error("expected not found error")
	}
}
