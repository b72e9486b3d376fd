package web3

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadChainDefinitions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chains.yaml")
	content := `chains:
  sepolia:
    type: evm
    rpc_url: https://rpc.example.org
    description: test chain
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	defs, err := LoadChainDefinitions(path)
	if err != nil {
		t.Fatalf("load definitions: %v", err)
	}
	chain, ok := defs.Chains["sepolia"]
	if !ok {
		t.Fatal("sepolia chain missing")
	}
	if chain.Type != "evm" {
		t.Fatalf("unexpected type: %q", chain.Type)
	}
	if chain.RPCURL != "https://rpc.example.org" {
		t.Fatalf("unexpected rpc url: %q", chain.RPCURL)
	}
}

func TestLoadChainDefinitionsEmptyPath(t *testing.T) {
	defs, err := LoadChainDefinitions("")
	if err != nil {
		t.Fatalf("load definitions: %v", err)
	}
	if len(defs.Chains) != 0 {
		t.Fatalf("expected empty chain map, got %d entries", len(defs.Chains))
	}
}
