package network

// Record is a raw reach declaration as produced by a network source.
// Downstream is empty for a network outlet.
type Record struct {
	ID         string `yaml:"id" json:"id"`
	Downstream string `yaml:"toid" json:"toid,omitempty"`
}

// Node is one reach in a built topology.
type Node struct {
	ID         string   `json:"id"`
	Upstream   []string `json:"upstream,omitempty"` // ascending
	Downstream string   `json:"downstream,omitempty"`
	Rank       int      `json:"rank"`
	Level      int      `json:"level"`
}

// IsOutlet reports whether the reach drains out of the network.
func (n *Node) IsOutlet() bool { return n.Downstream == "" }

// IsHeadwater reports whether the reach has no upstream contributors.
func (n *Node) IsHeadwater() bool { return len(n.Upstream) == 0 }
