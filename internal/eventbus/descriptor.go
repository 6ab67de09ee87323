package eventbus

import "github.com/tidwall/gjson"

// NodeDescriptor is the multi-machine broker-tree position spec.4.9
// describes: a parent broker address this node forwards up to, plus the
// port it listens on for children of its own.
type NodeDescriptor struct {
	ParentAddr        string
	NodeListeningPort int
}

// ParseNodeDescriptor extracts a NodeDescriptor from a raw JSON blob
// (reading its parent_addr and node_listening_port fields) using ad hoc
// field lookups rather than a full
// struct decode, since the blob may carry extra fields future topology
// versions add that this node doesn't need to understand.
func ParseNodeDescriptor(raw string) NodeDescriptor {
	return NodeDescriptor{
		ParentAddr:        gjson.Get(raw, "parent_addr").String(),
		NodeListeningPort: int(gjson.Get(raw, "node_listening_port").Int()),
	}
}

// HasParent reports whether this descriptor names a parent broker to
// forward events up to (the root of a multi-machine tree has none).
func (d NodeDescriptor) HasParent() bool { return d.ParentAddr != "" }
