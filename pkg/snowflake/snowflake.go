package snowflake

import (
	"fmt"
	"os"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
)

var Module = fx.Module("snowflake",
	fx.Provide(NewNode),
)

// Node wraps snowflake.Node so the rest of the code does not import
// the library directly.
type Node struct {
	*snowflake.Node
}

// NewNode builds an ID generator. The node id comes from
// SNOWFLAKE_NODE_ID and must differ per running instance; it defaults
// to 1 for single-instance deployments.
func NewNode() (*Node, error) {
	nodeID := int64(1)
	if raw := os.Getenv("SNOWFLAKE_NODE_ID"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid SNOWFLAKE_NODE_ID %q: %w", raw, err)
		}
		nodeID = parsed
	}
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, err
	}
	return &Node{node}, nil
}

// GenerateID returns a new snowflake ID as int64.
func (n *Node) GenerateID() int64 {
	return n.Generate().Int64()
}

// ParseID parses a decimal string ID into an int64.
func ParseID(id string) (int64, error) {
	return strconv.ParseInt(id, 10, 64)
}
