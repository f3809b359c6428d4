package utilities

import (
	"fmt"
	"os"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"github.com/segmentio/ksuid"
)

// NewKSUID generates a new globally unique KSUID string.
func NewKSUID() string {
	return ksuid.New().String()
}

// IDGen hands out time-ordered snowflake ids from one node. A single node
// must be shared so ids generated within the same millisecond stay unique.
type IDGen struct {
	node *snowflake.Node
}

// NewIDGen builds a generator for the given node id (0..1023).
func NewIDGen(nodeID int64) (*IDGen, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", nodeID, err)
	}
	return &IDGen{node: node}, nil
}

// IDGenFromEnv reads the node id from SNOWFLAKE_NODE, defaulting to 1 when
// it is unset or unparsable.
func IDGenFromEnv() (*IDGen, error) {
	nodeID := int64(1)
	if v := os.Getenv("SNOWFLAKE_NODE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			nodeID = n
		}
	}
	return NewIDGen(nodeID)
}

// Next returns the next id as a decimal string.
func (g *IDGen) Next() string {
	return g.node.Generate().String()
}
