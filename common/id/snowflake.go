package id

import (
	"sync"

	"github.com/bwmarrin/snowflake"
)

// epochMillis anchors generated IDs at 2025-01-01T00:00:00Z instead of
// the library's 2010 default, so the timestamp bits cover event rows
// written well past 2090.
const epochMillis = 1735689600000

var (
	node *snowflake.Node
	once sync.Once
)

// Init configures the Snowflake node for this process. Each server and
// worker instance needs a distinct node ID so event row IDs never
// collide across the fleet.
func Init(nodeID int64) error {
	var err error
	once.Do(func() {
		snowflake.Epoch = epochMillis
		node, err = snowflake.NewNode(nodeID)
	})
	return err
}

// New returns the next event row ID: a time-ordered int64 unique across
// all instances. Init must have been called first.
func New() int64 {
	return node.Generate().Int64()
}
