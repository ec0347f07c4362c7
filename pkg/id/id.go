// Package id provides the process-wide snowflake node used for primary keys
// and provider-facing order references.
package id

import (
	"os"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
)

// NewNode builds the snowflake node. SNOWFLAKE_NODE_ID distinguishes
// replicas; single-instance deployments can leave it unset.
func NewNode() (*snowflake.Node, error) {
	nodeID := int64(1)
	if raw := os.Getenv("SNOWFLAKE_NODE_ID"); raw != "" {
		if parsed, err := strconv.ParseInt(raw, 10, 64); err == nil {
			nodeID = parsed
		}
	}
	return snowflake.NewNode(nodeID)
}

var Module = fx.Options(
	fx.Provide(NewNode),
)
