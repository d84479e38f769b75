// Package checkpoint saves and restores partially aggregated shard unions,
// so an interrupted aggregation resumes without decoding merged shards again.
package checkpoint

// Metadata describes a saved checkpoint.
type Metadata struct {
	Version   int      `json:"version"`
	Precision uint8    `json:"precision"`
	CreatedAt string   `json:"created_at"`
	Domains   int      `json:"domains"`
	Shards    []string `json:"shards"`
}
