package magnitude

import "fmt"

// ShardDecodeError reports a shard that could not be read, decoded, or merged.
// It is fatal for an aggregation run.
type ShardDecodeError struct {
	Shard string
	Err   error
}

func (e *ShardDecodeError) Error() string {
	return fmt.Sprintf("shard %s: %v", e.Shard, e.Err)
}

func (e *ShardDecodeError) Unwrap() error {
	return e.Err
}
