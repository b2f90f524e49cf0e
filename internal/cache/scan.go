package cache

import (
	"context"
	"iter"
)

// scanFunc fetches one batch of set members starting at cursor and returns
// the cursor for the next batch. A returned cursor of 0 ends the scan.
type scanFunc func(ctx context.Context, cursor uint64) (members []string, next uint64, err error)

// scanMembers walks a cursor-based scan lazily. The sequence restarts from
// cursor 0 each time it is ranged over. Members may repeat across batches.
func scanMembers(ctx context.Context, scan scanFunc) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		var cursor uint64
		for {
			members, next, err := scan(ctx, cursor)
			if err != nil {
				yield("", err)
				return
			}
			for _, m := range members {
				if !yield(m, nil) {
					return
				}
			}
			cursor = next
			if cursor == 0 {
				return
			}
		}
	}
}

// reverseMembers enumerates the members of a reverse index with SSCAN.
func (e *Engine) reverseMembers(ctx context.Context, tagKey string) iter.Seq2[string, error] {
	return scanMembers(ctx, func(ctx context.Context, cursor uint64) ([]string, uint64, error) {
		return e.client.SScan(ctx, tagKey, cursor, "", e.scanCount).Result()
	})
}
