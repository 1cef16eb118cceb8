// Package access encodes security-group lists as 64-bit masks and filters by them.
package access

import (
	"fmt"

	"github.com/kotae-ai/kotae/internal/models"
)

// Unrestricted is the reserved all-ones mask meaning "no restriction".
// Encoding an empty or nil group list yields it; decoding it yields nil.
const Unrestricted uint64 = ^uint64(0)

// MaxGroup is the highest valid security group id.
const MaxGroup = 63

// EncodeGroups bit-ORs a list of group ids in [0,63] into a mask.
// nil or empty input encodes as Unrestricted. An out-of-range id is a
// validation error, not silently ignored.
func EncodeGroups(groups []int) (uint64, error) {
	if len(groups) == 0 {
		return Unrestricted, nil
	}
	var mask uint64
	for _, g := range groups {
		if g < 0 || g > MaxGroup {
			return 0, fmt.Errorf("%w: security group %d out of range [0,%d]", models.ErrValidation, g, MaxGroup)
		}
		mask |= 1 << uint(g)
	}
	return mask, nil
}

// DecodeMask returns the group ids set in mask, in ascending order.
// The Unrestricted mask decodes to nil, meaning public.
func DecodeMask(mask uint64) []int {
	if mask == Unrestricted {
		return nil
	}
	var groups []int
	for g := 0; g <= MaxGroup; g++ {
		if mask&(1<<uint(g)) != 0 {
			groups = append(groups, g)
		}
	}
	return groups
}

// Allowed reports whether a caller holding callerMask may see a chunk stored
// with chunkMask: any shared bit grants access. The Unrestricted chunk mask
// matches every non-zero caller mask.
func Allowed(chunkMask, callerMask uint64) bool {
	return chunkMask&callerMask != 0
}
