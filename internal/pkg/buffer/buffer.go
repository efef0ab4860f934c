package buffer

import (
	"sync"
)

// Size of one tunnel copy buffer. Each tunnel holds two while splicing, so
// 1000 tunnels pin about 64MB at worst.
const Size = 32 * 1024

var Pool = sync.Pool{
	New: func() any {
		b := make([]byte, Size)
		return &b
	},
}
