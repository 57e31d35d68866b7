package hash

import "errors"

// ErrDirectoryFull is returned by Insert (from its splitInsert slow path)
// when global_depth would need to exceed MaxDepth to place a pair: a fatal, out-of-space condition with
// no automatic retry.
var ErrDirectoryFull = errors.New("hash directory cannot grow past max depth")
