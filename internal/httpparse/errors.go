package httpparse

import "errors"

// errMalformedHeader is a sentinel matching the pre-declared, zero-alloc
// error style of _examples/other_examples/MiraiMindz-watt__errors.go.
var errMalformedHeader = errors.New("httpparse: malformed header line")
