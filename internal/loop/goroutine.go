package loop

import (
	"runtime"
	"strconv"
	"strings"
)

// goroutineID parses the numeric goroutine id out of the runtime stack
// header ("goroutine 12 [running]: ..."). There is no supported API for
// this; the loop uses the id only as an opaque token captured at Run entry
// and compared on call-ins, never for scheduling decisions.
func goroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	s := strings.TrimPrefix(string(buf[:n]), "goroutine ")
	if i := strings.IndexByte(s, ' '); i > 0 {
		if id, err := strconv.ParseInt(s[:i], 10, 64); err == nil {
			return id
		}
	}
	return -1
}
