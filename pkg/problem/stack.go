package problem

import "runtime"

// captureStack snapshots the current goroutine's stack for 5xx-class
// problems; 4xx-class problems skip this entirely (see Type.CapturesStack).
func captureStack() []byte {
	buf := make([]byte, 4096)
	for {
		n := runtime.Stack(buf, false)
		if n < len(buf) {
			return buf[:n]
		}
		buf = make([]byte, 2*len(buf))
	}
}
