// Licensed under the MIT License. See LICENSE file in the project root for details.

package barrier

import "runtime"

// spinYield is the Go analogue of a pthread_yield() spin loop: yield the
// processor to another goroutine without blocking on any
// channel or condition variable, since the wake condition here is a plain
// atomic counter, not something a scheduler primitive can wait on
// directly.
func spinYield() {
	runtime.Gosched()
}
