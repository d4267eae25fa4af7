package syncutil

import "context"

// LinkedContext returns a context that is cancelled when either parent
// is. Handlers that serve both a fabric-wide context and a
// component-local one use it so that tearing down the component unparks
// them without tearing down the fabric.
func LinkedContext(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(a)
	stop := context.AfterFunc(b, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
