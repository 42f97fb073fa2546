package routing

import "errors"

var (
	// ErrNoRoutes is returned when the route source cannot produce a
	// single route to the destination.
	ErrNoRoutes = errors.New("no routes to destination")

	// ErrTooManyPaths is returned when a split policy requests more
	// paths than the manager is configured to allow.
	ErrTooManyPaths = errors.New("too many paths requested")

	// ErrPathAmountBelowMinimum is returned when splitting the payment
	// would produce a path below the configured per-path minimum.
	ErrPathAmountBelowMinimum = errors.New("path amount below minimum")

	// ErrFeeLimitExceeded is returned when the routes' combined fees
	// exceed the configured tolerance.
	ErrFeeLimitExceeded = errors.New("fee limit exceeded")

	// ErrPaymentNotFound is returned when an operation references an
	// unknown or already archived payment.
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrPaymentTerminal is returned when an operation requires an in
	// flight payment but the payment has already completed.
	ErrPaymentTerminal = errors.New("payment already terminal")

	// ErrPathLockFailed is returned by SendPayment when a path's first
	// hop contract could not be locked. All paths of the payment have
	// been rolled back when this is returned.
	ErrPathLockFailed = errors.New("path lock failed")

	// ErrNotCancellable is returned when cancellation is requested after
	// a path has already settled.
	ErrNotCancellable = errors.New("payment no longer cancellable")

	// ErrWaitTimeout is returned by WaitForCompletion when the caller's
	// deadline elapses first. The payment itself is unaffected.
	ErrWaitTimeout = errors.New("timed out waiting for payment")

	// ErrManagerShutdown is returned when the manager is stopping.
	ErrManagerShutdown = errors.New("payment manager shutting down")
)
