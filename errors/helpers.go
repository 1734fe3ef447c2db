package errors

// WrapOpComponent provides a convenience helper to wrap errors with consistent Op and Component propagation.
// It avoids repetition when creating structured errors throughout the codebase.
// If err is nil, returns nil. If err is already a SyncError it is returned unchanged
// so the innermost classification wins.
func WrapOpComponent(err error, op Operation, component string) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*SyncError); ok {
		return err
	}
	return NewWithComponent(op, component, err)
}

// WrapRetryable wraps err as a retryable SyncError with the given Op and Component.
// If err is nil, returns nil.
func WrapRetryable(err error, op Operation, component string) error {
	if err == nil {
		return nil
	}
	return &SyncError{
		Op:        op,
		Component: component,
		Err:       err,
		Retryable: true,
	}
}
