package errors

// WrapOpComponent wraps err with an operation and component. Storage errors
// keep the storage code and are retryable. If err is nil, returns nil.
func WrapOpComponent(err error, op Operation, component string) error {
	if err == nil {
		return nil
	}
	e := NewStorageError(op, err)
	e.Component = component
	return e
}

// WrapNotFound wraps err as a not-found error for the given component.
// If err is nil, returns nil.
func WrapNotFound(err error, op Operation, component string) error {
	if err == nil {
		return nil
	}
	e := NewNotFoundError(op, err)
	e.Component = component
	return e
}
