package errors

import "errors"

// Join skips nil errors, so deferred cleanup can be joined unconditionally.
func Join(errs ...error) error {
	var errSlice []error
	for _, err := range errs {
		if err != nil {
			errSlice = append(errSlice, err)
		}
	}
	if len(errSlice) == 0 {
		return nil
	}
	if len(errSlice) == 1 {
		return errSlice[0]
	}
	return errors.Join(errSlice...)
}
