package storage

import "fmt"

// AuthenticationError reports credentials that are missing, unreadable or
// rejected by the remote service.
type AuthenticationError struct {
	Backend string
	Err     error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("storage: %s authentication failed: %v", e.Backend, e.Err)
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// TransferError reports a network or remote failure while moving bytes. No
// partial object is committed when it is returned.
type TransferError struct {
	ObjectName string
	Err        error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("storage: transfer of %q failed: %v", e.ObjectName, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// LocalFileError reports a local file that could not be opened or read.
type LocalFileError struct {
	Path string
	Err  error
}

func (e *LocalFileError) Error() string {
	return fmt.Sprintf("storage: cannot read local file %q: %v", e.Path, e.Err)
}

func (e *LocalFileError) Unwrap() error {
	return e.Err
}
