package logstore

import "errors"

var (
	// ErrClosed is returned once the writer or reader actor has exited.
	ErrClosed        = errors.New("log store closed")
	ErrNonSequential = errors.New("log ids are not sequential")
)
