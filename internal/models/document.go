package models

import "sync"

// WorkingDocument is the copy of a document the pipeline operates on after
// preprocessing. It may be the original file itself.
type WorkingDocument struct {
	Path         string
	WasCorrected bool

	once    sync.Once
	release func() error
	err     error
}

// NewWorkingDocument wraps a path with an optional release function
func NewWorkingDocument(path string, wasCorrected bool, release func() error) *WorkingDocument {
	return &WorkingDocument{Path: path, WasCorrected: wasCorrected, release: release}
}

// Release frees the working copy. Safe to call more than once.
func (w *WorkingDocument) Release() error {
	if w == nil {
		return nil
	}
	w.once.Do(func() {
		if w.release != nil {
			w.err = w.release()
		}
	})
	return w.err
}
