package ingest

import (
	"errors"
	"fmt"
)

// ErrStagingWrite marks a failed append to the staging sink. It aborts the run.
var ErrStagingWrite = errors.New("staging write failed")

// StagingWriteError wraps the sink error for the file whose append failed.
// Nothing from that file was staged.
type StagingWriteError struct {
	File  string
	Table string
	Err   error
}

func (e *StagingWriteError) Error() string {
	return fmt.Sprintf("%s: write %s: %v", e.File, e.Table, e.Err)
}

func (e *StagingWriteError) Unwrap() error { return e.Err }

func (e *StagingWriteError) Is(target error) bool { return target == ErrStagingWrite }
