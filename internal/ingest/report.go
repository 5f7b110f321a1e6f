package ingest

import (
	"errors"
	"time"

	"bikeetl/internal/catalog"
	"bikeetl/internal/transformer"
)

// FileStatus is the outcome of one export file.
type FileStatus string

const (
	// StatusStaged means every well-formed row of the file was appended.
	StatusStaged FileStatus = "staged"
	// StatusSkipped means no catalog schema matched the header.
	StatusSkipped FileStatus = "skipped"
	// StatusFailed means the file could not be read or normalized.
	StatusFailed FileStatus = "failed"
)

// FileResult describes what happened to one file.
type FileResult struct {
	File     string
	Checksum string
	Schema   catalog.ID // zero unless detected
	Status   FileStatus
	Read     int
	Staged   int64

	// Malformed rows were skipped; they do not fail the file.
	Malformed []*transformer.MalformedRowError

	// Replaced counts undecodable characters written as U+FFFD.
	Replaced int

	// DuplicateOf names an earlier file in the same run with identical content.
	DuplicateOf string

	Err      error
	Duration time.Duration
}

// Report summarizes an ingestion run.
type Report struct {
	RunID string
	Files []FileResult
}

// Err joins the errors of every skipped or failed file, or returns nil.
func (r *Report) Err() error {
	if r == nil {
		return nil
	}
	var errs []error
	for _, f := range r.Files {
		if f.Err != nil {
			errs = append(errs, f.Err)
		}
	}
	return errors.Join(errs...)
}

// Staged returns the total number of rows appended.
func (r *Report) Staged() int64 {
	var n int64
	for _, f := range r.Files {
		n += f.Staged
	}
	return n
}

// Malformed returns the total number of skipped rows.
func (r *Report) Malformed() int {
	n := 0
	for _, f := range r.Files {
		n += len(f.Malformed)
	}
	return n
}

// Count returns how many files ended with status s.
func (r *Report) Count(s FileStatus) int {
	n := 0
	for _, f := range r.Files {
		if f.Status == s {
			n++
		}
	}
	return n
}
