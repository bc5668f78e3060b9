package analysis

import "errors"

// ErrStaleReference indicates the referenced AnalysisResult no longer
// matches the dataset (dataset deleted, replaced, or already purified).
// Fatal: the caller must re-analyze.
var ErrStaleReference = errors.New("analysis reference is stale")

// ErrNoMethods indicates every requested detector failed, leaving the
// ensemble with nothing to fuse.
var ErrNoMethods = errors.New("no detector produced a result")

// ErrUnknownMethod indicates a requested detection method is not one of
// the configured detectors.
var ErrUnknownMethod = errors.New("unknown detection method")
