package datasets

import "errors"

// ErrUnsupportedFormat indicates an unknown file extension/modality.
// Fatal: the request is rejected outright.
var ErrUnsupportedFormat = errors.New("unsupported dataset format")
