package mobi

import "errors"

// Sentinel error kinds raised by the decoder. Callers distinguish them with
// errors.Is; internal code wraps them with fmt.Errorf("%s: %w", ...) to add
// positional context before returning.
var (
	ErrBufferEnd         = errors.New("mobi: buffer operation exceeds declared length")
	ErrParamErr          = errors.New("mobi: invalid argument")
	ErrDataCorrupt       = errors.New("mobi: data corrupt")
	ErrMalloc            = errors.New("mobi: allocation failed")
	ErrInit              = errors.New("mobi: operation on uninitialized document")
	ErrUnsupportedFormat = errors.New("mobi: unsupported format")
	ErrFileNotFound      = errors.New("mobi: file not found")
	ErrWriteFailed       = errors.New("mobi: write failed")
	ErrDrmExpired        = errors.New("mobi: drm license expired")
	ErrDrmKeyNotFound    = errors.New("mobi: drm key not found")
)
