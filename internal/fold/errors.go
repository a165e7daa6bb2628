package fold

import "errors"

var (
	ErrInvalidConfig    = errors.New("fold: invalid configuration")
	ErrInputExhausted   = errors.New("fold: input stream closed early")
	ErrWeightsExhausted = errors.New("fold: weight stream closed early")
	ErrElementShape     = errors.New("fold: element shape mismatch")
	ErrWordWidth        = errors.New("fold: packed word too narrow")
	ErrTableShape       = errors.New("fold: weight table shape mismatch")
)
