package domain

import "errors"

var (
	ErrUnknownStream    = errors.New("unknown stream")
	ErrDuplicateStream  = errors.New("stream already registered")
	ErrInsufficientData = errors.New("insufficient telemetry data")
	ErrInvalidTier      = errors.New("tier outside configured table")
	ErrInvalidLayout    = errors.New("unknown layout")
)
