package util

import "errors"

var (
	ErrNoExtractableText = errors.New("reference material has no extractable text")
	ErrUnsafePath        = errors.New("path escapes its root")
)
