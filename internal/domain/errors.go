package domain

import "errors"

var (
	ErrInvalidQuery      = errors.New("invalid query")
	ErrNotFound          = errors.New("not found")
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrRankingFailed     = errors.New("ranking failed")
)
