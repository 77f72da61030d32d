package domain

import "errors"

var (
	ErrNotFound            = errors.New("record not found")
	ErrStatusChanged       = errors.New("status changed concurrently")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrDetailsExceedAmount = errors.New("payment details exceed payment amount")
)
