package tui

import "errors"

var (
	// ErrAborted signals the user aborted input (e.g., Ctrl+C).
	ErrAborted = errors.New("tui: aborted")
	// ErrNoForm is returned when the rendering model carries no root form.
	ErrNoForm = errors.New("tui: rendering model has no root form")
	// ErrAttemptsExhausted is returned when a submit is still blocked after the
	// configured number of correction rounds.
	ErrAttemptsExhausted = errors.New("tui: submit still blocked after retries")
)
