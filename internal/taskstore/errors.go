package taskstore

import "errors"

var (
	// ErrNotFound is returned when a task or project does not exist.
	ErrNotFound = errors.New("task not found")
	// ErrProjectExists is returned by PersistDag when the project already has tasks.
	ErrProjectExists = errors.New("project already scheduled")
)
