package core

import (
	"fmt"
	"sort"
	"strings"
)

// DuplicateExpertError is returned by the registry when an expert name is
// registered twice.
type DuplicateExpertError struct {
	Name string
}

func (e *DuplicateExpertError) Error() string {
	return fmt.Sprintf("expert %q is already registered", e.Name)
}

// TurnFailedError is surfaced when every dispatched expert of a turn failed
// and there is no content to return. Causes maps expert name to the failure.
type TurnFailedError struct {
	Causes map[string]error
}

func (e *TurnFailedError) Error() string {
	names := make([]string, 0, len(e.Causes))
	for name := range e.Causes {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %v", name, e.Causes[name]))
	}
	return fmt.Sprintf("turn failed, all experts errored (%s)", strings.Join(parts, "; "))
}
