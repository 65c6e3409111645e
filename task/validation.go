package task

import (
	"fmt"
	"strings"
)

// NormalizeID trims incidental whitespace from an id and rejects blank ids.
func NormalizeID(id string) (string, error) {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return "", fmt.Errorf("%w: id is required", ErrInvalidTask)
	}
	return trimmed, nil
}

// Validate checks start <= end when both bounds are present.
func (i Interval) Validate() error {
	if i.Complete() && i.Start.After(*i.End) {
		return fmt.Errorf("%w: start %s is after end %s", ErrInvalidTask, FormatDate(*i.Start), FormatDate(*i.End))
	}
	return nil
}

// ValidateNew checks the fields required to create a task.
func ValidateNew(t Task) error {
	if strings.TrimSpace(t.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidTask)
	}
	return t.Interval.Validate()
}

func (p Patch) Validate() error {
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return fmt.Errorf("%w: title cannot be empty", ErrInvalidTask)
	}
	if p.Interval != nil {
		return p.Interval.Validate()
	}
	return nil
}
