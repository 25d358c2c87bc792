package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownJobType is returned when no template is registered under a name
	ErrUnknownJobType = errors.New("unknown job type")
	// ErrTemplateLoad matches every *TemplateLoadError
	ErrTemplateLoad = errors.New("template load error")
	// ErrDuplicateJobType is returned by Register when the name is taken
	ErrDuplicateJobType = errors.New("duplicate job type")
)

// TemplateLoadError reports a registered template that could not be read or parsed
type TemplateLoadError struct {
	JobType  string
	Location string
	Err      error
}

func (e *TemplateLoadError) Error() string {
	return fmt.Sprintf("template %q (%s): %v", e.JobType, e.Location, e.Err)
}

func (e *TemplateLoadError) Unwrap() error {
	return e.Err
}

func (e *TemplateLoadError) Is(target error) bool {
	return target == ErrTemplateLoad
}
