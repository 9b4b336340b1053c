package pipeline

import "fmt"

// Stage names the pipeline stage a fatal per-statement error came from.
type Stage string

const (
	StageExtract   Stage = "EXTRACT"
	StageNormalize Stage = "NORMALIZE"
	StageValidate  Stage = "VALIDATE"
	StageEmit      Stage = "EMIT"
	StageWrite     Stage = "WRITE"
)

// StageError is a fatal error for a single statement. A batch caller
// catches these per item (errors.As) and continues with the remaining
// statements; nothing here is process-fatal.
type StageError struct {
	Stage   Stage
	Message string
	Hint    string
	Err     error
}

func (e *StageError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("[%s] %s (%s)", e.Stage, e.Message, e.Hint)
	}
	return fmt.Sprintf("[%s] %s", e.Stage, e.Message)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageErr(stage Stage, message string, err error) *StageError {
	hint := ""
	if err != nil {
		hint = err.Error()
	}
	return &StageError{Stage: stage, Message: message, Hint: hint, Err: err}
}
