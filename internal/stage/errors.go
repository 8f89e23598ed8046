package stage

import "fmt"

// OrderError is returned when the requested start stage comes after the end
// stage.
type OrderError struct {
	Start Stage
	End   Stage
}

func (e *OrderError) Error() string {
	return fmt.Sprintf("start stage %q (order %d) comes after end stage %q (order %d)",
		e.Start, e.Start.Order(), e.End, e.End.Order())
}

// MissingArtifactError is returned when a skipped stage's output, needed by a
// later stage, is not on disk.
type MissingArtifactError struct {
	Producer Stage
	Artifact string
}

func (e *MissingArtifactError) Error() string {
	return fmt.Sprintf("cannot resume: %s not found; it is produced by stage %q, run that stage first", e.Artifact, e.Producer)
}
