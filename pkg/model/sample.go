package model

import "path/filepath"

// Sample is one sequencing sample under assembly.
type Sample struct {
	Name      string   `json:"name"`
	Dir       string   `json:"dir"`
	ReadFiles []string `json:"read_files"`
	Unpaired  string   `json:"unpaired,omitempty"`
	CPU       int      `json:"cpu"`
}

// Paired reports whether the sample has a read pair.
func (s Sample) Paired() bool {
	return len(s.ReadFiles) == 2
}

// UnitDir returns the directory owned by the named work unit.
func (s Sample) UnitDir(unit string) string {
	return filepath.Join(s.Dir, unit)
}
