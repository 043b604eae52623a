package models

// SchemaSummary is the roll-up of every (publisher, resource_type,
// action) triple the registry has observed. The pattern compiler injects
// it into the LLM prompt as a closed vocabulary.
type SchemaSummary struct {
	Publishers    []string            `json:"publishers"`
	ResourceTypes map[string][]string `json:"resource_types"`
	Actions       []string            `json:"actions"`
}

// Empty reports whether the registry has seen no events yet.
func (s *SchemaSummary) Empty() bool {
	return s == nil || len(s.Publishers) == 0
}
