package types

import (
	"encoding/json"
	"fmt"
)

// Stage is the confirmation state of an uploaded chunk. Stages are strictly
// ordered and never regress within one upload attempt.
type Stage int

const (
	StageNone Stage = iota
	StageUploaded
	StageRootRegistered
	StageRootConfirmed
)

var stageNames = map[Stage]string{
	StageNone:           "",
	StageUploaded:       "uploaded",
	StageRootRegistered: "root-registered",
	StageRootConfirmed:  "root-confirmed",
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// Advance returns the more advanced of s and next.
func (s Stage) Advance(next Stage) Stage {
	if next > s {
		return next
	}
	return s
}

// ParseStage is the inverse of Stage.String.
func ParseStage(name string) (Stage, error) {
	for s, n := range stageNames {
		if n == name {
			return s, nil
		}
	}
	return StageNone, fmt.Errorf("unknown confirmation stage %q", name)
}

func (s Stage) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Stage) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseStage(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
