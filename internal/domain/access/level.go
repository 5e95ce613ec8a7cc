package access

import (
	"encoding/json"
	"strings"

	"github.com/ehr/patientcore/internal/platform/apperr"
)

// Level is the ordered permission ceiling: none < read < write < full.
type Level int

const (
	LevelNone Level = iota
	LevelRead
	LevelWrite
	LevelFull
)

func (l Level) String() string {
	switch l {
	case LevelRead:
		return "read"
	case LevelWrite:
		return "write"
	case LevelFull:
		return "full"
	default:
		return "none"
	}
}

// AtLeast reports whether l grants everything required grants.
func (l Level) AtLeast(required Level) bool {
	return l >= required
}

// ParseLevel parses a grantable level. "none" is not grantable and is rejected.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "read":
		return LevelRead, nil
	case "write":
		return LevelWrite, nil
	case "full":
		return LevelFull, nil
	default:
		return LevelNone, apperr.InvalidInput("invalid permission level %q: must be read, write or full", s)
	}
}

func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

func (l *Level) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return apperr.InvalidInput("permission level must be a string")
	}
	if strings.EqualFold(s, "none") {
		*l = LevelNone
		return nil
	}
	parsed, err := ParseLevel(s)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}
