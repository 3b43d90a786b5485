package auth

import (
	"fmt"
	"strings"
)

const (
	MinLevel = 0
	MaxLevel = 100
)

// Band is the qualitative clearance label derived from a numeric level.
type Band string

const (
	BandEntry        Band = "Entry"
	BandProfessional Band = "Professional"
	BandSenior       Band = "Senior"
	BandExecutive    Band = "Executive"
)

// BandForLevel maps a level onto its band. The mapping is monotonic in level.
func BandForLevel(level int) Band {
	switch {
	case level >= 80:
		return BandExecutive
	case level >= 60:
		return BandSenior
	case level >= 30:
		return BandProfessional
	default:
		return BandEntry
	}
}

// User is an employee profile as returned by the identity backend.
// Level is the only authoritative clearance value; Role is a display label.
type User struct {
	ID       int64  `json:"id,omitempty"`
	Username string `json:"username"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
	Level    int    `json:"level"`
	IsHR     bool   `json:"is_hr"`
}

// Band returns the user's clearance band.
func (u User) Band() Band { return BandForLevel(u.Level) }

// Validate checks the profile invariants a session may rely on.
func (u User) Validate() error {
	if strings.TrimSpace(u.Username) == "" {
		return fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	if u.Level < MinLevel || u.Level > MaxLevel {
		return fmt.Errorf("%w: level %d out of range", ErrInvalidInput, u.Level)
	}
	return nil
}

// Credential is a committed session: the opaque bearer token, the user it is
// bound to and the session epoch it was issued under.
type Credential struct {
	Token string
	User  User
	Epoch uint64
}

// LoginResult is the identity backend's answer to a successful login.
type LoginResult struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	User        User   `json:"user"`
}
