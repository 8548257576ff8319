package mandy

import (
	"errors"
	"fmt"
)

// Control actions understood by the agent. Each action is an absolute
// assignment, not a toggle: sending mandy:mute twice leaves the agent muted.
const (
	ActionStart           = "mandy:start"
	ActionStop            = "mandy:stop"
	ActionSetMode         = "mandy:set_mode"
	ActionMute            = "mandy:mute"
	ActionUnmute          = "mandy:unmute"
	ActionUpdateDirective = "mandy:update_directive"
	ActionLockMode        = "mandy:lock_mode"
	ActionUnlockMode      = "mandy:unlock_mode"
)

var ErrUnknownAction = errors.New("unknown control action")

// Command is one control message addressed to a room's agent.
//
// Version, when set, is the requester's currently-known state version and is
// used by the agent as an optimistic-concurrency check: a command carrying a
// version older than the agent's current one is rejected.
type Command struct {
	Action      string `json:"action"`
	Mode        Mode   `json:"mode,omitempty"`
	Directive   string `json:"directive,omitempty"`
	Reason      string `json:"reason,omitempty"`
	RequestedBy string `json:"requestedBy,omitempty"`
	Version     *int64 `json:"version,omitempty"`

	// Owner marks an owner-equivalent requester, which may unlock a mode
	// lock held by someone else.
	Owner bool `json:"owner,omitempty"`
}

// Requester returns the display name to attribute mutations to.
func (c Command) Requester() string {
	if c.RequestedBy == "" {
		return "unknown"
	}
	return c.RequestedBy
}

// Validate checks action-specific required fields. The directive for
// mandy:update_directive may legitimately be empty, so only set_mode has a
// field constraint beyond the action tag itself.
func (c Command) Validate() error {
	switch c.Action {
	case ActionStart, ActionStop, ActionMute, ActionUnmute,
		ActionUpdateDirective, ActionLockMode, ActionUnlockMode:
		return nil
	case ActionSetMode:
		if !validMode(c.Mode) {
			return fmt.Errorf("invalid mode %q", c.Mode)
		}
		return nil
	case "":
		return fmt.Errorf("%w: action missing", ErrUnknownAction)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, c.Action)
	}
}
