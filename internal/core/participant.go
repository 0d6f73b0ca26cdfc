package core

import "time"

// Role is the permission level of a participant inside a room.
type Role string

const (
	RoleHost        Role = "host"
	RoleModerator   Role = "moderator"
	RoleParticipant Role = "participant"
	RoleViewer      Role = "viewer"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleHost, RoleModerator, RoleParticipant, RoleViewer:
		return true
	}
	return false
}

// CanReview reports whether the role may admit or deny waiting candidates.
func (r Role) CanReview() bool {
	return r == RoleHost || r == RoleModerator
}

// MediaState describes the published media flags of a participant.
type MediaState struct {
	VideoEnabled  bool `json:"videoEnabled"`
	AudioEnabled  bool `json:"audioEnabled"`
	ScreenSharing bool `json:"screenSharing"`
}

// MediaPatch is a partial MediaState update. Nil fields are left untouched.
type MediaPatch struct {
	VideoEnabled  *bool `json:"videoEnabled,omitempty"`
	AudioEnabled  *bool `json:"audioEnabled,omitempty"`
	ScreenSharing *bool `json:"screenSharing,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p MediaPatch) Empty() bool {
	return p.VideoEnabled == nil && p.AudioEnabled == nil && p.ScreenSharing == nil
}

// Apply returns s with the patch applied.
func (p MediaPatch) Apply(s MediaState) MediaState {
	if p.VideoEnabled != nil {
		s.VideoEnabled = *p.VideoEnabled
	}
	if p.AudioEnabled != nil {
		s.AudioEnabled = *p.AudioEnabled
	}
	if p.ScreenSharing != nil {
		s.ScreenSharing = *p.ScreenSharing
	}
	return s
}

// Participant is one active connection representing a user inside a room.
// ID is unique per connection, not per user.
type Participant struct {
	ID          string     `json:"id"`
	UserID      string     `json:"userId"`
	DisplayName string     `json:"displayName"`
	Role        Role       `json:"role"`
	RoomID      string     `json:"roomId"`
	Media       MediaState `json:"mediaState"`
	JoinedAt    time.Time  `json:"joinedAt"`
}
