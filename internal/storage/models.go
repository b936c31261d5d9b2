package storage

import "time"

const (
	UserRoleUser  = "USER"
	UserRoleAdmin = "ADMIN"

	WorkspaceRoleOwner  = "OWNER"
	WorkspaceRoleMember = "MEMBER"
	WorkspaceRoleGuest  = "GUEST"
)

type User struct {
	ID             string
	Email          string
	HashedPassword string
	FirstName      *string
	LastName       *string
	Role           string
	IsActive       bool
	IsFirstLogin   bool
	TOSAccepted    bool
	TwoFAEnabled   bool
	EncTwoFASecret *string
	LastLogin      *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (u User) IsAdmin() bool {
	return u.Role == UserRoleAdmin
}

type Workspace struct {
	ID        string
	Name      string
	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type WorkspaceUser struct {
	WorkspaceID string
	UserID      string
	Role        string
	JoinedAt    time.Time
}

// RoleLevel ranks workspace roles; unknown roles rank zero.
func RoleLevel(role string) int {
	switch role {
	case WorkspaceRoleOwner:
		return 3
	case WorkspaceRoleMember:
		return 2
	case WorkspaceRoleGuest:
		return 1
	default:
		return 0
	}
}

func ValidWorkspaceRole(role string) bool {
	return RoleLevel(role) > 0
}

func (wu WorkspaceUser) HasAccess(required string) bool {
	return RoleLevel(wu.Role) >= RoleLevel(required)
}

type Chat struct {
	ID          string
	Title       string
	WorkspaceID *string
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (c Chat) Standalone() bool {
	return c.WorkspaceID == nil
}

// Message is immutable once inserted. Assistant replies carry no sender.
type Message struct {
	ID           string
	ChatID       string
	SenderID     *string
	Content      string
	Attachments  []string
	IsAIResponse bool
	CreatedAt    time.Time
}

type ProviderInstance struct {
	Name          string
	Type          string
	EncParamsJSON string
	CreatedAt     time.Time
}

type ProviderBinding struct {
	WorkspaceKey string
	ProviderName string
	UpdatedAt    time.Time
}

type AuditEntry struct {
	UserID   string
	Action   string
	MetaJSON string
}
