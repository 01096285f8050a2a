package domain

type Role string

const (
	RoleHost  Role = "host"
	RolePayer Role = "payer"
)

func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleHost, RolePayer:
		return Role(s), nil
	}
	return "", ErrUnknownRole
}

// Identity addresses one party on the platform. The same user id could in
// principle appear under both roles; presence and routing always key on the
// full identity.
type Identity struct {
	Role   Role
	UserID UserID
}

func (i Identity) Key() string {
	return string(i.Role) + ":" + i.UserID.String()
}

func (i Identity) String() string {
	return i.Key()
}
