package domain

import (
	"github.com/google/uuid"
)

type UserID uuid.UUID
type SessionID uuid.UUID

func NewSessionID() SessionID {
	return SessionID(uuid.New())
}

func ParseUserID(s string) (UserID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return UserID{}, err
	}
	return UserID(id), nil
}

func ParseSessionID(s string) (SessionID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return SessionID{}, err
	}
	return SessionID(id), nil
}

func (id UserID) String() string {
	return uuid.UUID(id).String()
}

func (id SessionID) String() string {
	return uuid.UUID(id).String()
}
