package models

import "time"

const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

// User представляет пользователя, в том числе гостевого
type User struct {
	ID             int64
	Email          *string // у гостя email нет
	PassHash       []byte
	Role           string
	IsGuest        bool
	GuestSessionID *string
	CreatedAt      time.Time
}
