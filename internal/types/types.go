package types

import (
	"fmt"
	"time"
)

type Role int

const (
	RoleAdmin Role = iota
	RoleCustomer
	RoleVeterinarian
)

var roleNames = map[Role]string{
	RoleAdmin:        "admin",
	RoleCustomer:     "customer",
	RoleVeterinarian: "veterinarian",
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return fmt.Sprintf("role(%d)", int(r))
}

func (r Role) Valid() bool {
	_, ok := roleNames[r]
	return ok
}

func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("invalid role %d", int(r))
	}
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(text []byte) error {
	for role, name := range roleNames {
		if name == string(text) {
			*r = role
			return nil
		}
	}
	return fmt.Errorf("unknown role %q", string(text))
}

type User struct {
	Id           int       `json:"id"`
	Username     string    `json:"username"`
	EmailAddress string    `json:"email_address,omitempty"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

// Message is the wire shape of a direct message. REST reads, the polling
// endpoint and the live new_message event all use it.
type Message struct {
	Id            int       `json:"id"`
	SenderId      int       `json:"sender"`
	RecipientId   int       `json:"recipient"`
	SenderName    string    `json:"sender_name"`
	RecipientName string    `json:"recipient_name"`
	Content       string    `json:"content"`
	Timestamp     time.Time `json:"timestamp"`
	IsRead        bool      `json:"is_read"`
}

type NotificationKind string

const (
	KindOrder        NotificationKind = "order"
	KindMessage      NotificationKind = "message"
	KindConsultation NotificationKind = "consultation"
	KindSystem       NotificationKind = "system"
)

func (k NotificationKind) Valid() bool {
	switch k {
	case KindOrder, KindMessage, KindConsultation, KindSystem:
		return true
	}
	return false
}

type Notification struct {
	Id        int              `json:"id"`
	UserId    int              `json:"user_id"`
	Kind      NotificationKind `json:"kind"`
	Body      string           `json:"body"`
	CreatedAt time.Time        `json:"created_at"`
	IsRead    bool             `json:"is_read"`
}

type Consultation struct {
	Id        int       `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Problem   string    `json:"problem"`
	CreatedAt time.Time `json:"created_at"`
}

// ConsultationRequest is an anonymous request that an admin routes to a
// veterinarian.
type ConsultationRequest struct {
	Id               int        `json:"id"`
	UserName         string     `json:"user_name"`
	UserEmail        string     `json:"user_email"`
	Problem          string     `json:"problem"`
	VeterinarianId   *int       `json:"veterinarian"`
	VeterinarianName string     `json:"veterinarian_name,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	AssignedAt       *time.Time `json:"assigned_at,omitempty"`
}
