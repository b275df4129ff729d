package database

import "time"

type User struct {
	Id           int
	Username     string
	EmailAddress string
	PasswordHash string
	Role         int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Message struct {
	Id            int
	SenderId      int
	RecipientId   int
	SenderName    string
	RecipientName string
	Content       string
	CreatedAt     time.Time
	IsRead        bool
}

// ReadReceipt identifies a message whose read flag was flipped and the
// sender who should hear about it.
type ReadReceipt struct {
	MessageId int
	SenderId  int
}

type Notification struct {
	Id        int
	UserId    int
	Kind      string
	Body      string
	CreatedAt time.Time
	IsRead    bool
}

type Consultation struct {
	Id        int
	Name      string
	Email     string
	Problem   string
	CreatedAt time.Time
}

type ConsultationRequest struct {
	Id               int
	UserName         string
	UserEmail        string
	Problem          string
	VeterinarianId   *int
	VeterinarianName string
	CreatedAt        time.Time
	AssignedAt       *time.Time
}

type CreateAccountParams struct {
	Username     string
	EmailAddress string
	PasswordHash string
	Role         int
}

type CreateMessageParams struct {
	SenderId    int
	RecipientId int
	Content     string
}

// ListMessagesParams selects messages where UserId is sender or recipient.
// A zero Since means no lower bound and a zero Limit means no limit.
type ListMessagesParams struct {
	UserId int
	Since  time.Time
	Limit  int
	Offset int
}

type CreateNotificationParams struct {
	UserId int
	Kind   string
	Body   string
}

type CreateConsultationParams struct {
	Name    string
	Email   string
	Problem string
}

type CreateConsultationRequestParams struct {
	UserName  string
	UserEmail string
	Problem   string
}

type AssignConsultationParams struct {
	RequestId      int
	VeterinarianId int
	AssignedBy     int
}
