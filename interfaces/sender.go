package interfaces

import (
	"context"

	"github.com/customeros/mailbackend/internal/models"
)

// MessageSender delivers outgoing mail for a backend
type MessageSender interface {
	Send(ctx context.Context, message *models.Message) error
	CheckSettings(ctx context.Context) error
}

type MessageSenderFactory interface {
	CreateSender(account *models.Account) MessageSender
}
