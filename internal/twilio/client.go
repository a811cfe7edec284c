package twilio

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	twilio "github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

var (
	// ErrSenderNotConfigured is returned when no WhatsApp sender number is set.
	ErrSenderNotConfigured = errors.New("twilio sender WhatsApp number is not configured")
	// ErrInvalidRecipient is returned for an empty recipient.
	ErrInvalidRecipient = errors.New("recipient number missing or invalid")
)

// Client delivers reminder notifications over WhatsApp.
type Client struct {
	client       *twilio.RestClient
	fromWhatsApp string
	logger       logrus.FieldLogger
}

// New creates a Twilio client bound to the configured WhatsApp sender number.
func New(accountSID, authToken, fromWhatsApp string, logger logrus.FieldLogger) *Client {
	return &Client{
		client:       twilio.NewRestClientWithParams(twilio.ClientParams{Username: accountSID, Password: authToken}),
		fromWhatsApp: fromWhatsApp,
		logger:       logger,
	}
}

// Send delivers body to the WhatsApp number to.
func (c *Client) Send(to, body string) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("twilio client not initialised")
	}

	sender := normalizeWhatsAppAddress(c.fromWhatsApp)
	if sender == "" {
		return ErrSenderNotConfigured
	}

	recipient := normalizeWhatsAppAddress(to)
	if recipient == "" {
		return ErrInvalidRecipient
	}

	params := &openapi.CreateMessageParams{}
	params.SetTo(recipient)
	params.SetFrom(sender)
	params.SetBody(body)

	resp, err := c.client.Api.CreateMessage(params)
	if err != nil {
		return fmt.Errorf("twilio send message error: %w", err)
	}

	fields := logrus.Fields{"to": recipient}
	if resp.Sid != nil {
		fields["sid"] = *resp.Sid
	}
	c.logger.WithFields(fields).Info("twilio: message sent")
	return nil
}

func normalizeWhatsAppAddress(number string) string {
	trimmed := strings.TrimSpace(number)
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(trimmed, "whatsapp:") {
		return trimmed
	}
	if strings.HasPrefix(trimmed, "+") {
		return "whatsapp:" + trimmed
	}
	return "whatsapp:+" + trimmed
}
