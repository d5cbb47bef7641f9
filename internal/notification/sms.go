package notification

import (
	"context"
	"fmt"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"optout/pkg/platform/sentinel"
)

// MessageCreator is the slice of the Twilio REST API the SMS sender uses.
type MessageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// SMSSender sends codes through Twilio Programmable Messaging.
type SMSSender struct {
	api  MessageCreator
	from string
}

// NewTwilioSMSSender builds a sender on a Twilio REST client.
func NewTwilioSMSSender(accountSID, authToken, from string) *SMSSender {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return NewSMSSender(client.Api, from)
}

func NewSMSSender(api MessageCreator, from string) *SMSSender {
	return &SMSSender{api: api, from: from}
}

// Send does not observe ctx cancellation; the Twilio client has no context-aware call.
func (s *SMSSender) Send(_ context.Context, msg Message) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(msg.Destination)
	params.SetFrom(s.from)
	params.SetBody(codeText(msg))

	resp, err := s.api.CreateMessage(params)
	if err != nil {
		return fmt.Errorf("twilio create message: %w: %w", sentinel.ErrUnavailable, err)
	}
	if resp != nil && resp.ErrorCode != nil {
		return fmt.Errorf("twilio rejected message with code %d: %w", *resp.ErrorCode, sentinel.ErrRejected)
	}
	return nil
}
