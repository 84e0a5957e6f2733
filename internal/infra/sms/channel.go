// Package sms delivers reminders as text messages through Twilio.
package sms

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/twilio/twilio-go"
	"github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"reminder_notification_bot/internal/domain/notification"
)

// Twilio error codes after which retrying the same number cannot succeed.
// https://www.twilio.com/docs/api/errors
var permanentCodes = map[int]string{
	21211: "invalid 'To' phone number",
	21408: "region not enabled for sending",
	21610: "recipient unsubscribed",
	21612: "number cannot be reached",
	21614: "not a mobile number",
}

var e164 = regexp.MustCompile(`^\+[1-9][0-9]{6,14}$`)

// MessageCreator is the part of the Twilio REST API the channel uses.
type MessageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// Channel sends reminders by SMS. Subject IDs are E.164 phone numbers.
type Channel struct {
	api  MessageCreator
	from string
}

var _ notification.Channel = (*Channel)(nil)

func NewChannel(api MessageCreator, from string) *Channel {
	return &Channel{api: api, from: from}
}

// NewTwilioChannel builds a channel backed by the Twilio REST client.
func NewTwilioChannel(accountSID, authToken, from string) (*Channel, error) {
	if accountSID == "" || authToken == "" || from == "" {
		return nil, errors.New("twilio account sid, auth token and sender number are required")
	}
	rest := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return NewChannel(rest.Api, from), nil
}

func (c *Channel) Send(ctx context.Context, subjectID, text string) notification.Result {
	to := strings.TrimSpace(subjectID)
	if !e164.MatchString(to) {
		return notification.Permanent("invalid phone number", fmt.Errorf("subject %q is not an E.164 number", subjectID))
	}
	if err := ctx.Err(); err != nil {
		res, _ := notification.FromContextError(err)
		return res
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(c.from)
	params.SetBody(text)

	if _, err := c.api.CreateMessage(params); err != nil {
		return classify(err)
	}
	return notification.Delivered()
}

func classify(err error) notification.Result {
	var restErr *client.TwilioRestError
	if errors.As(err, &restErr) {
		if reason, ok := permanentCodes[restErr.Code]; ok {
			return notification.Permanent(reason, err)
		}
		switch {
		case restErr.Status == http.StatusTooManyRequests:
			return notification.Transient("rate limited by twilio", err)
		case restErr.Status >= http.StatusInternalServerError:
			return notification.Transient("twilio unavailable", err)
		}
		return notification.Transient(fmt.Sprintf("twilio error %d", restErr.Code), err)
	}
	if res, ok := notification.FromContextError(err); ok {
		return res
	}
	return notification.Transient("sms send failed", err)
}
