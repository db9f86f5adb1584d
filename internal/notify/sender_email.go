package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/router"
	"github.com/nicholas-fedor/shoutrrr/pkg/types"

	"zonealert/internal/config"
)

// EmailSender delivers alerts over SMTP through shoutrrr service URLs.
// Routers are cached per URL; rules sharing an smtp_url share a transport.
// Params: none; the service URL arrives per send.
// Returns: email channel sender.
type EmailSender struct {
	mu      sync.Mutex
	routers map[string]*router.ServiceRouter
}

// NewEmailSender creates the SMTP sender.
// Params: none.
// Returns: initialized sender.
func NewEmailSender() *EmailSender {
	return &EmailSender{routers: make(map[string]*router.ServiceRouter)}
}

// Kind returns sender channel name.
// Params: none.
// Returns: static channel key.
func (s *EmailSender) Kind() string {
	return config.ChannelEmail
}

// Send delivers one alert message through the configured smtp:// URL.
// Params: context, payload, and channel settings.
// Returns: transport error; malformed URLs are permanent.
func (s *EmailSender) Send(_ context.Context, payload Payload, channel config.ChannelConfig) error {
	if channel.Email == nil {
		return MarkPermanent(errors.New("email settings are missing"))
	}

	serviceRouter, err := s.routerFor(channel.Email.SMTPURL)
	if err != nil {
		return MarkPermanent(fmt.Errorf("init smtp sender: %w", err))
	}

	params := types.Params{
		"subject": fmt.Sprintf("[%s] %s", strings.ToUpper(payload.Priority.String()), payload.Title),
	}
	body := formatEmailBody(payload)
	for _, sendErr := range serviceRouter.Send(body, &params) {
		if sendErr != nil {
			return fmt.Errorf("smtp send: %w", sendErr)
		}
	}
	return nil
}

// routerFor returns a cached service router for one URL.
func (s *EmailSender) routerFor(serviceURL string) (*router.ServiceRouter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cached, ok := s.routers[serviceURL]; ok {
		return cached, nil
	}
	created, err := shoutrrr.CreateSender(serviceURL)
	if err != nil {
		return nil, err
	}
	s.routers[serviceURL] = created
	return created, nil
}

// formatEmailBody renders the payload as a plain-text email body.
func formatEmailBody(payload Payload) string {
	var builder strings.Builder
	builder.WriteString(payload.Message)
	builder.WriteString("\n\n")
	fmt.Fprintf(&builder, "Rule: %s (%s)\n", payload.RuleName, payload.RuleID)
	fmt.Fprintf(&builder, "Warehouse: %s\n", payload.WarehouseID)
	if payload.ZoneID != "" {
		fmt.Fprintf(&builder, "Zone: %s\n", payload.ZoneID)
	}
	if payload.ShiftCode != "" {
		fmt.Fprintf(&builder, "Shift: %s\n", payload.ShiftCode)
	}
	fmt.Fprintf(&builder, "Triggered: %s\n", payload.TriggeredAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&builder, "Alert ID: %s\n", payload.AlertID)
	return builder.String()
}
