package notify

import (
	"context"

	"zonealert/internal/config"
)

// Broadcaster pushes one payload to connected in-app clients.
// Params: payload and optional topic label.
// Returns: fan-out side effect only; ui delivery never fails.
type Broadcaster interface {
	BroadcastAlert(payload Payload, topic string)
}

// UISender pushes alerts to websocket clients through the hub.
// Params: hub broadcaster.
// Returns: ui channel sender.
type UISender struct {
	hub Broadcaster
}

// NewUISender creates the in-app push sender.
// Params: hub broadcaster.
// Returns: initialized sender.
func NewUISender(hub Broadcaster) *UISender {
	return &UISender{hub: hub}
}

// Kind returns sender channel name.
// Params: none.
// Returns: static channel key.
func (s *UISender) Kind() string {
	return config.ChannelUI
}

// Send fans the payload out to every connected client.
// Params: context, payload, and channel settings.
// Returns: always nil; disconnected clients are the hub's concern.
func (s *UISender) Send(_ context.Context, payload Payload, channel config.ChannelConfig) error {
	topic := ""
	if channel.UI != nil {
		topic = channel.UI.Topic
	}
	s.hub.BroadcastAlert(payload, topic)
	return nil
}
