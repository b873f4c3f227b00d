package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Channel identifies a delivery channel.
type Channel string

// Delivery channels in attempt order.
const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelPush  Channel = "push"
	ChannelInApp Channel = "in_app"
)

// Channels returns all delivery channels in the fixed order used for delivery attempts.
func Channels() []Channel {
	return []Channel{ChannelEmail, ChannelSMS, ChannelPush, ChannelInApp}
}

// IsValid reports whether c is a known channel.
func (c Channel) IsValid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelPush, ChannelInApp:
		return true
	}
	return false
}

func (c Channel) String() string {
	return string(c)
}

// Order returns the position of c in the delivery order, or -1 for unknown channels.
func (c Channel) Order() int {
	for i, ch := range Channels() {
		if ch == c {
			return i
		}
	}
	return -1
}

// ParseChannel converts a raw string into a Channel.
func ParseChannel(s string) (Channel, error) {
	c := Channel(s)
	if !c.IsValid() {
		return "", fmt.Errorf("unknown channel %q", s)
	}
	return c, nil
}

// NormalizeChannels removes duplicates while keeping the first occurrence order.
func NormalizeChannels(channels []Channel) []Channel {
	seen := make(map[Channel]struct{}, len(channels))
	out := make([]Channel, 0, len(channels))
	for _, c := range channels {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// RateLimit describes how many requests a channel accepts per window.
type RateLimit struct {
	Requests int           `json:"requests"`
	Window   time.Duration `json:"-"`
}

// MarshalJSON renders the window as a duration string.
func (r RateLimit) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Requests int    `json:"requests"`
		Window   string `json:"window"`
	}{
		Requests: r.Requests,
		Window:   r.Window.String(),
	})
}

// RateLimitStatus is a point-in-time view of a channel's sliding window.
type RateLimitStatus struct {
	Count   int       `json:"count"`
	Limit   int       `json:"limit"`
	ResetAt time.Time `json:"reset_at"`
}
