package discord

import (
	"fmt"
	"time"

	"github.com/gcolon75/valine-orchestrator/internal/model"
)

// Interaction payload types, matching the transport's wire format.
const (
	InteractionPing               = 1
	InteractionApplicationCommand = 2
)

// Interaction response types.
const (
	ResponsePong                   = 1
	ResponseChannelMessage         = 4
	ResponseDeferredChannelMessage = 5
)

// Interaction is an inbound interaction webhook payload.
type Interaction struct {
	ID        string          `json:"id"`
	Type      int             `json:"type"`
	Token     string          `json:"token"`
	ChannelID string          `json:"channel_id"`
	Data      InteractionData `json:"data"`
	Member    *Member         `json:"member,omitempty"`
	User      *User           `json:"user,omitempty"`
}

// InteractionData carries the invoked command and its options.
type InteractionData struct {
	Name    string              `json:"name"`
	Options []InteractionOption `json:"options,omitempty"`
}

// InteractionOption is one supplied command option. Values arrive as
// strings, booleans, or numbers; String() normalises them.
type InteractionOption struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// String renders the option value as a string regardless of wire type.
func (o InteractionOption) String() string {
	switch v := o.Value.(type) {
	case string:
		return v
	case bool:
		if v {
			return "true"
		}
		return "false"
	case float64:
		return fmt.Sprintf("%g", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Member wraps the invoking guild member.
type Member struct {
	User User `json:"user"`
}

// User identifies the invoker.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// InvokerID returns the invoking user's ID regardless of whether the
// interaction arrived from a guild or a DM.
func (i Interaction) InvokerID() string {
	if i.Member != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

// ToInvocation converts a command interaction to the domain invocation.
func (i Interaction) ToInvocation(receivedAt time.Time) model.CommandInvocation {
	opts := make(map[string]string, len(i.Data.Options))
	for _, o := range i.Data.Options {
		opts[o.Name] = o.String()
	}
	return model.CommandInvocation{
		Command:    i.Data.Name,
		Options:    opts,
		InvokerID:  i.InvokerID(),
		ChannelID:  i.ChannelID,
		AckToken:   i.Token,
		ReceivedAt: receivedAt,
	}
}

// InteractionResponse is the synchronous webhook reply.
type InteractionResponse struct {
	Type int                      `json:"type"`
	Data *InteractionResponseData `json:"data,omitempty"`
}

// InteractionResponseData is the message body of a response.
type InteractionResponseData struct {
	Content string `json:"content,omitempty"`
}

// Pong answers a transport liveness ping.
func Pong() InteractionResponse {
	return InteractionResponse{Type: ResponsePong}
}

// Message answers immediately with content.
func Message(content string) InteractionResponse {
	return InteractionResponse{
		Type: ResponseChannelMessage,
		Data: &InteractionResponseData{Content: content},
	}
}

// Deferred acknowledges now and promises a follow-up, keeping the channel
// open for the transport's multi-minute follow-up window.
func Deferred() InteractionResponse {
	return InteractionResponse{Type: ResponseDeferredChannelMessage}
}
