// Package model defines the core domain types for the Valine orchestrator.
//
// Types are plain structs with strong typing (time.Time, typed enums) and
// avoid interface{} wherever possible. Nothing in this package performs I/O.
package model

import "time"

// CommandInvocation is one inbound slash command. It is transient: created
// when the interaction webhook is received and discarded once the response
// cycle completes.
type CommandInvocation struct {
	Command    string            `json:"command"`
	Options    map[string]string `json:"options"`
	InvokerID  string            `json:"invoker_id"`
	ChannelID  string            `json:"channel_id"`
	AckToken   string            `json:"ack_token"`
	ReceivedAt time.Time         `json:"received_at"`
}

// Option returns the named option value and whether it was supplied.
func (c CommandInvocation) Option(name string) (string, bool) {
	v, ok := c.Options[name]
	return v, ok
}

// OptionOr returns the named option value, or def when absent.
func (c CommandInvocation) OptionOr(name, def string) string {
	if v, ok := c.Options[name]; ok {
		return v
	}
	return def
}
