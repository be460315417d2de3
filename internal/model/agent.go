package model

// AgentDescriptor is one entry in the static capability catalog. Descriptors
// are immutable and loaded once at startup.
type AgentDescriptor struct {
	ID           string `json:"id"`
	DisplayName  string `json:"display_name"`
	Description  string `json:"description"`
	EntryCommand string `json:"entry_command"`
}
