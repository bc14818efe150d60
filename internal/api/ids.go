package api

import (
	"strings"

	"github.com/google/uuid"
)

// Fixed id prefixes used on output. Inbound ids are taken as-is.
const (
	IDPrefixResponse      = "resp_"
	IDPrefixMessage       = "msg_"
	IDPrefixReasoning     = "rs_"
	IDPrefixFunctionCall  = "fc_"
	IDPrefixCall          = "call_"
	IDPrefixChat          = "chatcmpl_"
	IDPrefixCompletion    = "cmpl_"
	IDPrefixAnthropicTool = "toolu_"
)

// NewID returns prefix joined with a fresh UUID, dashes stripped.
func NewID(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NormalizeCallID strips the output-item "fc_" prefix some clients echo back
// in place of the call id.
func NormalizeCallID(id string) string {
	return strings.TrimPrefix(id, IDPrefixFunctionCall)
}

// ChatIDFor derives the chat-completion id from a response id so that both
// views of one turn correlate in logs.
func ChatIDFor(responseID string) string {
	if responseID == "" {
		return NewID(IDPrefixChat)
	}
	return IDPrefixChat + responseID
}
