package protocol

import "fmt"

// Response codes (spec.md §4.6).
const (
	CodeOK            = 200
	CodeAlreadyDone   = 250 // e.g. "already paused" — a no-op that still succeeded
	CodeOKNoPayload   = 209 // "xx9 = commentary only, no payload"
	CodeSingleValue   = 252
	CodeBodyFollows   = 253
	CodeSubscribed    = 254
	CodeGreeting      = 231
	CodeAuthenticated = 232
	CodeNotAuthorized = 510
	CodeAuthFailure   = 530
	CodeBadInput      = 550
	CodeNotSet        = 555
)

func responseLine(code int, text string) string {
	if text == "" {
		return fmt.Sprintf("%d", code)
	}
	return fmt.Sprintf("%d %s", code, text)
}
