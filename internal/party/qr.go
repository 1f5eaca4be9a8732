package party

import (
	"fmt"
	"strings"
)

// qrPrefix is the literal first field of the QR join payload.
const qrPrefix = "PP"

// EncodeJoinPayload builds the pipe-delimited string the host displays as
// a QR code: "PP|<sessionId>|<joinCode>".
func EncodeJoinPayload(sessionID, joinCode string) string {
	return qrPrefix + "|" + sessionID + "|" + joinCode
}

// ParseJoinPayload parses a scanned QR payload. It requires exactly three
// pipe-delimited fields with the literal "PP" prefix and non-empty session
// and code fields.
func ParseJoinPayload(payload string) (sessionID, joinCode string, err error) {
	parts := strings.Split(payload, "|")
	if len(parts) != 3 || parts[0] != qrPrefix {
		return "", "", fmt.Errorf("not a party join payload: %q", payload)
	}
	if parts[1] == "" || parts[2] == "" {
		return "", "", fmt.Errorf("join payload missing session or code: %q", payload)
	}
	return parts[1], parts[2], nil
}
