// Package veto implements the human-in-the-loop deletion safeguard.
//
// Deletions governed by an approval-requiring policy are parked as
// pending requests for a veto window. With auto-approval disabled (the
// default) a request stays pending indefinitely until a named approver
// records a decision; deletion never happens silently by timeout.
// Immutable KBs have no approval path at all: their requests are
// rejected outright.
package veto
