// Package classify decides whether a delivery failure is worth a deferred
// retry.
//
// Classification is a substring heuristic over the failure message, not a
// parser of transport error codes; a misclassified error costs at most one
// wasted retry or one skipped retry.
package classify

import "strings"

// networkErrorIndicators are the case-sensitive markers of a network-layer
// failure. The list mirrors the OS-level error strings surfaced through the
// SMTP client.
var networkErrorIndicators = []string{
	"Network is unreachable",
	"Connection refused",
	"Connection timed out",
	"Name or service not known",
	"Temporary failure in name resolution",
	"No route to host",
	"Connection reset by peer",
}

// IsTransient reports whether the failure message describes a temporary
// network condition eligible for a deferred retry. Anything else (auth
// rejection, malformed address, server-side protocol errors) is permanent.
func IsTransient(message string) bool {
	for _, indicator := range networkErrorIndicators {
		if strings.Contains(message, indicator) {
			return true
		}
	}
	return false
}
