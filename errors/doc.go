// Package errors provides the structured error taxonomy used by the feed
// client. Every fault the client reports through its error and unauthorized
// notifications is an *Error carrying a code, a category and, when known,
// the ID of the feed connection it happened on.
//
// # Error Categories
//
//   - Transient: the feed may accept a new connection (network drop, missed heartbeats)
//   - Permanent: reconnecting will not help (rejected credentials, malformed frames)
//   - Internal: unexpected failures inside the client
//
// # Usage
//
//	err := errors.New(errors.ErrCodeUnauthorized, "feed rejected credentials")
//	wrapped := errors.Wrap(dialErr, "dialing feed", errors.WithConnID(id))
//
//	if errors.Is(err, errors.ErrCodeUnauthorized) {
//	    // fix credentials before calling Start again
//	}
//
// # JSON Serialization
//
// Errors marshal to JSON so they can be republished on a message bus:
//
//	data, err := json.Marshal(feedErr)
package errors
