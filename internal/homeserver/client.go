// Package homeserver abstracts the two capabilities consumed from external
// per-user object stores: listing a user's event records since a cursor and
// fetching object bodies. Implementations are injected; the indexer core
// depends only on these interfaces.
package homeserver

import (
	"context"
	"errors"
	"strings"
)

// ErrObjectNotFound indicates the homeserver answered but the object does not exist.
var ErrObjectNotFound = errors.New("homeserver: object not found")

// PixelPathPrefix is the object path under which placements are published.
const PixelPathPrefix = "/pub/pubky-canva/pixels/"

// EventRecord is one entry from a homeserver's event stream.
type EventRecord struct {
	// Type is the record kind as reported by the stream, e.g. "PUT" or "DEL".
	Type string
	// URI addresses the object, pubky://<user_pk>/<path>.
	URI string
	// Cursor is the opaque stream position after this record.
	Cursor string
}

// Client lists event records and fetches object bodies from a homeserver.
type Client interface {
	// ListEvents returns the user's event records after the cursor, oldest
	// first, at most limit entries. An empty cursor starts from the beginning.
	ListEvents(ctx context.Context, homeserver, userPK, cursor string, limit int) ([]EventRecord, error)
	// FetchObject retrieves the body of the object addressed by a pubky URI.
	FetchObject(ctx context.Context, homeserver, uri string) ([]byte, error)
}

// Resolver looks up the homeserver address for a user public key.
type Resolver interface {
	ResolveHomeserver(ctx context.Context, pk string) (string, error)
}

// ParsePixelURI extracts the user public key and the pixel id from a pubky
// URI of the form pubky://<user_pk>/pub/pubky-canva/pixels/<id>. ok is false
// for any other shape.
func ParsePixelURI(uri string) (userPK, pixelID string, ok bool) {
	rest, found := strings.CutPrefix(uri, "pubky://")
	if !found {
		return "", "", false
	}
	userPK, path, found := strings.Cut(rest, "/")
	if !found || userPK == "" {
		return "", "", false
	}
	pixelID, found = strings.CutPrefix("/"+path, PixelPathPrefix)
	if !found || pixelID == "" || strings.Contains(pixelID, "/") {
		return "", "", false
	}
	return userPK, pixelID, true
}
