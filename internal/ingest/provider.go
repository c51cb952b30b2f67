package ingest

import "context"

// FetchedMessage is one raw message retrieved from a mail source,
// identified within its folder by a monotonically increasing UID.
type FetchedMessage struct {
	Folder string
	UID    uint64
	Raw    []byte
}

// Provider abstracts the mail source (IMAP, Microsoft Graph, a watched
// filesystem directory) the ingester polls. Fetch returns every message
// in folder with UID greater than sinceUID; when sinceUID is zero, an
// initial backfill of backfillDays is performed instead.
type Provider interface {
	Fetch(ctx context.Context, folder string, sinceUID uint64, backfillDays int) ([]FetchedMessage, error)
}
