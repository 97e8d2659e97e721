// Package issues keeps one tracking issue per failing matrix cell: it is
// opened when the cell fails, commented while it keeps failing and closed
// once the cell passes again.
package issues

import "context"

// Issue is the subset of an issue the reconciler needs
type Issue struct {
	Number int
	Title  string
	URL    string
}

// Tracker is an issue tracker scoped to a single repository
type Tracker interface {
	// FindOpen returns the open issue with exactly this title, or nil
	FindOpen(ctx context.Context, title string) (*Issue, error)
	Create(ctx context.Context, title, body string, labels []string) (*Issue, error)
	Comment(ctx context.Context, number int, body string) error
	Close(ctx context.Context, number int) error
}
