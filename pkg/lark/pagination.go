package lark

import "context"

const (
	// DefaultPageSize is used when a listing is requested with a non-positive page size
	DefaultPageSize = 50
	// MaxPageSize is the largest page the contact API serves
	MaxPageSize = 100
)

// Page is one page of a listing
type Page[T any] struct {
	Items         []T
	NextPageToken string
	HasMore       bool
}

// Done reports whether no further page should be requested.
// A page claiming more results without a continuation token is treated as the last one.
func (p *Page[T]) Done() bool {
	return p == nil || !p.HasMore || p.NextPageToken == ""
}

// PageFetcher fetches the page identified by pageToken ("" for the first page)
type PageFetcher[T any] func(ctx context.Context, pageToken string) (*Page[T], error)

// Paginate fetches pages in order and hands each one to visit until the listing is exhausted.
// It stops at the first fetch or visit error, or when ctx is done.
func Paginate[T any](ctx context.Context, fetch PageFetcher[T], visit func(page *Page[T]) error) error {
	pageToken := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		page, err := fetch(ctx, pageToken)
		if err != nil {
			return err
		}
		if page == nil {
			return nil
		}

		if err := visit(page); err != nil {
			return err
		}

		if page.Done() || page.NextPageToken == pageToken {
			return nil
		}
		pageToken = page.NextPageToken
	}
}

func clampPageSize(size int) int {
	if size <= 0 {
		return DefaultPageSize
	}
	if size > MaxPageSize {
		return MaxPageSize
	}
	return size
}
