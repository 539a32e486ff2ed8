package lark

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaginate_FollowsTokensInOrder(t *testing.T) {
	pages := map[string]*Page[int]{
		"":   {Items: []int{1, 2}, NextPageToken: "p2", HasMore: true},
		"p2": {Items: []int{3}, NextPageToken: "p3", HasMore: true},
		"p3": {Items: []int{4}, HasMore: false},
	}
	var requested []string
	var seen []int

	err := Paginate(context.Background(), func(ctx context.Context, token string) (*Page[int], error) {
		requested = append(requested, token)
		return pages[token], nil
	}, func(page *Page[int]) error {
		seen = append(seen, page.Items...)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"", "p2", "p3"}, requested)
	assert.Equal(t, []int{1, 2, 3, 4}, seen)
}

func TestPaginate_HasMoreWithoutTokenTerminates(t *testing.T) {
	fetches := 0
	err := Paginate(context.Background(), func(ctx context.Context, token string) (*Page[int], error) {
		fetches++
		if fetches > 5 {
			return nil, errors.New("looped")
		}
		return &Page[int]{Items: []int{fetches}, HasMore: true}, nil
	}, func(*Page[int]) error { return nil })

	require.NoError(t, err)
	assert.Equal(t, 1, fetches)
}

func TestPaginate_RepeatedTokenTerminates(t *testing.T) {
	fetches := 0
	err := Paginate(context.Background(), func(ctx context.Context, token string) (*Page[int], error) {
		fetches++
		if fetches > 5 {
			return nil, errors.New("looped")
		}
		return &Page[int]{NextPageToken: "same", HasMore: true}, nil
	}, func(*Page[int]) error { return nil })

	require.NoError(t, err)
	assert.Equal(t, 2, fetches)
}

func TestPaginate_Errors(t *testing.T) {
	boom := errors.New("boom")

	t.Run("fetch error", func(t *testing.T) {
		err := Paginate(context.Background(), func(ctx context.Context, token string) (*Page[int], error) {
			return nil, boom
		}, func(*Page[int]) error { return nil })
		assert.ErrorIs(t, err, boom)
	})

	t.Run("visit error", func(t *testing.T) {
		err := Paginate(context.Background(), func(ctx context.Context, token string) (*Page[int], error) {
			return &Page[int]{NextPageToken: fmt.Sprintf("%s+", token), HasMore: true}, nil
		}, func(*Page[int]) error { return boom })
		assert.ErrorIs(t, err, boom)
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		fetches := 0
		err := Paginate(ctx, func(ctx context.Context, token string) (*Page[int], error) {
			fetches++
			cancel()
			return &Page[int]{NextPageToken: token + "+", HasMore: true}, nil
		}, func(*Page[int]) error { return nil })
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, fetches)
	})
}

func TestClampPageSize(t *testing.T) {
	assert.Equal(t, DefaultPageSize, clampPageSize(0))
	assert.Equal(t, DefaultPageSize, clampPageSize(-3))
	assert.Equal(t, 20, clampPageSize(20))
	assert.Equal(t, MaxPageSize, clampPageSize(500))
}
