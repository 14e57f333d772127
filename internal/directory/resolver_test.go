package directory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"glide-client/internal/api"
	"glide-client/pkg/logger"
)

type fetcherFunc func(ctx context.Context, ids ...string) ([]api.UserInfoBean, error)

func (f fetcherFunc) GetUserInfo(ctx context.Context, ids ...string) ([]api.UserInfoBean, error) {
	return f(ctx, ids...)
}

func TestResolvePopulatesCache(t *testing.T) {
	calls := 0
	fetcher := fetcherFunc(func(_ context.Context, ids ...string) ([]api.UserInfoBean, error) {
		calls++
		return []api.UserInfoBean{{UID: 2, NickName: "alice", Avatar: "a.png"}}, nil
	})
	r := NewResolver("1", fetcher, nil, logger.NewNop())

	got := r.Resolve(context.Background(), "2")
	require.Contains(t, got, "2")
	assert.Equal(t, "alice", got["2"].Name)
	assert.Equal(t, 1, calls)

	// second resolve answers from memory
	r.Resolve(context.Background(), "2")
	assert.Equal(t, 1, calls)
	assert.Equal(t, "alice", r.DisplayName("2"))
}

func TestResolveFallsBackOnFailure(t *testing.T) {
	fetcher := fetcherFunc(func(_ context.Context, _ ...string) ([]api.UserInfoBean, error) {
		return nil, errors.New("directory down")
	})
	r := NewResolver("1", fetcher, nil, logger.NewNop())

	got := r.Resolve(context.Background(), "7")
	require.Contains(t, got, "7")
	// the raw id stands in; lookups never surface an error
	assert.Equal(t, "7", got["7"].Name)
	assert.Equal(t, "7", r.DisplayName("7"))
}

func TestResolveFallsBackOnPartialResult(t *testing.T) {
	fetcher := fetcherFunc(func(_ context.Context, _ ...string) ([]api.UserInfoBean, error) {
		return []api.UserInfoBean{{UID: 2, NickName: "alice"}}, nil
	})
	r := NewResolver("1", fetcher, nil, logger.NewNop())

	got := r.Resolve(context.Background(), "2", "3")
	assert.Equal(t, "alice", got["2"].Name)
	assert.Equal(t, "3", got["3"].Name)
}

func TestDisplayNameUnknownId(t *testing.T) {
	r := NewResolver("1", fetcherFunc(func(_ context.Context, _ ...string) ([]api.UserInfoBean, error) {
		return nil, nil
	}), nil, logger.NewNop())

	assert.Equal(t, "9", r.DisplayName("9"))
	assert.Equal(t, "system", r.DisplayName("system"))
	assert.Equal(t, "1", r.CurrentUID())
}
