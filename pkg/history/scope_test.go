package history

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScope_Visible(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		scope Scope
		row   int64
		want  bool
	}{
		{"same id", Current(3, false), 3, true},
		{"baseline in non-strict", Current(3, false), Baseline, true},
		{"baseline in strict", Current(3, true), Baseline, false},
		{"other id", Current(3, false), 4, false},
		{"disabled sees all", Disabled(), 42, true},
		{"default scope is baseline", Scope{}, Baseline, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.scope.Visible(tc.row))
		})
	}
}

func TestScope_VisibleIDs(t *testing.T) {
	assert.Nil(t, Disabled().VisibleIDs())
	assert.Equal(t, []int64{5}, Current(5, true).VisibleIDs())
	assert.Equal(t, []int64{5, 0}, Current(5, false).VisibleIDs())
	assert.Equal(t, []int64{0}, Scope{}.VisibleIDs())
}

func TestWithin_RestoresOnAllPaths(t *testing.T) {
	ctx := WithScope(context.Background(), Current(1, false))

	err := Within(ctx, Current(2, true), func(inner context.Context) error {
		require.Equal(t, Current(2, true), FromContext(inner))
		return errors.New("row failed")
	})
	require.Error(t, err)
	require.Equal(t, Current(1, false), FromContext(ctx))

	require.Panics(t, func() {
		_ = Within(ctx, Disabled(), func(context.Context) error { panic("boom") })
	})
	require.Equal(t, Current(1, false), FromContext(ctx))
}

func TestStrict(t *testing.T) {
	ctx := WithScope(context.Background(), Current(7, false))
	require.True(t, FromContext(Strict(ctx)).Strict)
	require.False(t, FromContext(ctx).Strict)

	disabled := WithScope(context.Background(), Disabled())
	require.True(t, FromContext(Strict(disabled)).IsDisabled())
}

type row struct {
	id  int64
	hid int64
}

func TestPrefer_CurrentHistoryWins(t *testing.T) {
	hid := func(r row) int64 { return r.hid }
	rows := []row{{id: 1, hid: Baseline}, {id: 2, hid: 9}}

	got, ok := Prefer(Current(9, false), rows, hid)
	require.True(t, ok)
	require.Equal(t, int64(2), got.id)

	got, ok = Prefer(Current(8, false), rows, hid)
	require.True(t, ok)
	require.Equal(t, int64(1), got.id, "baseline is the fallback layer")

	_, ok = Prefer(Current(8, true), rows, hid)
	require.False(t, ok)
}
