package store_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazywriting/api/internal/model"
	"github.com/lazywriting/api/internal/store"
	"github.com/lazywriting/api/internal/store/storetest"
)

func TestEnsure_ProvisionsOnce(t *testing.T) {
	ctx := context.Background()
	users := store.NewUserStore(storetest.NewDB(t), 3)

	u, err := users.Ensure(ctx, "user-1", "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, 3, u.Allowance)

	require.NoError(t, users.SetAllowance(ctx, "user-1", 1))
	u, err = users.Ensure(ctx, "user-1", "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, 1, u.Allowance)
}

func TestCreate_ChargesAllowance(t *testing.T) {
	ctx := context.Background()
	db := storetest.NewDB(t)
	users := store.NewUserStore(db, 1)
	articles := store.NewArticleStore(db)

	_, err := users.Ensure(ctx, "user-1", "")
	require.NoError(t, err)

	uid := "user-1"
	first := &model.Article{ID: uuid.NewString(), UserID: &uid, StreamBase: "a", Transcript: "我今天想聊聊远程工作的效率问题"}
	require.NoError(t, articles.Create(ctx, first, &uid))

	u, err := users.Get(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, 0, u.Allowance)

	second := &model.Article{ID: uuid.NewString(), UserID: &uid, StreamBase: "b", Transcript: "我今天想聊聊远程工作的效率问题"}
	err = articles.Create(ctx, second, &uid)
	assert.ErrorIs(t, err, store.ErrAllowanceExhausted)

	_, err = articles.Get(ctx, second.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	u, err = users.Get(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, 0, u.Allowance)
}
