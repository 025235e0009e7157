package v1_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duynhne/budget-proxy/internal/core/domain"
	"github.com/duynhne/budget-proxy/internal/core/repository/memstore"
	logicv1 "github.com/duynhne/budget-proxy/internal/logic/v1"
)

func validAccount() map[string]any {
	return map[string]any{
		"name":       "Cash",
		"currencyId": "Currency_EUR",
		"initAmount": float64(15000),
		"color":      "#00FF00",
	}
}

func requireValidation(t *testing.T, err error, field string) {
	t.Helper()
	require.ErrorIs(t, err, logicv1.ErrValidation)
	var verr *logicv1.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, field, verr.Field)
}

func TestCreateThenGet(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	created, err := f.accounts.Create(ctx, validAccount())
	require.NoError(t, err)
	assert.Equal(t, "Account_id-1", created.ID())
	assert.NotEmpty(t, created.Rev())

	got, err := f.accounts.GetByID(ctx, created.ID())
	require.NoError(t, err)
	require.NotNil(t, got)

	for k, v := range validAccount() {
		assert.EqualValues(t, v, got[k], k)
	}
	assert.Equal(t, created.Rev(), got.Rev())
	assert.Equal(t, domain.KindAccount, got.Kind())
	assert.Equal(t, "owner-1", got[domain.FieldOwnerID])
	assert.Equal(t, "owner-1", got[domain.FieldAuthorID])
	assert.Equal(t, fixedNowStamp, got[domain.FieldCreatedAt])
	assert.Equal(t, fixedNowStamp, got[domain.FieldUpdatedAt])

	// Defaults.
	assert.EqualValues(t, 15000, got["initRefAmount"])
	assert.EqualValues(t, 0, got["accountType"])
	assert.Equal(t, false, got["archived"])
	assert.Equal(t, false, got["excludeFromStats"])
}

func TestCreateValidation(t *testing.T) {
	t.Run("reserved input fields never override stamped values", func(t *testing.T) {
		f := setupTestFixture(t)
		input := validAccount()
		input["_id"] = "Account_mine"
		input["_rev"] = "9-forged"
		input[domain.FieldOwnerID] = "someone-else"
		input[domain.FieldModelType] = "Record"

		created, err := f.accounts.Create(context.Background(), input)
		require.NoError(t, err)
		assert.Equal(t, "Account_id-1", created.ID())
		assert.Equal(t, "owner-1", created[domain.FieldOwnerID])
		assert.Equal(t, domain.KindAccount, created.Kind())
		assert.NotEqual(t, "9-forged", created.Rev())
	})

	t.Run("unknown field", func(t *testing.T) {
		f := setupTestFixture(t)
		input := validAccount()
		input["balance"] = 10

		_, err := f.accounts.Create(context.Background(), input)
		requireValidation(t, err, "balance")
	})

	t.Run("missing required field", func(t *testing.T) {
		f := setupTestFixture(t)
		input := validAccount()
		delete(input, "currencyId")

		_, err := f.accounts.Create(context.Background(), input)
		requireValidation(t, err, "currencyId")
	})

	t.Run("wrong type", func(t *testing.T) {
		f := setupTestFixture(t)
		input := validAccount()
		input["initAmount"] = "lots"

		_, err := f.accounts.Create(context.Background(), input)
		requireValidation(t, err, "initAmount")
	})

	t.Run("validation happens before any session or store access", func(t *testing.T) {
		f := setupTestFixture(t)
		_, err := f.accounts.Create(context.Background(), map[string]any{"name": "x"})
		require.ErrorIs(t, err, logicv1.ErrValidation)
		assert.Zero(t, f.sessions.currentCalls.Load())

		docs, err := f.store.AllDocs(context.Background())
		require.NoError(t, err)
		assert.Empty(t, docs)
	})
}

func TestUpdate(t *testing.T) {
	t.Run("merges the patch and changes the revision", func(t *testing.T) {
		f := setupTestFixture(t)
		ctx := context.Background()
		created, err := f.accounts.Create(ctx, validAccount())
		require.NoError(t, err)

		updated, err := f.accounts.Update(ctx, created.ID(), map[string]any{"name": "Wallet", "archived": true})
		require.NoError(t, err)
		require.NotNil(t, updated)

		got, err := f.accounts.GetByID(ctx, created.ID())
		require.NoError(t, err)
		assert.Equal(t, "Wallet", got["name"])
		assert.Equal(t, true, got["archived"])
		assert.Equal(t, "Currency_EUR", got["currencyId"])
		assert.EqualValues(t, 15000, got["initAmount"])
		assert.NotEqual(t, created.Rev(), got.Rev())
		assert.Equal(t, updated.Rev(), got.Rev())
		assert.Equal(t, created.ID(), got.ID())
	})

	t.Run("reserved fields are rejected", func(t *testing.T) {
		f := setupTestFixture(t)
		created, err := f.accounts.Create(context.Background(), validAccount())
		require.NoError(t, err)

		_, err = f.accounts.Update(context.Background(), created.ID(), map[string]any{domain.FieldOwnerID: "x"})
		requireValidation(t, err, domain.FieldOwnerID)

		_, err = f.accounts.Update(context.Background(), created.ID(), map[string]any{"_rev": "1-x"})
		requireValidation(t, err, "_rev")
	})

	t.Run("required field cannot be emptied", func(t *testing.T) {
		f := setupTestFixture(t)
		created, err := f.accounts.Create(context.Background(), validAccount())
		require.NoError(t, err)

		_, err = f.accounts.Update(context.Background(), created.ID(), map[string]any{"name": ""})
		requireValidation(t, err, "name")
	})

	t.Run("absent or other kind is not found", func(t *testing.T) {
		f := setupTestFixture(t)
		label, err := f.labels.Create(context.Background(), map[string]any{"name": "trip"})
		require.NoError(t, err)

		got, err := f.accounts.Update(context.Background(), "Account_missing", map[string]any{"name": "x"})
		require.NoError(t, err)
		assert.Nil(t, got)

		got, err = f.accounts.Update(context.Background(), label.ID(), map[string]any{"name": "x"})
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("concurrent updates from the same revision", func(t *testing.T) {
		f := setupTestFixture(t)
		ctx := context.Background()
		created, err := f.accounts.Create(ctx, validAccount())
		require.NoError(t, err)

		barrier := newBarrierStore(f.store, 2)
		accounts := logicv1.NewAccountService(f.sessions, staticFactory(barrier))

		errs := make([]error, 2)
		var wg sync.WaitGroup
		for i := range errs {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, errs[i] = accounts.Update(ctx, created.ID(), map[string]any{"name": fmt.Sprintf("writer-%d", i)})
			}()
		}
		wg.Wait()

		var ok, conflicts int
		for _, err := range errs {
			switch {
			case err == nil:
				ok++
			case errors.Is(err, domain.ErrConflict):
				conflicts++
			}
		}
		assert.Equal(t, 1, ok)
		assert.Equal(t, 1, conflicts)
	})
}

func TestDelete(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	created, err := f.labels.Create(ctx, map[string]any{"name": "trip"})
	require.NoError(t, err)

	result, err := f.labels.Delete(ctx, created.ID())
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, created.ID(), result.ID)
	assert.NotEqual(t, created.Rev(), result.Rev)

	got, err := f.labels.GetByID(ctx, created.ID())
	require.NoError(t, err)
	assert.Nil(t, got)

	again, err := f.labels.Delete(ctx, created.ID())
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestGetByIDKindMismatch(t *testing.T) {
	f := setupTestFixture(t)
	label, err := f.labels.Create(context.Background(), map[string]any{"name": "trip"})
	require.NoError(t, err)

	got, err := f.accounts.GetByID(context.Background(), label.ID())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestListMixedKinds(t *testing.T) {
	f := setupTestFixture(t)
	require.NoError(t, f.store.Seed(
		domain.Document{"_id": "Account_1", "reservedModelType": "Account", "name": "Cash"},
		domain.Document{"_id": "Account_2", "reservedModelType": "Account", "name": "Bank"},
		domain.Document{"_id": "Record_1", "reservedModelType": "Record", "name": "Cash"},
		domain.Document{"_id": "HashTag_1", "reservedModelType": "HashTag", "name": "cash"},
		domain.Document{"_id": "_design/views", "language": "javascript"},
	))
	accounts := logicv1.NewAccountService(f.sessions, staticFactory(duplicatingStore{f.store}))

	docs, err := accounts.List(context.Background(), domain.ListFilter{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Account_1", "Account_2"}, ids(docs))

	docs, err = accounts.List(context.Background(), domain.ListFilter{NameStartsWith: "ca"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Account_1"}, ids(docs))
}

func TestExpiredSessionIsRetriedOnce(t *testing.T) {
	unauthorized := fmt.Errorf("all_docs: %w", domain.ErrStoreUnauthorized)

	t.Run("retry with a fresh session succeeds", func(t *testing.T) {
		f := setupTestFixture(t)
		stale, err := f.sessions.Current(context.Background())
		require.NoError(t, err)
		f.store.FailNext(unauthorized)

		_, err = f.labels.List(context.Background(), domain.ListFilter{})
		require.NoError(t, err)
		assert.EqualValues(t, 1, f.sessions.invalidations.Load())

		fresh, err := f.sessions.Current(context.Background())
		require.NoError(t, err)
		assert.NotSame(t, stale, fresh)
	})

	t.Run("a second rejection is returned", func(t *testing.T) {
		f := setupTestFixture(t)
		labels := logicv1.NewLabelService(f.sessions, storeFactory(func(domain.SessionDescriptor) (domain.DocumentStore, error) {
			f.store.FailNext(unauthorized)
			return f.store, nil
		}))

		_, err := labels.List(context.Background(), domain.ListFilter{})
		require.ErrorIs(t, err, domain.ErrStoreUnauthorized)
		assert.EqualValues(t, 1, f.sessions.invalidations.Load())
	})

	t.Run("transport errors do not invalidate", func(t *testing.T) {
		f := setupTestFixture(t)
		f.store.FailNext(fmt.Errorf("all_docs: %w", domain.ErrTransport))

		_, err := f.labels.List(context.Background(), domain.ListFilter{})
		require.ErrorIs(t, err, domain.ErrTransport)
		assert.Zero(t, f.sessions.invalidations.Load())
	})
}

func TestSessionErrorsPropagate(t *testing.T) {
	f := setupTestFixture(t)
	f.sessions.err = fmt.Errorf("authenticate: %w", &domain.LoginRejectedError{StatusCode: 401, Body: "nope"})
	built := false
	labels := logicv1.NewLabelService(f.sessions, storeFactory(func(domain.SessionDescriptor) (domain.DocumentStore, error) {
		built = true
		return memstore.New(), nil
	}))

	_, err := labels.GetByID(context.Background(), "HashTag_1")
	require.ErrorIs(t, err, domain.ErrLoginRejected)
	assert.False(t, built)
}

func ids(docs []domain.Document) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.ID())
	}
	return out
}
