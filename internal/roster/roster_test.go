package roster

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classattend/internal/model"
	"classattend/internal/store"
)

type failingKV struct {
	*store.Memory
	failSet bool
	failGet bool
}

func (f *failingKV) Get(ctx context.Context, key string) ([]byte, error) {
	if f.failGet {
		return nil, errors.New("disk on fire")
	}
	return f.Memory.Get(ctx, key)
}

func (f *failingKV) Set(ctx context.Context, key string, value []byte) error {
	if f.failSet {
		return errors.New("disk full")
	}
	return f.Memory.Set(ctx, key, value)
}

func TestLoadSeedsAndPersistsEmptyStorage(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemory()

	s := Load(ctx, kv, DefaultSeed(), nil)
	require.Equal(t, 5, s.Len())

	var stored []model.Student
	found, err := store.LoadJSON(ctx, kv, Key, &stored)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, s.List(), stored)
	assert.Equal(t, "4.32.23.001", stored[0].NIM)
	assert.Equal(t, "A", stored[0].Class)
	assert.Equal(t, "A", stored[4].Class)
}

func TestLoadPrefersStoredRoster(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemory()
	require.NoError(t, store.SaveJSON(ctx, kv, Key, []model.Student{{ID: "1", Name: "Ana", NIM: "1", RFIDUID: "AA"}}))

	s := Load(ctx, kv, DefaultSeed(), nil)
	require.Equal(t, 1, s.Len())
	assert.Equal(t, "Ana", s.List()[0].Name)
}

func TestLoadFallsBackToSeedOnReadFailure(t *testing.T) {
	ctx := context.Background()
	kv := &failingKV{Memory: store.NewMemory(), failGet: true}

	s := Load(ctx, kv, []model.Student{{ID: "1", Name: "Ana", NIM: "1"}}, nil)
	assert.Equal(t, 1, s.Len())

	_, err := kv.Memory.Get(ctx, Key)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCRUD(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemory()
	s := Load(ctx, kv, nil, nil)
	assert.Equal(t, 0, s.Len())

	ana, err := s.Add(ctx, model.Student{Name: " Ana ", NIM: "4.32.23.010", Class: "B", RFIDUID: "AA"})
	require.NoError(t, err)
	assert.NotEmpty(t, ana.ID)
	assert.Equal(t, "Ana", ana.Name)

	_, err = s.Add(ctx, model.Student{NIM: "x"})
	assert.ErrorIs(t, err, ErrInvalid)

	ana.Name = "Ana Maria"
	_, err = s.Update(ctx, ana)
	require.NoError(t, err)
	got, err := s.Get(ana.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ana Maria", got.Name)

	_, err = s.Update(ctx, model.Student{ID: "missing", Name: "X", NIM: "1"})
	assert.ErrorIs(t, err, ErrNotFound)

	var stored []model.Student
	_, err = store.LoadJSON(ctx, kv, Key, &stored)
	require.NoError(t, err)
	assert.Equal(t, []model.Student{got}, stored)

	require.NoError(t, s.Delete(ctx, ana.ID))
	assert.ErrorIs(t, s.Delete(ctx, ana.ID), ErrNotFound)
	_, err = s.Get(ana.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMutationSurvivesPersistFailure(t *testing.T) {
	ctx := context.Background()
	kv := &failingKV{Memory: store.NewMemory()}
	s := Load(ctx, kv, nil, nil)

	kv.failSet = true
	_, err := s.Add(ctx, model.Student{Name: "Budi", NIM: "2"})
	require.NoError(t, err)
	assert.Equal(t, 1, s.Len())
}

func TestFindByTagAndFilter(t *testing.T) {
	ctx := context.Background()
	s := Load(ctx, store.NewMemory(), []model.Student{
		{ID: "1", Name: "Ana", NIM: "4.32.23.001", Class: "A", RFIDUID: "AA"},
		{ID: "2", Name: "Budi", NIM: "4.32.23.002", Class: "B", RFIDUID: "BB"},
		{ID: "3", Name: "Banyu", NIM: "4.32.23.003", Class: "B", RFIDUID: "BB"},
	}, nil)

	st, ok := s.FindByTag("BB")
	require.True(t, ok)
	assert.Equal(t, "2", st.ID)
	_, ok = s.FindByTag("bb")
	assert.False(t, ok)
	_, ok = s.FindByTag("")
	assert.False(t, ok)

	assert.Len(t, s.Filter("", "All"), 3)
	assert.Len(t, s.Filter("", "B"), 2)
	assert.Len(t, s.Filter("b", ""), 2)
	assert.Len(t, s.Filter("003", "B"), 1)
	assert.Empty(t, s.Filter("ana", "B"))
}

func TestFilterMatchesAlphanumericNIM(t *testing.T) {
	ctx := context.Background()
	s := Load(ctx, store.NewMemory(), []model.Student{
		{ID: "1", Name: "Ana", NIM: "TI-2023-01", Class: "A"},
		{ID: "2", Name: "Budi", NIM: "4.32.23.002", Class: "B"},
	}, nil)

	for _, q := range []string{"TI-2023", "ti-2023", " Ti-2023-01 "} {
		got := s.Filter(q, "")
		require.Len(t, got, 1, q)
		assert.Equal(t, "1", got[0].ID)
	}
	assert.Empty(t, s.Filter("TI-2023", "B"))
}
