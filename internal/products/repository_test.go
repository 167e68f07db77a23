package products

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/payflow/pkg/db/dbtest"
)

func TestRepositoryFindByIDs(t *testing.T) {
	client := dbtest.Open(t)
	mug := dbtest.SeedProduct(t, client.DB(), "Mug", "12.50")
	tee := dbtest.SeedProduct(t, client.DB(), "Tee", "20.00")
	repo := NewRepository(client.DB())

	found, err := repo.FindByIDs(context.Background(), []uint64{mug.ID, tee.ID, 9999})
	require.NoError(t, err)
	require.Len(t, found, 2)
	require.Equal(t, "Mug", found[mug.ID].Name)
	require.Equal(t, "12.5", found[mug.ID].Price.String())
	_, ok := found[9999]
	require.False(t, ok)
}

func TestRepositoryFindByIDsEmpty(t *testing.T) {
	repo := NewRepository(dbtest.Open(t).DB())

	found, err := repo.FindByIDs(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, found)
}

func TestRepositoryFindByID(t *testing.T) {
	client := dbtest.Open(t)
	mug := dbtest.SeedProduct(t, client.DB(), "Mug", "12.50")
	repo := NewRepository(client.DB())

	got, err := repo.FindByID(context.Background(), mug.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, mug.ID, got.ID)

	missing, err := repo.FindByID(context.Background(), mug.ID+100)
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestRepositoryListOrdersByName(t *testing.T) {
	client := dbtest.Open(t)
	dbtest.SeedProduct(t, client.DB(), "Tee", "20.00")
	dbtest.SeedProduct(t, client.DB(), "Cap", "8.00")
	dbtest.SeedProduct(t, client.DB(), "Mug", "12.50")
	repo := NewRepository(client.DB())

	rows, err := repo.List(context.Background())
	require.NoError(t, err)
	names := make([]string, 0, len(rows))
	for _, row := range rows {
		names = append(names, row.Name)
	}
	require.Equal(t, []string{"Cap", "Mug", "Tee"}, names)
}
