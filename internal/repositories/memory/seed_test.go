package memory

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/productshop/api/internal/domain"
)

const sampleSeed = `
products:
  - id: prod_lamp
    title: Desk Lamp
    price: 12000
    stock: 5
    options:
      - id: opt_black
        name: Black
        price: 500
        stock: 2
members:
  - id: member-1
    email: kim@example.com
    recipientName: Kim
    zipCode: "06236"
    address: Seoul
    phone: "01012345678"
`

func TestLoadSeedPopulatesCatalogAndMembers(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.LoadSeed(strings.NewReader(sampleSeed)))

	product, err := store.Catalog().FindProduct(context.Background(), "prod_lamp")
	require.NoError(t, err)
	assert.Equal(t, "Desk Lamp", product.Title)
	assert.Equal(t, []string{"opt_black"}, product.OptionIDs)

	option, err := store.Catalog().FindOption(context.Background(), "opt_black")
	require.NoError(t, err)
	assert.Equal(t, "prod_lamp", option.ProductID)

	stock, ok := store.Stock(domain.StockKey{ProductID: "prod_lamp", OptionID: "opt_black"})
	require.True(t, ok)
	assert.EqualValues(t, 2, stock)

	member, err := store.Members().FindByID(context.Background(), "member-1")
	require.NoError(t, err)
	assert.Equal(t, "06236", member.Shipping.ZipCode)
}

func TestLoadSeedRejectsUnknownFieldsAndNegativeStock(t *testing.T) {
	err := NewStore().LoadSeed(strings.NewReader("products:\n  - id: p\n    colour: red\n"))
	assert.Error(t, err)

	err = NewStore().LoadSeed(strings.NewReader("products:\n  - id: p\n    stock: -1\n"))
	assert.Error(t, err)
}

func TestLoadSeedAcceptsEmptyDocument(t *testing.T) {
	assert.NoError(t, NewStore().LoadSeed(strings.NewReader("")))
}
