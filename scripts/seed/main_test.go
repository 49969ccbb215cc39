package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gauravitis/crm-sub001/internal/inventory"
)

type fakeCreator struct {
	existing map[string]bool
	created  []inventory.NewItemInput
}

func (f *fakeCreator) CreateItem(_ context.Context, input inventory.NewItemInput) (inventory.Item, error) {
	if f.existing[input.Ref] {
		return inventory.Item{}, inventory.ErrItemExists
	}
	f.created = append(f.created, input)
	return inventory.Item{Ref: input.Ref, Name: input.Name, OnHand: input.OpeningQty}, nil
}

func TestDefaultCatalogParses(t *testing.T) {
	cat, err := loadCatalog(bytes.NewReader(defaultCatalog))
	require.NoError(t, err)
	assert.NotEmpty(t, cat.Items)
}

func TestLoadCatalogRejectsBadEntries(t *testing.T) {
	cases := map[string]string{
		"missing ref":   "items:\n  - name: x\n",
		"negative qty":  "items:\n  - ref: A\n    opening_qty: -1\n",
		"duplicate ref": "items:\n  - ref: A\n  - ref: A\n",
		"unknown field": "items:\n  - ref: A\n    price: 10\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := loadCatalog(strings.NewReader(doc))
			require.Error(t, err)
		})
	}
}

func TestSeedItemsSkipsExisting(t *testing.T) {
	cat, err := loadCatalog(strings.NewReader("items:\n  - ref: A\n    opening_qty: 5\n  - ref: B\n"))
	require.NoError(t, err)
	creator := &fakeCreator{existing: map[string]bool{"B": true}}

	created, skipped, err := seedItems(context.Background(), creator, cat)
	require.NoError(t, err)
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, skipped)
	require.Len(t, creator.created, 1)
	assert.Equal(t, int64(5), creator.created[0].OpeningQty)
}
