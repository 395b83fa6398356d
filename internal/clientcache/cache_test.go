package clientcache

import (
	"testing"

	"github.com/dreadwing5/Restore/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func basketWith(id string, qty int) domain.Basket {
	return domain.Basket{ID: id, Lines: []domain.Line{{ProductID: 1, Name: "Blue Hat", UnitPrice: 1000, Quantity: qty}}}
}

func TestGet_Missing(t *testing.T) {
	c := New()

	_, ok := c.Get("b1")
	assert.False(t, ok)
}

func TestPublish_StoresCopy(t *testing.T) {
	c := New()
	b := basketWith("b1", 2)

	c.Publish("b1", b)
	b.Lines[0].Quantity = 99

	got, ok := c.Get("b1")
	require.True(t, ok)
	assert.Equal(t, 2, got.Lines[0].Quantity)

	got.Lines[0].Quantity = 42
	again, _ := c.Get("b1")
	assert.Equal(t, 2, again.Lines[0].Quantity, "readers cannot mutate the cached value")
}

func TestRemove(t *testing.T) {
	c := New()
	c.Publish("b1", basketWith("b1", 1))

	c.Remove("b1")

	_, ok := c.Get("b1")
	assert.False(t, ok)
}

func TestSubscribe_ReceivesLatest(t *testing.T) {
	c := New()
	updates, cancel := c.Subscribe("b1")
	defer cancel()

	c.Publish("b1", basketWith("b1", 1))
	c.Publish("b1", basketWith("b1", 2))
	c.Publish("other", basketWith("other", 7))

	u := <-updates
	assert.True(t, u.Present)
	assert.Equal(t, 2, u.Basket.Quantity(1))

	select {
	case u := <-updates:
		t.Fatalf("unexpected update %+v", u)
	default:
	}

	c.Remove("b1")
	u = <-updates
	assert.False(t, u.Present)
}

func TestSubscribe_CancelClosesChannel(t *testing.T) {
	c := New()
	updates, cancel := c.Subscribe("b1")

	cancel()
	cancel()

	_, open := <-updates
	assert.False(t, open)

	c.Publish("b1", basketWith("b1", 1))
	assert.Empty(t, c.subs)
}
