package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memKeys struct {
	keys map[string]time.Duration
	err  error
}

func (m *memKeys) SetNX(_ context.Context, key string, _ any, ttl time.Duration) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	if _, ok := m.keys[key]; ok {
		return false, nil
	}
	m.keys[key] = ttl
	return true, nil
}

func (m *memKeys) Del(_ context.Context, key string) error {
	delete(m.keys, key)
	return nil
}

func TestEventGuard(t *testing.T) {
	store := &memKeys{keys: map[string]time.Duration{}}
	g, err := NewEventGuard(store, time.Hour, "stripe")
	require.NoError(t, err)
	ctx := context.Background()

	seen, err := g.CheckAndMark(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, seen)
	assert.Equal(t, time.Hour, store.keys["idem:stripe:evt_1"])

	seen, err = g.CheckAndMark(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, seen)

	require.NoError(t, g.Delete(ctx, "evt_1"))
	seen, err = g.CheckAndMark(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, seen, "deleted events are handled again")

	_, err = g.CheckAndMark(ctx, "")
	assert.Error(t, err)
}

func TestEventGuardErrors(t *testing.T) {
	_, err := NewEventGuard(nil, time.Hour, "stripe")
	assert.Error(t, err)
	_, err = NewEventGuard(&memKeys{}, -time.Second, "stripe")
	assert.Error(t, err)
	_, err = NewEventGuard(&memKeys{}, time.Hour, "")
	assert.Error(t, err)

	g, err := NewEventGuard(&memKeys{keys: map[string]time.Duration{}, err: errors.New("down")}, time.Hour, "stripe")
	require.NoError(t, err)
	_, err = g.CheckAndMark(context.Background(), "evt_1")
	assert.ErrorContains(t, err, "down")
}
