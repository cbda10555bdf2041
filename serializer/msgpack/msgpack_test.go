package msgpack

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AshkanYarmoradi/go-stoat"
	"github.com/AshkanYarmoradi/go-stoat/adapters/memory"
)

type GiftPurchased struct {
	Gift string `msgpack:"gift"`
	Cost int    `msgpack:"cost"`
}

type CreditsAdded struct {
	Amount int `msgpack:"amount"`
}

type balance struct {
	Credits int            `msgpack:"credits"`
	Gifts   map[string]int `msgpack:"gifts"`
}

func TestSerializer(t *testing.T) {
	t.Run("registered types round-trip", func(t *testing.T) {
		s := NewSerializer()
		s.RegisterAll(GiftPurchased{}, &CreditsAdded{})
		assert.Equal(t, 2, s.Count())

		data, err := s.Serialize(GiftPurchased{Gift: "rose", Cost: 3})
		require.NoError(t, err)

		v, err := s.Deserialize(data, "GiftPurchased")
		require.NoError(t, err)
		assert.Equal(t, GiftPurchased{Gift: "rose", Cost: 3}, v)
	})

	t.Run("custom type names", func(t *testing.T) {
		s := NewSerializer()
		s.Register("gift.purchased", GiftPurchased{})

		data, err := s.Serialize(GiftPurchased{Gift: "car"})
		require.NoError(t, err)
		v, err := s.Deserialize(data, "gift.purchased")
		require.NoError(t, err)
		assert.Equal(t, "car", v.(GiftPurchased).Gift)
	})

	t.Run("unregistered types fall back to a map", func(t *testing.T) {
		s := NewSerializer()
		data, err := s.Serialize(CreditsAdded{Amount: 5})
		require.NoError(t, err)

		v, err := s.Deserialize(data, "CreditsAdded")
		require.NoError(t, err)
		m, ok := v.(map[string]interface{})
		require.True(t, ok)
		assert.EqualValues(t, 5, m["amount"])
	})

	t.Run("strict mode", func(t *testing.T) {
		s := NewSerializer(WithStrictTypes())
		_, err := s.Deserialize([]byte{0x80}, "CreditsAdded")
		assert.ErrorIs(t, err, stoat.ErrEventTypeNotRegistered)
	})

	t.Run("shared registry", func(t *testing.T) {
		r := stoat.NewEventRegistry()
		r.RegisterAll(CreditsAdded{})
		s := NewSerializer(WithRegistry(r))
		assert.Equal(t, 1, s.Count())
	})

	t.Run("errors use the store taxonomy", func(t *testing.T) {
		s := NewSerializer()
		s.RegisterAll(GiftPurchased{})

		_, err := s.Serialize(nil)
		assert.ErrorIs(t, err, stoat.ErrSerializationFailed)
		_, err = s.Deserialize(nil, "GiftPurchased")
		assert.ErrorIs(t, err, stoat.ErrSerializationFailed)
		_, err = s.Deserialize([]byte{0xc1}, "GiftPurchased")
		assert.ErrorIs(t, err, stoat.ErrSerializationFailed)

		var se *stoat.SerializationError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, "deserialize", se.Operation)
	})
}

func TestStateCodec(t *testing.T) {
	in := balance{Credits: 7, Gifts: map[string]int{"rose": 2}}

	b, err := StateCodec{}.Marshal(in)
	require.NoError(t, err)

	var out balance
	require.NoError(t, StateCodec{}.Unmarshal(b, &out))
	assert.Equal(t, in, out)
}

func TestStoreIntegration(t *testing.T) {
	ctx := context.Background()
	s := NewSerializer()
	s.RegisterAll(CreditsAdded{})
	store := stoat.New(memory.NewBackend(), stoat.WithSerializer(s), stoat.WithStateCodec(StateCodec{}))

	data, err := stoat.Encode(s, CreditsAdded{Amount: 4})
	require.NoError(t, err)
	data.AggregateID = "user-1"
	_, err = store.Append(ctx, data)
	require.NoError(t, err)

	events, err := store.GetEvents(ctx, "user-1", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	decoded, err := events[0].Decode(store.Serializer())
	require.NoError(t, err)
	assert.Equal(t, CreditsAdded{Amount: 4}, decoded)

	require.NoError(t, store.CreateSnapshot(ctx, "user-1", balance{Credits: 4}, 1))
	snap, err := store.GetSnapshot(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, snap)

	var restored balance
	require.NoError(t, store.DecodeSnapshot(snap, &restored))
	assert.Equal(t, 4, restored.Credits)
}
