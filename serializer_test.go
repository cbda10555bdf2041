package stoat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventRegistry(t *testing.T) {
	r := NewEventRegistry()
	r.Register("user.created", UserCreated{})
	r.RegisterAll(&EmailChanged{}, RoleChanged{})

	assert.Equal(t, 3, r.Count())
	typ, ok := r.Lookup("user.created")
	require.True(t, ok)
	assert.Equal(t, "UserCreated", typ.Name())
	_, ok = r.Lookup("EmailChanged")
	assert.True(t, ok)
	_, ok = r.Lookup("Missing")
	assert.False(t, ok)
}

func TestJSONSerializer(t *testing.T) {
	t.Run("registered types decode to their Go type", func(t *testing.T) {
		s := NewJSONSerializer()
		s.RegisterAll(GiftPurchased{})

		data, err := s.Serialize(GiftPurchased{Gift: "rose", Cost: 3})
		require.NoError(t, err)
		v, err := s.Deserialize(data, "GiftPurchased")
		require.NoError(t, err)
		assert.Equal(t, GiftPurchased{Gift: "rose", Cost: 3}, v)
	})

	t.Run("unregistered types fall back to a map", func(t *testing.T) {
		s := NewJSONSerializer()
		v, err := s.Deserialize([]byte(`{"gift":"rose"}`), "GiftPurchased")
		require.NoError(t, err)
		assert.Equal(t, map[string]interface{}{"gift": "rose"}, v)
	})

	t.Run("strict mode rejects unregistered types", func(t *testing.T) {
		s := NewJSONSerializer(WithStrictTypes())
		_, err := s.Deserialize([]byte(`{}`), "GiftPurchased")
		assert.ErrorIs(t, err, ErrEventTypeNotRegistered)
	})

	t.Run("shared registry", func(t *testing.T) {
		r := NewEventRegistry()
		r.RegisterAll(CreditsAdded{})
		s := NewJSONSerializer(WithRegistry(r), WithStrictTypes())

		v, err := s.Deserialize([]byte(`{"amount":2}`), "CreditsAdded")
		require.NoError(t, err)
		assert.Equal(t, CreditsAdded{Amount: 2}, v)
		assert.Same(t, r, s.Registry())
	})

	t.Run("errors", func(t *testing.T) {
		s := NewJSONSerializer()
		_, err := s.Serialize(nil)
		assert.ErrorIs(t, err, ErrSerializationFailed)
		_, err = s.Deserialize(nil, "X")
		assert.ErrorIs(t, err, ErrSerializationFailed)
		_, err = s.Serialize(make(chan int))
		assert.ErrorIs(t, err, ErrSerializationFailed)
		_, err = s.Deserialize([]byte("{"), "X")
		assert.ErrorIs(t, err, ErrSerializationFailed)
	})
}

func TestEncode(t *testing.T) {
	s := NewJSONSerializer()
	s.RegisterAll(RoleChanged{})

	data, err := Encode(s, &RoleChanged{Role: "admin"})
	require.NoError(t, err)
	assert.Equal(t, "RoleChanged", data.Type)
	assert.JSONEq(t, `{"role":"admin"}`, string(data.Data))

	decoded, err := Event{Type: data.Type, Data: data.Data}.Decode(s)
	require.NoError(t, err)
	assert.Equal(t, RoleChanged{Role: "admin"}, decoded)

	_, err = Encode(s, nil)
	assert.ErrorIs(t, err, ErrSerializationFailed)
	assert.Panics(t, func() { MustEncode(s, nil) })
}

func TestJSONStateCodec(t *testing.T) {
	var codec StateCodec = JSONStateCodec{}
	b, err := codec.Marshal(userState{Email: "a@example.com", Credits: 4})
	require.NoError(t, err)

	var out userState
	require.NoError(t, codec.Unmarshal(b, &out))
	assert.Equal(t, userState{Email: "a@example.com", Credits: 4}, out)
}
