package eventstore

import (
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/cuemby/mls-relay/pkg/nostrcore"
	"github.com/cuemby/mls-relay/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	dir := t.TempDir()
	s, err := NewBoltStore(dir, Window{})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func signedEvent(t *testing.T, priv *btcec.PrivateKey, createdAt int64, kind int, tags [][]string, content string) *types.Event {
	t.Helper()
	if tags == nil {
		tags = [][]string{}
	}
	e := &types.Event{
		PubKey:    hex.EncodeToString(schnorr.SerializePubKey(priv.PubKey())),
		CreatedAt: createdAt,
		Kind:      kind,
		Tags:      tags,
		Content:   content,
	}
	id, err := nostrcore.ComputeID(e)
	require.NoError(t, err)
	e.ID = id

	idBytes, err := hex.DecodeString(id)
	require.NoError(t, err)
	sig, err := schnorr.Sign(priv, idBytes)
	require.NoError(t, err)
	e.Sig = hex.EncodeToString(sig.Serialize())
	return e
}

func newTestKey(t *testing.T) *btcec.PrivateKey {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	return priv
}

func TestPutGetRoundtrip(t *testing.T) {
	s := newTestStore(t)
	priv := newTestKey(t)
	e := signedEvent(t, priv, 1700000000, 1, nil, "hello")

	status, err := s.Put(e)
	require.NoError(t, err)
	assert.Equal(t, PutCommitted, status)

	got, err := s.Get(e.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, e.Content, got.Content)
}

func TestPutIdempotent(t *testing.T) {
	s := newTestStore(t)
	priv := newTestKey(t)
	e := signedEvent(t, priv, 1700000000, 1, nil, "hello")

	status, err := s.Put(e)
	require.NoError(t, err)
	assert.Equal(t, PutCommitted, status)

	status, err = s.Put(e)
	require.NoError(t, err)
	assert.Equal(t, PutDuplicate, status)
}

func TestPutRejectsBadSignature(t *testing.T) {
	s := newTestStore(t)
	priv := newTestKey(t)
	e := signedEvent(t, priv, 1700000000, 1, nil, "hello")
	e.Sig = hex.EncodeToString(make([]byte, 64))

	_, err := s.Put(e)
	require.Error(t, err)

	got, err := s.Get(e.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestQueryOrdering(t *testing.T) {
	s := newTestStore(t)
	priv := newTestKey(t)

	e1 := signedEvent(t, priv, 100, 1, nil, "a")
	e2 := signedEvent(t, priv, 200, 1, nil, "b")
	e3 := signedEvent(t, priv, 200, 1, nil, "c")

	for _, e := range []*types.Event{e1, e2, e3} {
		_, err := s.Put(e)
		require.NoError(t, err)
	}

	results, err := s.Query([]*types.Filter{{Kinds: []int{1}}}, 0)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, int64(200), results[0].CreatedAt)
	assert.Equal(t, int64(200), results[1].CreatedAt)
	assert.True(t, results[0].ID < results[1].ID)
	assert.Equal(t, int64(100), results[2].CreatedAt)
}

func TestQueryByTag(t *testing.T) {
	s := newTestStore(t)
	priv1 := newTestKey(t)
	priv2 := newTestKey(t)

	target := signedEvent(t, priv1, 100, 445, [][]string{{"h", "group-1"}}, "msg")
	other := signedEvent(t, priv2, 100, 445, [][]string{{"h", "group-2"}}, "msg")

	_, err := s.Put(target)
	require.NoError(t, err)
	_, err = s.Put(other)
	require.NoError(t, err)

	results, err := s.Query([]*types.Filter{{Tags: map[string][]string{"h": {"group-1"}}}}, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, target.ID, results[0].ID)
}

func TestDeleteRemovesFromEveryIndex(t *testing.T) {
	s := newTestStore(t)
	priv := newTestKey(t)
	e := signedEvent(t, priv, 100, 443, [][]string{{"p", "recipient"}}, "payload")

	_, err := s.Put(e)
	require.NoError(t, err)

	require.NoError(t, s.Delete(e.ID))

	got, err := s.Get(e.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	results, err := s.Query([]*types.Filter{{Kinds: []int{443}}}, 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}
