package store

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/geoherd/herd/wire"
)

func rec(clientID string, ts float64) *wire.Record {
	return wire.RenderAT("Clark", 0, wire.IAMATFields{
		ClientID:      clientID,
		LatText:       "+34.068930",
		LonText:       "-118.445127",
		Lat:           34.068930,
		Lon:           -118.445127,
		TimestampText: "1000",
		Timestamp:     ts,
	})
}

func TestApplyFirstRecordAlwaysApplied(t *testing.T) {
	s, err := New()
	require.NoError(t, err)

	decision, err := s.Apply(rec("kiwi", 1000))
	require.NoError(t, err)
	require.Equal(t, Applied, decision)

	got, ok, err := s.Get("kiwi")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1000.0, got.Timestamp)
}

func TestApplyStrictlyNewerWins(t *testing.T) {
	s, err := New()
	require.NoError(t, err)

	_, err = s.Apply(rec("kiwi", 1000))
	require.NoError(t, err)

	decision, err := s.Apply(rec("kiwi", 2000))
	require.NoError(t, err)
	require.Equal(t, Applied, decision)

	got, _, _ := s.Get("kiwi")
	require.Equal(t, 2000.0, got.Timestamp)
}

func TestApplyOlderIgnored(t *testing.T) {
	s, err := New()
	require.NoError(t, err)

	_, err = s.Apply(rec("kiwi", 2000))
	require.NoError(t, err)

	decision, err := s.Apply(rec("kiwi", 1000))
	require.NoError(t, err)
	require.Equal(t, Ignored, decision)

	got, _, _ := s.Get("kiwi")
	require.Equal(t, 2000.0, got.Timestamp)
}

func TestApplyEqualTimestampFirstArrivalWins(t *testing.T) {
	s, err := New()
	require.NoError(t, err)

	first := rec("kiwi", 1000)
	_, err = s.Apply(first)
	require.NoError(t, err)

	second := rec("kiwi", 1000)
	second.Raw = "AT Bailey +0.000000000 kiwi +34.068930-118.445127 1000"
	decision, err := s.Apply(second)
	require.NoError(t, err)
	require.Equal(t, Ignored, decision)

	got, _, _ := s.Get("kiwi")
	require.Equal(t, first.Raw, got.Raw)
}

func TestGetUnknownClient(t *testing.T) {
	s, err := New()
	require.NoError(t, err)

	_, ok, err := s.Get("nobody")
	require.NoError(t, err)
	require.False(t, ok)
}
