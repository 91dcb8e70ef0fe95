package jobs_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/concore-go/concore/jobs"
)

type serializerRoundTripArgs struct {
	To      string
	Retries int
}

func TestJSONSerializer_RoundTrip(t *testing.T) {
	s := jobs.NewJSONSerializer()
	require.Equal(t, "json", s.Name())

	data, err := s.Serialize(serializerRoundTripArgs{To: "alice@example.com", Retries: 3})
	require.NoError(t, err)

	var got serializerRoundTripArgs
	require.NoError(t, s.Deserialize(data, &got))
	require.Equal(t, serializerRoundTripArgs{To: "alice@example.com", Retries: 3}, got)
}

func TestJSONSerializer_DeserializeRejectsNilTargetAndEmptyData(t *testing.T) {
	s := jobs.NewJSONSerializer()
	require.Error(t, s.Deserialize([]byte(`{}`), nil))
	require.Error(t, s.Deserialize(nil, &serializerRoundTripArgs{}))
}

func TestGobSerializer_RoundTrip(t *testing.T) {
	s := jobs.NewGobSerializer()
	require.Equal(t, "gob", s.Name())

	data, err := s.Serialize(serializerRoundTripArgs{To: "bob@example.com", Retries: 1})
	require.NoError(t, err)

	var got serializerRoundTripArgs
	require.NoError(t, s.Deserialize(data, &got))
	require.Equal(t, serializerRoundTripArgs{To: "bob@example.com", Retries: 1}, got)
}

func TestGobSerializer_DeserializeRejectsNilTargetAndEmptyData(t *testing.T) {
	s := jobs.NewGobSerializer()
	require.Error(t, s.Deserialize([]byte{1, 2, 3}, nil))
	require.Error(t, s.Deserialize(nil, &serializerRoundTripArgs{}))
}
