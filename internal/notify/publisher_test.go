package notify

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEvent_MarshalsExpectedFields(t *testing.T) {
	t.Parallel()

	ev := Event{
		Kind:      EventBatchSynced,
		ChainID:   1,
		Height:    100,
		Hash:      "0xabc",
		Timestamp: time.Unix(0, 0).UTC(),
	}

	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, "batch_synced", decoded["kind"])
	require.Equal(t, float64(1), decoded["chain_id"])
	require.Equal(t, float64(100), decoded["height"])
	require.Equal(t, "0xabc", decoded["hash"])
	require.NotContains(t, decoded, "detail")
}

func TestPublisher_HealthyFalseBeforeConnect(t *testing.T) {
	t.Parallel()

	p := &Publisher{}
	require.False(t, p.Healthy())
	require.NotPanics(t, p.Close)
}
