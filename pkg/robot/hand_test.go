package robot

import (
	"context"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanSimulatedHand(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Simulate = true
	cfg.Serial.TimeoutMs = 5
	cfg.Serial.GapUs = 10
	log := logrus.New()
	log.SetOutput(io.Discard)

	tr, sim, err := OpenTransport(cfg, log)
	require.NoError(t, err)
	require.NotNil(t, sim)
	defer tr.Close()
	ctx := context.Background()

	servos, err := ScanServos(ctx, tr)
	require.NoError(t, err)
	require.Len(t, servos, NumChannels)
	assert.True(t, IsHand(servos))
	assert.Equal(t, "sts3215", servos[0].Model)

	positions, err := ReadPositions(ctx, tr, []int{1, 17})
	require.NoError(t, err)
	assert.InDelta(t, 2048, positions[1], 1)
	assert.InDelta(t, 2048, positions[17], 1)

	sim.Remove(5)
	servos, err = ScanServos(ctx, tr)
	require.NoError(t, err)
	assert.Len(t, servos, NumChannels-1)
	assert.False(t, IsHand(servos))
}
