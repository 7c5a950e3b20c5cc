package roster

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/synaptica-ai/bedside-sim/pkg/device"
)

func newTestRoster(t *testing.T, source Source) (*Roster, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client, "", time.Minute, source), mr
}

func TestSyncWritesEntries(t *testing.T) {
	entries := []device.Entry{
		{Category: device.CategoryECG, DeviceID: "SIM-BELT-0001", Kind: device.KindECG, PatientID: "SIM-PAT-0001", PairedWith: "SIM-LEPU-0001", State: device.StateRunning},
		{Category: device.CategoryPaired, DeviceID: "SIM-LEPU-0001", Kind: device.KindVitals, PatientID: "SIM-PAT-0001", PairedWith: "SIM-BELT-0001", State: device.StateRunning},
	}
	r, mr := newTestRoster(t, nil)
	ctx := context.Background()

	require.NoError(t, r.Sync(ctx, entries))

	assert.True(t, mr.Exists(DefaultKey))
	assert.Equal(t, time.Minute, mr.TTL(DefaultKey))

	got, err := r.Entries(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, entries, got)
}

func TestSyncReplacesPreviousRoster(t *testing.T) {
	r, mr := newTestRoster(t, nil)
	ctx := context.Background()

	require.NoError(t, r.Sync(ctx, []device.Entry{{DeviceID: "SIM-LEPU-0001", State: device.StateRunning}}))
	require.NoError(t, r.Sync(ctx, []device.Entry{{DeviceID: "SIM-LEPU-0002", State: device.StateRunning}}))

	keys, err := mr.HKeys(DefaultKey)
	require.NoError(t, err)
	assert.Equal(t, []string{"SIM-LEPU-0002"}, keys)

	require.NoError(t, r.Sync(ctx, nil))
	assert.False(t, mr.Exists(DefaultKey))
}

func TestRosterFollowsRegistry(t *testing.T) {
	var reg *device.Registry
	r, _ := newTestRoster(t, func() []device.Entry { return reg.List() })
	reg = device.NewRegistry(device.WithObserver(r))

	noop := device.PublisherFunc(func(ctx context.Context, topic, key string, payload []byte) error { return nil })
	cfg := device.StreamConfig{Sinks: device.Sinks{Control: noop, Data: noop}, Cadence: time.Hour}
	s := device.NewVitalsStream(device.NewGenerator(3).NewPatient(device.LonelyPatientPrefix), cfg)
	require.NoError(t, reg.RegisterVitals(s, ""))

	got, err := r.Entries(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, s.Identity().ID, got[0].DeviceID)
	assert.Equal(t, device.CategoryLonely, got[0].Category)

	require.NoError(t, reg.Shutdown(context.Background()))
	got, err = r.Entries(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestClear(t *testing.T) {
	r, mr := newTestRoster(t, nil)
	ctx := context.Background()
	require.NoError(t, r.Sync(ctx, []device.Entry{{DeviceID: "SIM-BELT-0001"}}))
	require.NoError(t, r.Clear(ctx))
	assert.False(t, mr.Exists(DefaultKey))
}
