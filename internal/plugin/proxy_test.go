package plugin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MIRChain/mir-control-center/internal/events"
	"github.com/MIRChain/mir-control-center/internal/process"
	"github.com/MIRChain/mir-control-center/internal/release"
)

func TestNewProxy_RelaysOnce(t *testing.T) {
	p, err := New(Descriptor{Name: "mir", Repository: "MIRChain/MIR"}, Options{Updater: &fakeUpdater{cacheDir: t.TempDir()}})
	require.NoError(t, err)

	first := NewProxy(p)
	baseline := p.Events().ListenerCount()
	for i := 0; i < 10; i++ {
		NewProxy(p)
	}
	assert.Equal(t, baseline, p.Events().ListenerCount())
	assert.Same(t, first.Events(), NewProxy(p).Events())

	rec := &recorder{}
	first.Subscribe(rec.handle, events.SetupEvent)
	p.Events().Emit(events.SetupEvent, SetupEvent{Type: SetupFetchRelease})
	p.Events().Emit(events.Log, "not subscribed")

	got := rec.named(events.SetupEvent)
	require.Len(t, got, 1, "one relay link means one delivery")
	assert.Equal(t, SetupFetchRelease, got[0].(SetupEvent).Type)
}

func TestProxy_ForwardsToPlugin(t *testing.T) {
	up := &fakeUpdater{
		cacheDir: t.TempDir(),
		cached:   []release.Release{{Version: "1.0.0", Location: "/cache/mir-1.0.0"}},
	}
	p, err := New(Descriptor{
		Name:        "mir",
		Repository:  "MIRChain/MIR",
		DisplayName: "Mir Node",
		Order:       2,
		Config:      ConfigDefault{Default: map[string]string{"network": "soyuz"}},
	}, Options{Updater: up})
	require.NoError(t, err)
	x := NewProxy(p)

	info := x.Info()
	assert.Equal(t, "mir", info.Name)
	assert.Equal(t, "Mir Node", info.DisplayName)
	assert.Equal(t, 2, info.Order)
	assert.Equal(t, process.StateStopped, info.State)
	assert.False(t, info.IsRunning)
	assert.Equal(t, "soyuz", info.Config["network"])

	cached, err := x.GetCachedReleases(context.Background())
	require.NoError(t, err)
	assert.Len(t, cached, 1)

	res := x.RPC(context.Background(), "eth_syncing", nil)
	assert.True(t, res.NoActiveProcess())

	rec := &recorder{}
	x.Subscribe(rec.handle)
	require.NoError(t, x.Stop(context.Background()))
	assert.Equal(t, 1, rec.count(events.ClearPluginErrors))
}

func TestProxy_DownloadWithoutCallbacks(t *testing.T) {
	up := &fakeUpdater{cacheDir: t.TempDir()}
	p, err := New(Descriptor{Name: "mir", Repository: "MIRChain/MIR"}, Options{Updater: up})
	require.NoError(t, err)

	rel := release.Release{Version: "1.0.0", Location: "https://example/mir", Remote: true}
	_, err = NewProxy(p).Download(context.Background(), rel, nil, nil)
	require.NoError(t, err)
	require.Len(t, up.downloadOpts, 1)
	assert.NotNil(t, up.downloadOpts[0].OnProgress)
}
