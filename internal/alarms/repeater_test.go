package alarms

import (
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/satellited/internal/actions"
	"git.home.luguber.info/inful/satellited/internal/deferred"
	"git.home.luguber.info/inful/satellited/internal/events"
	ferrors "git.home.luguber.info/inful/satellited/internal/foundation/errors"
	"git.home.luguber.info/inful/satellited/internal/statestore"
)

const speaker = "media_player.office"

type fixture struct {
	clock    *clockwork.FakeClock
	invoker  *actions.Recorder
	states   *statestore.MemoryStore
	repeater *Repeater
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		clock:   clockwork.NewFakeClock(),
		invoker: actions.NewRecorder(),
		states:  statestore.NewMemoryStore(),
	}
	f.states.Set(speaker, statestore.Attributes{
		AttrState:            "playing",
		AttrMediaContentID:   "http://radio/stream",
		AttrMediaContentType: "music",
	})
	base := []Option{
		WithScheduler(deferred.NewClockScheduler(f.clock)),
		WithBaseURL("http://platform.local:8123/"),
		WithFinishTimeout(time.Minute),
	}
	f.repeater = NewRepeater(NewActionPlayer(f.invoker, f.states), append(base, opts...)...)
	return f
}

func (f *fixture) played() []string {
	var out []string
	for _, c := range f.invoker.Calls("media_player.play_media") {
		out = append(out, c.Payload["media_content_id"].(string))
	}
	return out
}

func TestSoundRepeatsUntilLimitThenResumes(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	resp, err := f.repeater.Sound(ctx, SoundRequest{Target: speaker, MediaURL: "/local/alarm.mp3", Resume: true, MaxRepeats: 2})
	require.NoError(t, err)
	assert.Equal(t, "http://platform.local:8123/local/alarm.mp3", resp.MediaURL)
	assert.False(t, resp.Replaced)

	f.repeater.PlaybackFinished(ctx, speaker)
	st, ok := f.repeater.Status(speaker)
	require.True(t, ok)
	assert.Equal(t, 2, st.Plays)

	f.repeater.PlaybackFinished(ctx, speaker)
	_, ok = f.repeater.Status(speaker)
	assert.False(t, ok)

	assert.Equal(t, []string{
		"http://platform.local:8123/local/alarm.mp3",
		"http://platform.local:8123/local/alarm.mp3",
		"http://radio/stream",
	}, f.played())

	// Late completion signals are ignored.
	f.repeater.PlaybackFinished(ctx, speaker)
	assert.Len(t, f.played(), 3)
}

func TestInfiniteRepeatUntilCancel(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	_, err := f.repeater.Sound(ctx, SoundRequest{Target: speaker, MediaURL: "http://x/alarm.mp3"})
	require.NoError(t, err)
	for range 5 {
		f.repeater.PlaybackFinished(ctx, speaker)
	}
	assert.Len(t, f.played(), 6)

	assert.Equal(t, 1, f.repeater.Cancel(ctx, speaker))
	assert.Len(t, f.invoker.Calls("media_player.media_stop"), 1)
	// Resume not requested.
	assert.Len(t, f.played(), 6)

	f.repeater.PlaybackFinished(ctx, speaker)
	assert.Len(t, f.played(), 6)
}

func TestCancelResumesPreviousMedia(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	_, err := f.repeater.Sound(ctx, SoundRequest{Target: speaker, MediaURL: "http://x/alarm.mp3", Resume: true})
	require.NoError(t, err)

	f.repeater.Cancel(ctx, speaker)
	played := f.played()
	assert.Equal(t, "http://radio/stream", played[len(played)-1])
}

func TestCancelWithoutSessionIsNoop(t *testing.T) {
	f := newFixture(t)
	assert.Zero(t, f.repeater.Cancel(t.Context(), speaker))
	assert.Empty(t, f.invoker.Calls(""))
}

func TestCancelAllSessions(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	for _, target := range []string{speaker, "media_player.kitchen"} {
		_, err := f.repeater.Sound(ctx, SoundRequest{Target: target, MediaURL: "http://x/alarm.mp3"})
		require.NoError(t, err)
	}
	assert.Equal(t, 2, f.repeater.Cancel(ctx, ""))
	assert.Len(t, f.invoker.Calls("media_player.media_stop"), 2)
}

func TestSoundReplacesRunningSession(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	_, err := f.repeater.Sound(ctx, SoundRequest{Target: speaker, MediaURL: "http://x/one.mp3", Resume: true})
	require.NoError(t, err)

	// The player now reports the alarm itself as current media.
	f.states.Update(speaker, statestore.Attributes{AttrMediaContentID: "http://x/one.mp3"})

	resp, err := f.repeater.Sound(ctx, SoundRequest{Target: speaker, MediaURL: "http://x/two.mp3", Resume: true, MaxRepeats: 1})
	require.NoError(t, err)
	assert.True(t, resp.Replaced)

	f.repeater.PlaybackFinished(ctx, speaker)
	assert.Equal(t, []string{"http://x/one.mp3", "http://x/two.mp3", "http://radio/stream"}, f.played())
}

func TestWatchdogEndsSilentSession(t *testing.T) {
	f := newFixture(t)
	_, err := f.repeater.Sound(t.Context(), SoundRequest{Target: speaker, MediaURL: "http://x/alarm.mp3", Resume: true})
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	require.Eventually(t, func() bool {
		_, ok := f.repeater.Status(speaker)
		return !ok
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(f.played()) == 2 }, time.Second, 5*time.Millisecond)
}

func TestSoundValidationAndPlayFailure(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	_, err := f.repeater.Sound(ctx, SoundRequest{MediaURL: "http://x/alarm.mp3"})
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryInvalidArgument))
	_, err = f.repeater.Sound(ctx, SoundRequest{Target: speaker})
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryInvalidArgument))

	f.invoker.OnInvoke(func(actions.Call) error { return errors.New("offline") })
	_, err = f.repeater.Sound(ctx, SoundRequest{Target: speaker, MediaURL: "http://x/alarm.mp3"})
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryExternalWrite))
	_, ok := f.repeater.Status(speaker)
	assert.False(t, ok)
}

func TestListenDeliversCompletion(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	_, err := f.repeater.Sound(ctx, SoundRequest{Target: speaker, MediaURL: "http://x/alarm.mp3", MaxRepeats: 1})
	require.NoError(t, err)

	ch := make(chan events.PlaybackFinished, 1)
	done := make(chan struct{})
	go func() {
		f.repeater.Listen(ctx, ch)
		close(done)
	}()
	ch <- events.PlaybackFinished{Target: speaker}
	close(ch)
	<-done

	_, ok := f.repeater.Status(speaker)
	assert.False(t, ok)
}

func TestActionPlayerCurrentIgnoresIdlePlayer(t *testing.T) {
	states := statestore.NewMemoryStore()
	states.Set(speaker, statestore.Attributes{AttrState: "idle", AttrMediaContentID: "x"})
	p := NewActionPlayer(actions.NewRecorder(), states)

	cur, err := p.Current(t.Context(), speaker)
	require.NoError(t, err)
	assert.Nil(t, cur)

	cur, err = p.Current(t.Context(), "media_player.unknown")
	require.NoError(t, err)
	assert.Nil(t, cur)
}
