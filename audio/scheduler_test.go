package audio

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func TestPreemptionByHigherPriority(t *testing.T) {
	te := newTestEngine(t,
		testClip("story", "en", TypeNarration, PriorityNormal),
		testClip("alert", "en", TypeErrorFeedback, PriorityHigh),
	)
	sub := te.eng.Subscribe(nil)
	defer sub.Cancel()
	ctx := context.Background()

	s1, err := te.eng.Play(ctx, "story", "en", Foreground, PlayOptions{})
	if err != nil {
		t.Fatal(err)
	}
	te.stream(t, 0)

	s2, err := te.eng.Play(ctx, "alert", "en", Foreground, PlayOptions{})
	if err != nil {
		t.Fatalf("higher priority request rejected: %v", err)
	}

	waitDone(t, s1)
	if s1.State() != SessionCancelled {
		t.Errorf("preempted session state = %v, want cancelled", s1.State())
	}
	te.stream(t, 1)
	waitFor(t, "alert to play", func() bool { return s2.State() == SessionPlaying })

	waitFor(t, "interrupted event", func() bool {
		for _, ev := range collect(sub) {
			if ev.Type == EventInterrupted && ev.ClipKey == "story" && ev.ByClipKey == "alert" {
				return true
			}
		}
		return false
	})
}

func TestDropPolicyEqualAndLower(t *testing.T) {
	te := newTestEngine(t,
		testClip("story", "en", TypeNarration, PriorityNormal),
		testClip("click", "en", TypeUIInteraction, PriorityNormal),
		testClip("ambience", "en", TypeBackgroundMusic, PriorityLow),
	)
	sub := te.eng.Subscribe(nil)
	defer sub.Cancel()
	ctx := context.Background()

	s1, err := te.eng.Play(ctx, "story", "en", Foreground, PlayOptions{})
	if err != nil {
		t.Fatal(err)
	}
	first := te.stream(t, 0)
	waitFor(t, "story playing", func() bool { return s1.State() == SessionPlaying })

	for _, key := range []string{"click", "ambience"} {
		if _, err := te.eng.Play(ctx, key, "en", Foreground, PlayOptions{}); !errors.Is(err, ErrRequestDropped) {
			t.Errorf("Play(%s) = %v, want ErrRequestDropped", key, err)
		}
	}
	if te.mock.Starts() != 1 {
		t.Errorf("streams started = %d, want 1", te.mock.Starts())
	}

	first.Complete()
	waitDone(t, s1)

	events := collect(sub)
	for _, ev := range events {
		if ev.Type == EventStarted && ev.ClipKey != "story" {
			t.Errorf("dropped request emitted Started for %q", ev.ClipKey)
		}
	}
	if !hasEvent(events, EventCompleted, "story") {
		t.Error("missing Completed event for story")
	}
}

func TestCriticalAlwaysTakesChannel(t *testing.T) {
	te := newTestEngine(t,
		testClip("alert", "en", TypeErrorFeedback, PriorityHigh),
		testClip("safety", "en", TypeInstruction, PriorityCritical),
		testClip("safety2", "en", TypeInstruction, PriorityCritical),
	)
	ctx := context.Background()

	s1, err := te.eng.Play(ctx, "alert", "en", Foreground, PlayOptions{})
	if err != nil {
		t.Fatal(err)
	}
	te.stream(t, 0)

	// Critical preempts High.
	c1, err := te.eng.Play(ctx, "safety", "en", Foreground, PlayOptions{})
	if err != nil {
		t.Fatalf("critical rejected: %v", err)
	}
	waitDone(t, s1)
	waitFor(t, "critical playing", func() bool { return c1.State() == SessionPlaying })

	// High against Critical is dropped.
	if _, err := te.eng.Play(ctx, "alert", "en", Foreground, PlayOptions{}); !errors.Is(err, ErrRequestDropped) {
		t.Errorf("high vs critical = %v, want ErrRequestDropped", err)
	}

	// A later Critical wins over the current one.
	c2, err := te.eng.Play(ctx, "safety2", "en", Foreground, PlayOptions{})
	if err != nil {
		t.Fatalf("second critical rejected: %v", err)
	}
	waitDone(t, c1)
	if c1.State() != SessionCancelled {
		t.Errorf("first critical state = %v, want cancelled", c1.State())
	}
	waitFor(t, "second critical playing", func() bool { return c2.State() == SessionPlaying })
}

func TestSequenceStepsQueueFIFO(t *testing.T) {
	te := newTestEngine(t,
		testClip("step1", "en", TypeNarration, PriorityNormal),
		testClip("step2", "en", TypeNarration, PriorityNormal),
		testClip("step3", "en", TypeNarration, PriorityNormal),
	)
	ctx := context.Background()
	sched := te.eng.sched
	catalog := te.eng.catalog

	var sessions []*Session
	for _, key := range []string{"step1", "step2", "step3"} {
		clip, err := catalog.Resolve(key, "en", "")
		if err != nil {
			t.Fatal(err)
		}
		req := newRequest(clip, Foreground, 0, 0)
		req.SequenceID = "seq-1"
		sess, err := sched.Submit(ctx, req)
		if err != nil {
			t.Fatalf("step %s rejected: %v", key, err)
		}
		sessions = append(sessions, sess)
	}

	// Only the first plays; the rest wait their turn.
	te.stream(t, 0)
	if te.mock.Starts() != 1 {
		t.Fatalf("streams started = %d, want 1", te.mock.Starts())
	}

	for i := range sessions {
		te.stream(t, i).Complete()
		waitDone(t, sessions[i])
		if st := sessions[i].State(); st != SessionCompleted {
			t.Errorf("step %d state = %v, want completed", i, st)
		}
	}
}

func TestBackgroundDucking(t *testing.T) {
	te := newTestEngine(t,
		testClip("music.theme", "en", TypeBackgroundMusic, PriorityLow),
		testClip("story", "en", TypeNarration, PriorityHigh),
	)
	ctx := context.Background()

	musicSess, err := te.eng.Play(ctx, "music.theme", "en", Background, PlayOptions{})
	if err != nil {
		t.Fatal(err)
	}
	music := te.stream(t, 0)
	waitFor(t, "music playing", func() bool { return musicSess.State() == SessionPlaying })

	base := 0.85 * 0.6 // clamp(1.0) * music type level
	vols := music.Volumes()
	if !almostEqual(vols[0], base) {
		t.Fatalf("music start volume = %v, want %v", vols[0], base)
	}

	story, err := te.eng.Play(ctx, "story", "en", Foreground, PlayOptions{})
	if err != nil {
		t.Fatal(err)
	}
	storyStream := te.stream(t, 1)

	ducked := base * 0.2
	waitFor(t, "music ducked", func() bool {
		v := music.Volumes()
		return almostEqual(v[len(v)-1], ducked)
	})

	storyStream.Complete()
	waitDone(t, story)
	waitFor(t, "music restored", func() bool {
		v := music.Volumes()
		return almostEqual(v[len(v)-1], base)
	})
}

func TestNoDuckingForNormalForeground(t *testing.T) {
	te := newTestEngine(t,
		testClip("music.theme", "en", TypeBackgroundMusic, PriorityLow),
		testClip("click", "en", TypeUIInteraction, PriorityNormal),
	)
	ctx := context.Background()

	te.eng.Play(ctx, "music.theme", "en", Background, PlayOptions{})
	music := te.stream(t, 0)

	click, err := te.eng.Play(ctx, "click", "en", Foreground, PlayOptions{})
	if err != nil {
		t.Fatal(err)
	}
	clickStream := te.stream(t, 1)
	waitFor(t, "click playing", func() bool { return click.State() == SessionPlaying })

	base := 0.85 * 0.6
	for _, v := range music.Volumes() {
		if !almostEqual(v, base) {
			t.Errorf("music volume moved to %v during normal foreground playback", v)
		}
	}
	clickStream.Complete()
}

func TestStopAllForcedMidFade(t *testing.T) {
	te := newTestEngine(t,
		testClip("story", "en", TypeNarration, PriorityNormal),
		testClip("music.theme", "en", TypeBackgroundMusic, PriorityLow),
	)
	ctx := context.Background()

	s1, err := te.eng.Play(ctx, "story", "en", Foreground, PlayOptions{})
	if err != nil {
		t.Fatal(err)
	}
	s2, err := te.eng.Play(ctx, "music.theme", "en", Background, PlayOptions{})
	if err != nil {
		t.Fatal(err)
	}
	te.stream(t, 0)
	te.stream(t, 1)
	waitFor(t, "both playing", func() bool {
		return s1.State() == SessionPlaying && s2.State() == SessionPlaying
	})

	// Begin a slow foreground fade, then force-stop everything. The
	// forced broadcast must cut the fade short.
	te.eng.Stop(Foreground, 600*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	start := time.Now()
	te.eng.StopAll()

	waitDone(t, s1)
	waitDone(t, s2)
	if elapsed := time.Since(start); elapsed > 300*time.Millisecond {
		t.Errorf("forced stop took %v, want well under the 600ms fade", elapsed)
	}
	if s1.State() != SessionCancelled || s2.State() != SessionCancelled {
		t.Errorf("states = %v/%v, want cancelled/cancelled", s1.State(), s2.State())
	}

	waitFor(t, "channels idle", func() bool {
		return te.eng.ChannelState(Foreground) == ChannelIdle &&
			te.eng.ChannelState(Background) == ChannelIdle
	})
}

func TestStopFadesOutThenIdle(t *testing.T) {
	te := newTestEngine(t, testClip("story", "en", TypeNarration, PriorityNormal))
	ctx := context.Background()

	sess, err := te.eng.Play(ctx, "story", "en", Foreground, PlayOptions{})
	if err != nil {
		t.Fatal(err)
	}
	stream := te.stream(t, 0)
	waitFor(t, "playing", func() bool { return sess.State() == SessionPlaying })

	te.eng.Stop(Foreground, 40*time.Millisecond)
	waitDone(t, sess)
	if sess.State() != SessionCancelled {
		t.Errorf("state = %v, want cancelled", sess.State())
	}

	// The fade walked the volume down before the stop.
	vols := stream.Volumes()
	if len(vols) < 3 {
		t.Fatalf("expected fade steps, got volumes %v", vols)
	}
	for i := 1; i < len(vols); i++ {
		if vols[i] > vols[i-1]+1e-9 {
			t.Errorf("fade-out volume rose: %v", vols)
			break
		}
	}
	waitFor(t, "channel idle", func() bool { return te.eng.ChannelState(Foreground) == ChannelIdle })
}

func TestFadeInRampsUp(t *testing.T) {
	te := newTestEngine(t, testClip("story", "en", TypeNarration, PriorityNormal))
	ctx := context.Background()

	sess, err := te.eng.Play(ctx, "story", "en", Foreground, PlayOptions{FadeIn: 50 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	stream := te.stream(t, 0)

	target := 0.85 // clamp(1.0) * narration level 1.0
	waitFor(t, "fade-in to finish", func() bool {
		v := stream.Volumes()
		return almostEqual(v[len(v)-1], target)
	})

	vols := stream.Volumes()
	if !almostEqual(vols[0], 0) {
		t.Errorf("fade-in started at %v, want 0", vols[0])
	}
	for i := 1; i < len(vols); i++ {
		if vols[i] < vols[i-1]-1e-9 {
			t.Errorf("fade-in volume dropped: %v", vols)
			break
		}
	}
	stream.Complete()
	waitDone(t, sess)
}

func TestLoadFailureFailsSession(t *testing.T) {
	te := newTestEngine(t, testClip("story", "en", TypeNarration, PriorityNormal))
	te.loader.failWith("story.en.pcm", errors.New("disk gone"))
	sub := te.eng.Subscribe(nil)
	defer sub.Cancel()

	sess, err := te.eng.Play(context.Background(), "story", "en", Foreground, PlayOptions{})
	if err != nil {
		t.Fatalf("Play should accept then fail async: %v", err)
	}
	waitDone(t, sess)
	if sess.State() != SessionFailed {
		t.Errorf("state = %v, want failed", sess.State())
	}
	if !errors.Is(sess.Err(), ErrLoadFailure) {
		t.Errorf("Err() = %v, want ErrLoadFailure", sess.Err())
	}
	waitFor(t, "error event", func() bool {
		return hasEvent(collect(sub), EventError, "story")
	})
	waitFor(t, "channel recovered", func() bool {
		return te.eng.ChannelState(Foreground) == ChannelIdle
	})
}

func TestMidStreamFailure(t *testing.T) {
	te := newTestEngine(t, testClip("story", "en", TypeNarration, PriorityNormal))
	sub := te.eng.Subscribe(nil)
	defer sub.Cancel()

	sess, err := te.eng.Play(context.Background(), "story", "en", Foreground, PlayOptions{})
	if err != nil {
		t.Fatal(err)
	}
	stream := te.stream(t, 0)
	waitFor(t, "playing", func() bool { return sess.State() == SessionPlaying })

	stream.Fail(errors.New("device lost"))
	waitDone(t, sess)
	if sess.State() != SessionFailed {
		t.Errorf("state = %v, want failed", sess.State())
	}
	if !errors.Is(sess.Err(), ErrPlaybackFailure) {
		t.Errorf("Err() = %v, want ErrPlaybackFailure", sess.Err())
	}
	waitFor(t, "error event", func() bool {
		return hasEvent(collect(sub), EventError, "story")
	})
}

func TestPlayerVolumeNeverExceedsCap(t *testing.T) {
	te := newTestEngine(t, testClip("story", "en", TypeNarration, PriorityNormal))
	ctx := context.Background()

	sess, err := te.eng.Play(ctx, "story", "en", Foreground, PlayOptions{Volume: 5.0})
	if err != nil {
		t.Fatal(err)
	}
	stream := te.stream(t, 0)
	waitFor(t, "playing", func() bool { return sess.State() == SessionPlaying })
	stream.Complete()
	waitDone(t, sess)

	for _, call := range te.mock.Calls() {
		if call.Op == "start" || call.Op == "set_volume" {
			if call.Volume > 0.85+1e-9 {
				t.Errorf("%s volume %v exceeds safety cap", call.Op, call.Volume)
			}
		}
	}
}
