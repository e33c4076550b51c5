package audio

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// submitQueueSize buffers request submissions per channel so callers
// on the UI thread are not held while a loop walks a fade ramp.
const submitQueueSize = 16

// submission pairs a request with its acceptance reply.
type submission struct {
	req     PlaybackRequest
	session *Session // set when re-queued internally
	reply   chan submitResult
}

type submitResult struct {
	session *Session
	err     error
}

// stopCmd asks a channel loop to wind down playback.
type stopCmd struct {
	sessionID string // "" targets whatever is active
	fade      time.Duration
	forced    bool   // skip the fade, halt now (audio focus loss)
	byClipKey string // set on preemption, reported on Interrupted
}

// Scheduler owns the two channel loops, arbitrates priority, issues
// start/stop/fade commands to the Player, and tracks active sessions.
// Each channel's mutable state is confined to its loop goroutine, so
// Foreground and Background never contend on a shared lock.
type Scheduler struct {
	cfg    Config
	gov    *Governor
	cache  *Cache
	player Player
	bus    *Bus

	loops  [numChannels]*channelLoop
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newScheduler(cfg Config, gov *Governor, cache *Cache, player Player, bus *Bus) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cfg:    cfg,
		gov:    gov,
		cache:  cache,
		player: player,
		bus:    bus,
		ctx:    ctx,
		cancel: cancel,
	}
	for ch := Channel(0); ch < numChannels; ch++ {
		s.loops[ch] = &channelLoop{
			ch:       ch,
			s:        s,
			machine:  newStateMachine(),
			submitCh: make(chan submission, submitQueueSize),
			stopCh:   make(chan stopCmd, submitQueueSize),
			duckCh:   make(chan bool, 1),
		}
		s.wg.Add(1)
		go s.loops[ch].run(ctx)
	}
	return s
}

// Submit hands a request to its channel loop and waits for the
// acceptance decision, not for playback. The returned session's Done
// channel and the bus report completion.
func (s *Scheduler) Submit(ctx context.Context, req PlaybackRequest) (*Session, error) {
	if req.Channel < 0 || req.Channel >= numChannels {
		req.Channel = Foreground
	}
	sub := submission{req: req, reply: make(chan submitResult, 1)}
	select {
	case s.loops[req.Channel].submitCh <- sub:
	case <-s.ctx.Done():
		return nil, newError(ErrEngineClosed, "scheduler", "submit")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-sub.reply:
		return res.session, res.err
	case <-s.ctx.Done():
		return nil, newError(ErrEngineClosed, "scheduler", "submit")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop winds down the channel's active session over the given fade.
func (s *Scheduler) Stop(ch Channel, fade time.Duration) {
	if ch < 0 || ch >= numChannels {
		return
	}
	s.sendStop(s.loops[ch], stopCmd{fade: fade})
}

// StopSession winds down one session if it is still active or queued.
func (s *Scheduler) StopSession(sess *Session, fade time.Duration) {
	if sess == nil {
		return
	}
	s.sendStop(s.loops[sess.Request.Channel], stopCmd{sessionID: sess.ID, fade: fade})
}

// StopAll is the forced stop broadcast for external interruptions
// such as OS audio focus loss. Accepted at any time, including
// mid-fade.
func (s *Scheduler) StopAll() {
	for _, l := range s.loops {
		s.sendStop(l, stopCmd{forced: true})
	}
}

func (s *Scheduler) sendStop(l *channelLoop, cmd stopCmd) {
	select {
	case l.stopCh <- cmd:
	case <-s.ctx.Done():
	}
}

// ChannelState reports the current state of a channel loop. Intended
// for tests and diagnostics; it lags the loop by one command at most.
func (s *Scheduler) ChannelState(ch Channel) ChannelState {
	return s.loops[ch].observedState()
}

// close winds everything down and waits for the loops to exit.
func (s *Scheduler) close() {
	s.cancel()
	s.wg.Wait()
}

// channelLoop runs one channel's state machine. All fields below are
// owned by the loop goroutine; the observed state is mirrored under a
// small mutex for diagnostics.
type channelLoop struct {
	ch Channel
	s  *Scheduler

	machine  *stateMachine
	submitCh chan submission
	stopCh   chan stopCmd
	duckCh   chan bool

	active  *Session
	stream  Stream
	baseVol float64 // governed volume of the active stream, pre-duck
	ducked  bool
	pending []submission // queued steps of the active sequence

	stateMu  sync.Mutex
	observed ChannelState
}

func (l *channelLoop) observedState() ChannelState {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()
	return l.observed
}

func (l *channelLoop) setState(st ChannelState) {
	l.machine.transition(st)
	l.stateMu.Lock()
	l.observed = l.machine.state()
	l.stateMu.Unlock()
}

func (l *channelLoop) run(ctx context.Context) {
	defer l.s.wg.Done()
	for {
		var doneCh <-chan error
		if l.stream != nil {
			doneCh = l.stream.Done()
		}
		select {
		case <-ctx.Done():
			l.shutdown()
			return
		case sub := <-l.submitCh:
			l.handleSubmit(ctx, sub)
		case cmd := <-l.stopCh:
			l.handleStop(ctx, cmd)
		case d := <-l.duckCh:
			l.applyDuck(d)
		case err := <-doneCh:
			l.handleStreamEnd(ctx, err)
		}
	}
}

// handleSubmit arbitrates an incoming request against the channel's
// active session.
func (l *channelLoop) handleSubmit(ctx context.Context, sub submission) {
	req := sub.req

	if l.active == nil {
		sess := l.accept(sub)
		l.start(ctx, sess)
		return
	}

	// Steps of the running sequence queue FIFO behind it instead of
	// being dropped.
	if req.SequenceID != "" && req.SequenceID == l.active.Request.SequenceID {
		sess := l.accept(sub)
		sub.session = sess
		l.pending = append(l.pending, sub)
		log.Debug("sequence step queued", "channel", l.ch, "key", req.Clip.Key, "sequence", req.SequenceID)
		return
	}

	cur := l.active.Request.Clip.Priority
	in := req.Clip.Priority

	// Preemption is strictly greater-priority against a consenting
	// session, except Critical which always takes the channel: two
	// racing Criticals resolve as last one wins.
	if in == PriorityCritical || (in > cur && l.active.Request.AllowPreempt) {
		sess := l.accept(sub)
		log.Debug("preempting session", "channel", l.ch,
			"active", l.active.Request.Clip.Key, "incoming", req.Clip.Key,
			"active_priority", cur, "incoming_priority", in)
		l.windDown(ctx, stopCmd{fade: l.s.cfg.PreemptFade, byClipKey: req.Clip.Key})
		l.start(ctx, sess)
		return
	}

	// Equal or lower priority: expendable. No session, no Started.
	log.Debug("request dropped", "channel", l.ch, "key", req.Clip.Key,
		"priority", in, "active_priority", cur)
	sub.reply <- submitResult{err: newError(ErrRequestDropped, "scheduler", req.Clip.Key)}
}

// accept allocates the session and acknowledges the submitter.
func (l *channelLoop) accept(sub submission) *Session {
	sess := newSession(sub.req)
	sub.reply <- submitResult{session: sess}
	return sess
}

// start drives Loading → Playing for a session, including fade-in.
func (l *channelLoop) start(ctx context.Context, sess *Session) {
	req := sess.Request
	l.active = sess
	l.setState(ChannelLoading)
	l.notifyForegroundHold()

	payload, err := l.s.cache.Get(l.s.ctx, req.Clip)
	if err != nil {
		l.fail(ctx, sess, err)
		return
	}

	l.baseVol = l.s.gov.Clamp(req.Clip.Type, req.VolumeOverride)
	initial := l.baseVol
	if req.FadeIn > 0 {
		initial = 0
	}
	stream, err := l.s.player.Start(payload, l.out(initial))
	if err != nil {
		l.fail(ctx, sess, wrapError(err, ErrPlaybackFailure, "scheduler", req.Clip.Key))
		return
	}
	l.stream = stream
	l.setState(ChannelPlaying)
	sess.StartedAt = time.Now()
	sess.setState(SessionPlaying, nil)
	l.s.bus.Publish(Event{
		Type:      EventStarted,
		SessionID: sess.ID,
		ClipKey:   req.Clip.Key,
		Channel:   l.ch,
	})

	if req.FadeIn > 0 {
		ramp := l.s.gov.ComputeFade(req.FadeIn, FadeSmoothstep)
		cmd := l.walkRamp(ctx, ramp, func(lv float64) {
			l.stream.SetVolume(l.out(l.baseVol * lv))
		})
		if cmd == nil || (cmd.sessionID != "" && cmd.sessionID != sess.ID) {
			// Ramp finished, or the stop was aimed elsewhere: settle at
			// the governed level before handling anything else.
			l.stream.SetVolume(l.out(l.baseVol))
		}
		if cmd != nil {
			l.handleStop(ctx, *cmd)
		}
	}
}

// fail marks the session Failed and recovers the channel to Idle. The
// event is published before the session turns terminal so observers
// waking on Done always find it queued.
func (l *channelLoop) fail(ctx context.Context, sess *Session, err error) {
	l.s.bus.Publish(Event{
		Type:      EventError,
		SessionID: sess.ID,
		ClipKey:   sess.Request.Clip.Key,
		Channel:   l.ch,
		Err:       err,
	})
	sess.setState(SessionFailed, err)
	l.stream = nil
	l.active = nil
	l.setState(ChannelError)
	l.setState(ChannelIdle)
	l.notifyForegroundHold()
	l.startNextPending(ctx)
}

// handleStop winds down the active session or cancels a queued one.
func (l *channelLoop) handleStop(ctx context.Context, cmd stopCmd) {
	if l.active == nil {
		l.cancelPendingFor(cmd)
		return
	}
	if cmd.sessionID != "" && cmd.sessionID != l.active.ID {
		l.cancelPendingFor(cmd)
		return
	}
	if cmd.sessionID == "" {
		// Channel-wide stop discards queued sequence steps too.
		l.discardPending()
	}
	l.windDown(ctx, cmd)
	l.startNextPending(ctx)
}

// windDown fades out and halts the active stream, marking the session
// Cancelled. A forced command skips the fade. The stream must reach
// its end within ForceStopTimeout of Stop or we abandon the wait.
func (l *channelLoop) windDown(ctx context.Context, cmd stopCmd) {
	sess := l.active
	stream := l.stream
	if sess == nil {
		return
	}

	fade := cmd.fade
	if fade <= 0 && !cmd.forced {
		fade = sess.Request.FadeOut
	}
	if stream != nil && !cmd.forced && fade > 0 {
		l.setState(ChannelFadingOut)
		sess.setState(SessionFadingOut, nil)
		ramp := l.s.gov.ComputeFade(fade, FadeLinear)
		if c := l.walkRamp(ctx, ramp, func(lv float64) {
			stream.SetVolume(l.out(l.baseVol * (1 - lv)))
		}); c != nil {
			if c.forced {
				log.Debug("fade-out interrupted by forced stop", "channel", l.ch)
			} else if c.sessionID != "" && c.sessionID != sess.ID {
				// A stop aimed at a queued session arrived mid-fade;
				// honor it, then finish stopping the active one.
				l.cancelPendingFor(*c)
			}
		}
	}
	if stream != nil {
		if err := stream.Stop(); err != nil {
			log.Debug("stream stop reported error", "channel", l.ch, "err", err)
		}
		l.drainDone(stream)
	}

	l.s.bus.Publish(Event{
		Type:      EventInterrupted,
		SessionID: sess.ID,
		ClipKey:   sess.Request.Clip.Key,
		Channel:   l.ch,
		ByClipKey: cmd.byClipKey,
	})
	sess.setState(SessionCancelled, nil)
	l.stream = nil
	l.active = nil
	l.setState(ChannelIdle)
	l.notifyForegroundHold()
}

// drainDone waits for the stream to confirm its end, bounded by
// ForceStopTimeout so a wedged platform player cannot stick the
// channel.
func (l *channelLoop) drainDone(stream Stream) {
	select {
	case <-stream.Done():
	case <-time.After(l.s.cfg.ForceStopTimeout):
		log.Warn("stream did not confirm stop in time", "channel", l.ch, "timeout", l.s.cfg.ForceStopTimeout)
	}
}

// handleStreamEnd processes natural completion or mid-stream failure.
func (l *channelLoop) handleStreamEnd(ctx context.Context, err error) {
	sess := l.active
	l.stream = nil
	l.active = nil
	if sess == nil {
		return
	}
	if err != nil {
		l.s.bus.Publish(Event{
			Type:      EventError,
			SessionID: sess.ID,
			ClipKey:   sess.Request.Clip.Key,
			Channel:   l.ch,
			Err:       err,
		})
		sess.setState(SessionFailed, wrapError(err, ErrPlaybackFailure, "scheduler", sess.Request.Clip.Key))
		l.setState(ChannelError)
		l.setState(ChannelIdle)
	} else {
		l.s.bus.Publish(Event{
			Type:      EventCompleted,
			SessionID: sess.ID,
			ClipKey:   sess.Request.Clip.Key,
			Channel:   l.ch,
		})
		sess.setState(SessionCompleted, nil)
		l.setState(ChannelIdle)
	}
	l.notifyForegroundHold()
	l.startNextPending(ctx)
}

// startNextPending dequeues the next queued sequence step, skipping
// any that were cancelled while waiting.
func (l *channelLoop) startNextPending(ctx context.Context) {
	for len(l.pending) > 0 && l.active == nil {
		next := l.pending[0]
		l.pending = l.pending[1:]
		if next.session.State().Terminal() {
			continue
		}
		l.start(ctx, next.session)
	}
}

// cancelPendingFor cancels a queued session addressed by id.
func (l *channelLoop) cancelPendingFor(cmd stopCmd) {
	if cmd.sessionID == "" {
		if cmd.forced {
			l.discardPending()
		}
		return
	}
	for i, sub := range l.pending {
		if sub.session.ID == cmd.sessionID {
			sub.session.setState(SessionCancelled, nil)
			l.pending = append(l.pending[:i], l.pending[i+1:]...)
			return
		}
	}
}

func (l *channelLoop) discardPending() {
	for _, sub := range l.pending {
		sub.session.setState(SessionCancelled, nil)
	}
	l.pending = nil
}

// walkRamp applies ramp levels at interval spacing while staying
// responsive to stop commands and shutdown. It returns the command
// that interrupted the walk, if any.
func (l *channelLoop) walkRamp(ctx context.Context, ramp Ramp, apply func(float64)) *stopCmd {
	if len(ramp.Levels) <= 1 || ramp.Interval <= 0 {
		for _, lv := range ramp.Levels {
			apply(lv)
		}
		return nil
	}
	ticker := time.NewTicker(ramp.Interval)
	defer ticker.Stop()
	for _, lv := range ramp.Levels {
		select {
		case <-ctx.Done():
			return &stopCmd{forced: true}
		case cmd := <-l.stopCh:
			return &cmd
		case <-ticker.C:
			apply(lv)
		}
	}
	return nil
}

// out applies background ducking to a governed volume.
func (l *channelLoop) out(v float64) float64 {
	if l.ch == Background && l.ducked {
		return v * l.s.cfg.DuckingFactor
	}
	return v
}

// applyDuck reacts to the foreground hold signal on the background
// loop, rescaling the live stream immediately.
func (l *channelLoop) applyDuck(d bool) {
	if l.ducked == d {
		return
	}
	l.ducked = d
	if l.stream != nil {
		l.stream.SetVolume(l.out(l.baseVol))
		log.Debug("background ducking", "active", d, "factor", l.s.cfg.DuckingFactor)
	}
}

// notifyForegroundHold tells the background loop whether Foreground
// currently holds a High or Critical session. Only the foreground
// loop emits; the latest value wins if the background loop is busy.
func (l *channelLoop) notifyForegroundHold() {
	if l.ch != Foreground {
		return
	}
	hold := l.active != nil && l.active.Request.Clip.Priority >= PriorityHigh
	bg := l.s.loops[Background]
	select {
	case bg.duckCh <- hold:
		return
	default:
	}
	select {
	case <-bg.duckCh:
	default:
	}
	select {
	case bg.duckCh <- hold:
	default:
	}
}

// shutdown cancels everything on engine close.
func (l *channelLoop) shutdown() {
	if l.stream != nil {
		_ = l.stream.Stop()
		l.stream = nil
	}
	if l.active != nil {
		l.active.setState(SessionCancelled, nil)
		l.active = nil
	}
	l.discardPending()
	l.setState(ChannelIdle)
}
