package bridge

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/425732441/OpenAI-Realtime-API-Twilio-Phone-Call-Assistant/internal/mediastream"
	"github.com/425732441/OpenAI-Realtime-API-Twilio-Phone-Call-Assistant/internal/realtime"
	"github.com/425732441/OpenAI-Realtime-API-Twilio-Phone-Call-Assistant/internal/store"
	"github.com/425732441/OpenAI-Realtime-API-Twilio-Phone-Call-Assistant/internal/tools"
)

// Control events posted to the actor by helper goroutines.
type (
	clientClosed   struct{ err error }
	upstreamOpened struct{ link *realtime.Link }
	upstreamReady  struct {
		record *store.CallRecord
		agent  *store.AgentProfile
		config realtime.SessionConfig
	}
	upstreamClosed struct{ err error }
	setupFailed    struct{ err error }
	toolResolved   struct {
		call    tools.Call
		outcome tools.Outcome
	}
)

// runner is the actor that owns one Session.
type runner struct {
	m        *Manager
	sess     *Session
	log      *zap.Logger
	client   *mediastream.Link
	upstream *realtime.Link

	ctx     context.Context
	cancel  context.CancelFunc
	helpers errgroup.Group

	// clientFrames is unbuffered so a clientClosed posted by the reader is
	// never handled ahead of frames it already read.
	clientFrames   chan mediastream.Frame
	upstreamEvents chan realtime.ServerEvent
	control        chan any

	closeErr error
}

func newRunner(parent context.Context, m *Manager, sess *Session, client *mediastream.Link, log *zap.Logger) *runner {
	ctx, cancel := context.WithCancel(parent)
	return &runner{
		m:              m,
		sess:           sess,
		log:            log,
		client:         client,
		ctx:            ctx,
		cancel:         cancel,
		clientFrames:   make(chan mediastream.Frame),
		upstreamEvents: make(chan realtime.ServerEvent, 32),
		control:        make(chan any, 8),
	}
}

func (r *runner) run() error {
	defer r.shutdown()

	r.spawn(func() error {
		err := r.client.ReadLoop(r.ctx, r.clientFrames)
		r.post(clientClosed{err: err})
		return nil
	})

	for r.sess.Status != StatusClosed {
		select {
		case <-r.ctx.Done():
			r.log.Info("session cancelled")
			r.closeWith(nil)
		case f := <-r.clientFrames:
			r.onClientFrame(f)
		case ev := <-r.upstreamEvents:
			r.onUpstreamEvent(ev)
		case e := <-r.control:
			r.onControl(e)
		}
	}
	return r.closeErr
}

func (r *runner) shutdown() {
	r.sess.Status = StatusClosed
	r.cancel()
	_ = r.client.Close()
	if r.upstream != nil {
		_ = r.upstream.Close()
	}
	// Helpers report setup work they abandoned because the session was already closing.
	if err := r.helpers.Wait(); err != nil && r.closeErr == nil {
		r.log.Debug("session helper stopped with error", zap.Error(err))
	}
}

func (r *runner) closeWith(err error) {
	if r.sess.Status == StatusClosed {
		return
	}
	r.closeErr = err
	r.sess.Status = StatusClosed
}

func (r *runner) spawn(fn func() error) {
	r.helpers.Go(fn)
}

// post hands e to the actor. It reports false once the session is gone.
func (r *runner) post(e any) bool {
	select {
	case r.control <- e:
		return true
	case <-r.ctx.Done():
		return false
	}
}

func (r *runner) onClientFrame(f mediastream.Frame) {
	switch f.Event {
	case mediastream.EventStart:
		if r.sess.Status != StatusInitiated {
			r.log.Warn("ignoring repeated start event")
			return
		}
		if f.Start == nil || f.Start.CallSID == "" {
			r.log.Error("start event without call sid")
			r.closeWith(fmt.Errorf("%w: start without call sid", ErrSetup))
			return
		}
		if !r.sess.setIdentity(f.Start.StreamSID, f.Start.CallSID) {
			r.log.Warn("ignoring repeated start event", zap.String("stream_sid", f.Start.StreamSID))
			return
		}
		r.log = r.log.With(zap.String("stream_sid", r.sess.StreamSID), zap.String("call_sid", r.sess.CallSID))
		r.log.Info("incoming stream has started")
		r.sess.Status = StatusUpstreamConnecting
		callSID := r.sess.CallSID
		r.spawn(func() error { return r.connectUpstream(callSID) })

	case mediastream.EventMedia:
		// Dropped, not queued, until the backend connection is open.
		if f.Media == nil || r.upstream == nil || !r.upstream.Open() {
			return
		}
		if err := r.upstream.AppendAudio(f.Media.Payload); err != nil {
			r.log.Warn("forward audio to backend failed", zap.Error(err))
		}

	case mediastream.EventStop:
		r.log.Info("media stream stopped by client")

	default:
		r.log.Debug("received non-media event", zap.String("event", f.Event))
	}
}

func (r *runner) onUpstreamEvent(ev realtime.ServerEvent) {
	switch realtime.Classify(ev) {
	case realtime.KindAudioDelta:
		if err := r.client.SendMedia(r.sess.StreamSID, ev.Delta); err != nil {
			r.log.Warn("forward audio to client failed", zap.Error(err))
		}
	case realtime.KindFunctionCallDone:
		r.onFunctionCallDone(ev)
	case realtime.KindInformational:
		if ev.Type == realtime.EventSessionUpdated {
			r.log.Info("session updated successfully")
			return
		}
		r.log.Debug("received event", zap.String("type", ev.Type))
	case realtime.KindError:
		fields := []zap.Field{zap.String("event_id", ev.EventID)}
		if ev.Error != nil {
			fields = append(fields, zap.String("code", ev.Error.Code), zap.String("message", ev.Error.Message))
		}
		r.log.Warn("backend reported an error", fields...)
	default:
		r.log.Debug("unhandled backend event", zap.String("type", ev.Type))
	}
}

func (r *runner) onFunctionCallDone(ev realtime.ServerEvent) {
	if !r.sess.gate.acquire(ev.CallID) {
		r.log.Info("dropping function call completion while a call is pending",
			zap.String("call_id", ev.CallID),
			zap.String("pending_call_id", r.sess.gate.callID),
		)
		return
	}
	call := tools.Call{
		Name:           ev.Name,
		Arguments:      ev.Arguments,
		CallID:         ev.CallID,
		ConversationID: r.sess.ConversationID,
	}
	r.log.Info("function call", zap.String("name", call.Name), zap.String("call_id", call.CallID))
	r.spawn(func() error {
		out := r.m.tools.Invoke(r.ctx, call)
		r.post(toolResolved{call: call, outcome: out})
		return nil
	})
}

func (r *runner) onControl(e any) {
	switch e := e.(type) {
	case clientClosed:
		if e.err != nil {
			r.log.Info("client disconnected", zap.Error(e.err))
		} else {
			r.log.Info("client disconnected")
		}
		r.closeWith(nil)

	case upstreamOpened:
		if r.upstream != nil {
			// One backend connection per session.
			_ = e.link.Close()
			return
		}
		r.upstream = e.link
		r.log.Info("connected to realtime backend")
		link := e.link
		r.spawn(func() error {
			err := link.ReadLoop(r.ctx, r.upstreamEvents)
			r.post(upstreamClosed{err: err})
			return nil
		})
		callSID := r.sess.CallSID
		r.spawn(func() error { return r.prepareSession(callSID) })

	case upstreamReady:
		if r.upstream == nil || !r.upstream.Open() {
			return
		}
		if err := r.upstream.SendSessionUpdate(e.config); err != nil {
			r.log.Error("send session update failed", zap.Error(err))
			r.closeWith(fmt.Errorf("%w: session update: %w", ErrSetup, err))
			return
		}
		r.sess.Status = StatusActive
		r.log.Info("session configured",
			zap.String("agent", e.agent.ID),
			zap.String("voice", e.config.Voice),
			zap.Int("tools", len(e.config.Tools)),
		)
		recordID := e.record.ID
		r.spawn(func() error {
			r.markCalled(recordID)
			return nil
		})

	case upstreamClosed:
		// The reader handed over every event it read before posting this.
		r.drainUpstream()
		if e.err != nil {
			r.log.Warn("disconnected from realtime backend", zap.Error(e.err))
		} else {
			r.log.Info("disconnected from realtime backend")
		}
		r.closeWith(nil)

	case setupFailed:
		r.log.Error("session setup failed", zap.Error(e.err))
		r.closeWith(e.err)

	case toolResolved:
		r.onToolResolved(e)
	}
}

func (r *runner) drainUpstream() {
	for {
		select {
		case ev := <-r.upstreamEvents:
			r.onUpstreamEvent(ev)
		default:
			return
		}
	}
}

// onToolResolved leaves ToolCallPending and always answers the backend with
// a function output followed by commit + response.create.
func (r *runner) onToolResolved(e toolResolved) {
	held := r.sess.gate.release()
	if e.outcome.Err != nil {
		r.log.Warn("tool call failed",
			zap.String("name", e.call.Name),
			zap.String("call_id", e.call.CallID),
			zap.Duration("took", held),
			zap.Error(e.outcome.Err),
		)
	} else {
		r.sess.rememberConversation(e.outcome.ConversationID)
		r.log.Info("tool call resolved",
			zap.String("name", e.call.Name),
			zap.String("call_id", e.call.CallID),
			zap.Duration("took", held),
		)
	}
	if r.upstream == nil || !r.upstream.Open() {
		return
	}
	if err := r.upstream.SendFunctionOutput(e.call.CallID, e.outcome.Output); err != nil {
		r.log.Warn("send function output failed", zap.Error(err))
		return
	}
	if err := r.upstream.CommitAndRespond(); err != nil {
		r.log.Warn("send commit/response.create failed", zap.Error(err))
	}
}

// connectUpstream resolves the backend credential and dials. Runs off-actor.
func (r *runner) connectUpstream(callSID string) error {
	opts := r.m.opts
	dialCfg := opts.Upstream
	dialCfg.WriteTimeout = opts.WriteTimeout
	if dialCfg.APIKey == "" {
		ctx, cancel := r.setupContext()
		key, err := r.m.store.ConfigValue(ctx, opts.APIKeyName)
		cancel()
		if err != nil {
			return r.fail(fmt.Errorf("%w: credential %s: %w", ErrSetup, opts.APIKeyName, err))
		}
		dialCfg.APIKey = key
	}

	dialCtx, cancel := r.ctx, context.CancelFunc(func() {})
	if opts.ConnectTimeout > 0 {
		dialCtx, cancel = context.WithTimeout(r.ctx, opts.ConnectTimeout)
	}
	link, err := realtime.Dial(dialCtx, dialCfg, r.log)
	cancel()
	if err != nil {
		return r.fail(fmt.Errorf("%w: call %s: %w", ErrSetup, callSID, err))
	}
	if !r.post(upstreamOpened{link: link}) {
		_ = link.Close()
	}
	return nil
}

// prepareSession loads the call record and agent, waits out the settle delay
// and hands the session configuration to the actor. Runs off-actor.
func (r *runner) prepareSession(callSID string) error {
	ctx, cancel := r.setupContext()
	defer cancel()

	record, err := r.m.store.FindCallBySID(ctx, callSID)
	if err != nil {
		return r.fail(fmt.Errorf("%w: call log: %w", ErrSetup, err))
	}
	agent, err := r.m.store.FindAgent(ctx, record.AgentID)
	if err != nil {
		return r.fail(fmt.Errorf("%w: agent: %w", ErrSetup, err))
	}
	if !r.settle() {
		return nil
	}
	r.post(upstreamReady{record: record, agent: agent, config: r.sessionConfig(agent)})
	return nil
}

// fail reports a setup failure to the actor and returns it for the helper group.
func (r *runner) fail(err error) error {
	r.post(setupFailed{err: err})
	return err
}

// settle gives the backend time to finish its own bootstrap before it is configured.
func (r *runner) settle() bool {
	d := r.m.opts.SettleDelay
	if d <= 0 {
		return r.ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-r.ctx.Done():
		return false
	}
}

func (r *runner) sessionConfig(agent *store.AgentProfile) realtime.SessionConfig {
	opts := r.m.opts
	voice := agent.Voice
	if voice == "" {
		voice = opts.Voice
	}
	return realtime.SessionConfig{
		TurnDetection:     realtime.TurnDetection{Type: realtime.TurnDetectionServerVAD},
		InputAudioFormat:  opts.InputAudioFormat,
		OutputAudioFormat: opts.OutputAudioFormat,
		Voice:             voice,
		Instructions:      agent.Prompt,
		Modalities:        []string{"text", "audio"},
		Temperature:       opts.Temperature,
		Tools:             r.m.tools.Manifest(),
	}
}

// markCalled outlives the session so a short call still gets its status.
func (r *runner) markCalled(recordID string) {
	timeout := r.m.opts.SetupTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.ctx), timeout)
	defer cancel()
	if err := r.m.store.UpdateCallStatus(ctx, recordID, store.CallStatusCalled); err != nil {
		r.log.Warn("update call status failed", zap.String("record_id", recordID), zap.Error(err))
	}
}

func (r *runner) setupContext() (context.Context, context.CancelFunc) {
	if r.m.opts.SetupTimeout > 0 {
		return context.WithTimeout(r.ctx, r.m.opts.SetupTimeout)
	}
	return context.WithCancel(r.ctx)
}
