package realtime

import (
	"context"
	"errors"
	"io"
	"slices"
	"sync"
	"testing"
	"time"

	"google.golang.org/genai"

	apperr "github.com/GriffinCanCode/talking-portrait/internal/errors"
)

type fakeStream struct {
	blocks    chan []float32
	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeStream() *fakeStream {
	return &fakeStream{blocks: make(chan []float32, 8), closed: make(chan struct{})}
}

func (s *fakeStream) Blocks() <-chan []float32 { return s.blocks }

func (s *fakeStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeStream) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

type fakeMic struct {
	err    error
	stream *fakeStream
	opened int
}

func (m *fakeMic) Open(ctx context.Context, sampleRate, blockSize int) (Stream, error) {
	m.opened++
	if m.err != nil {
		return nil, m.err
	}
	return m.stream, nil
}

type fakeConn struct {
	mu       sync.Mutex
	sent     [][]byte
	inbound  chan *ServerMessage
	recvErr  chan error
	closed   chan struct{}
	closeErr sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan *ServerMessage, 8),
		recvErr: make(chan error, 1),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) SendAudio(pcm []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, pcm)
	return nil
}

func (c *fakeConn) Receive() (*ServerMessage, error) {
	select {
	case msg := <-c.inbound:
		return msg, nil
	case err := <-c.recvErr:
		return nil, err
	case <-c.closed:
		return nil, io.EOF
	}
}

func (c *fakeConn) Close() error {
	c.closeErr.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

type fakeDialer struct {
	conn *fakeConn
	err  error
}

func (d *fakeDialer) Dial(ctx context.Context, setup Setup) (Conn, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.conn, nil
}

type recorder struct {
	mu          sync.Mutex
	events      []string
	transitions []State
	errs        []error
}

func (r *recorder) add(ev string) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) OnAudio(pcm []byte)             { r.add("audio") }
func (r *recorder) OnInputTranscript(text string)  { r.add("in:" + text) }
func (r *recorder) OnOutputTranscript(text string) { r.add("out:" + text) }
func (r *recorder) OnTurnComplete()                { r.add("turn") }
func (r *recorder) OnInterrupted()                 { r.add("interrupted") }

func (r *recorder) OnStateChange(from, to State) {
	r.mu.Lock()
	if len(r.transitions) == 0 {
		r.transitions = append(r.transitions, from)
	}
	r.transitions = append(r.transitions, to)
	r.mu.Unlock()
}

func (r *recorder) OnError(err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
}

func (r *recorder) snapshot() ([]string, []State, []error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events), slices.Clone(r.transitions), slices.Clone(r.errs)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func testSetup() Setup {
	return Setup{Model: "test", Voice: "Puck", InputSampleRate: 16000, OutputSampleRate: 24000}
}

func TestPermissionDeniedNeverGoesLive(t *testing.T) {
	mic := &fakeMic{err: errors.New("NotAllowedError")}
	dialer := &fakeDialer{conn: newFakeConn()}
	rec := &recorder{}
	m := NewManager(mic, dialer, rec, 0)

	err := m.Start(context.Background(), testSetup())
	if !apperr.IsCode(err, apperr.CodePermissionDenied) {
		t.Fatalf("Start = %v, want PERMISSION_DENIED", err)
	}

	_, transitions, errs := rec.snapshot()
	want := []State{StateIdle, StateConnecting, StateError}
	if !slices.Equal(transitions, want) {
		t.Errorf("transitions = %v, want %v", transitions, want)
	}
	if len(errs) != 1 {
		t.Errorf("OnError called %d times, want 1", len(errs))
	}
	if m.State() != StateError {
		t.Errorf("state = %v, want error", m.State())
	}
	m.mu.Lock()
	retained := m.stream != nil
	m.mu.Unlock()
	if retained {
		t.Error("microphone stream retained after permission failure")
	}
}

func TestDialFailureReleasesMicrophone(t *testing.T) {
	stream := newFakeStream()
	m := NewManager(&fakeMic{stream: stream}, &fakeDialer{err: errors.New("handshake failed")}, &recorder{}, 0)

	err := m.Start(context.Background(), testSetup())
	if !apperr.IsCode(err, apperr.CodeConnectionFailed) {
		t.Fatalf("Start = %v, want CONNECTION_FAILED", err)
	}
	if !stream.isClosed() {
		t.Error("microphone stream not released after dial failure")
	}
	if m.State() != StateError {
		t.Errorf("state = %v, want error", m.State())
	}
}

func TestStreamsMicrophoneBlocks(t *testing.T) {
	stream := newFakeStream()
	conn := newFakeConn()
	m := NewManager(&fakeMic{stream: stream}, &fakeDialer{conn: conn}, &recorder{}, 4)

	if err := m.Start(context.Background(), testSetup()); err != nil {
		t.Fatal(err)
	}
	defer m.Stop()

	stream.blocks <- []float32{0, 0.5, -0.5, 1}
	stream.blocks <- []float32{0, 0, 0, 0}
	waitFor(t, func() bool { return conn.sentCount() == 2 })

	conn.mu.Lock()
	first := conn.sent[0]
	conn.mu.Unlock()
	if len(first) != 8 {
		t.Errorf("encoded block = %d bytes, want 8", len(first))
	}
}

func TestDispatchRoutesEachField(t *testing.T) {
	conn := newFakeConn()
	rec := &recorder{}
	m := NewManager(&fakeMic{stream: newFakeStream()}, &fakeDialer{conn: conn}, rec, 0)
	if err := m.Start(context.Background(), testSetup()); err != nil {
		t.Fatal(err)
	}

	conn.inbound <- &ServerMessage{Audio: []byte{1, 0}, OutputTranscript: "Hi"}
	conn.inbound <- &ServerMessage{InputTranscript: "hello"}
	conn.inbound <- &ServerMessage{Interrupted: true, Audio: []byte{2, 0}}
	conn.inbound <- &ServerMessage{TurnComplete: true}
	conn.inbound <- &ServerMessage{}

	want := []string{"audio", "out:Hi", "in:hello", "interrupted", "audio", "turn"}
	waitFor(t, func() bool {
		ev, _, _ := rec.snapshot()
		return len(ev) >= len(want)
	})
	m.Stop()
	m.Wait()

	ev, _, _ := rec.snapshot()
	if !slices.Equal(ev, want) {
		t.Errorf("events = %v, want %v", ev, want)
	}
}

func TestStopIsIdempotentAndReleases(t *testing.T) {
	stream := newFakeStream()
	conn := newFakeConn()
	rec := &recorder{}
	m := NewManager(&fakeMic{stream: stream}, &fakeDialer{conn: conn}, rec, 0)

	if err := m.Start(context.Background(), testSetup()); err != nil {
		t.Fatal(err)
	}
	m.Stop()
	m.Stop()
	m.Wait()

	if m.State() != StateClosed {
		t.Errorf("state = %v, want closed", m.State())
	}
	if !stream.isClosed() {
		t.Error("stream not closed")
	}
	select {
	case <-conn.closed:
	default:
		t.Error("conn not closed")
	}
	_, transitions, errs := rec.snapshot()
	want := []State{StateIdle, StateConnecting, StateLive, StateClosed}
	if !slices.Equal(transitions, want) {
		t.Errorf("transitions = %v, want %v", transitions, want)
	}
	if len(errs) != 0 {
		t.Errorf("unexpected errors on clean stop: %v", errs)
	}
}

func TestTransportFailureMovesToError(t *testing.T) {
	stream := newFakeStream()
	conn := newFakeConn()
	rec := &recorder{}
	m := NewManager(&fakeMic{stream: stream}, &fakeDialer{conn: conn}, rec, 0)
	if err := m.Start(context.Background(), testSetup()); err != nil {
		t.Fatal(err)
	}

	conn.recvErr <- errors.New("websocket: close 1011")
	m.Wait()

	if m.State() != StateError {
		t.Errorf("state = %v, want error", m.State())
	}
	if !stream.isClosed() {
		t.Error("microphone not released after transport failure")
	}
	_, _, errs := rec.snapshot()
	if len(errs) != 1 || !apperr.IsCode(errs[0], apperr.CodeConnectionFailed) {
		t.Errorf("errors = %v, want one CONNECTION_FAILED", errs)
	}

	// Stop after error is a no-op and a fresh Start is allowed.
	m.Stop()
	if m.State() != StateError {
		t.Errorf("Stop changed error state to %v", m.State())
	}
}

// stopOnError stops the manager from inside OnError, the way a session
// tears itself down.
type stopOnError struct {
	*recorder
	m *Manager
}

func (s *stopOnError) OnError(err error) {
	s.recorder.OnError(err)
	s.m.Stop()
}

func TestImmediateReceiveFailureEndsInError(t *testing.T) {
	for i := 0; i < 50; i++ {
		conn := newFakeConn()
		conn.recvErr <- errors.New("websocket: close 1008")
		h := &stopOnError{recorder: &recorder{}}
		m := NewManager(&fakeMic{stream: newFakeStream()}, &fakeDialer{conn: conn}, h, 0)
		h.m = m

		_ = m.Start(context.Background(), testSetup())
		m.Wait()

		_, transitions, errs := h.snapshot()
		want := []State{StateIdle, StateConnecting, StateLive, StateError}
		if !slices.Equal(transitions, want) {
			t.Fatalf("run %d: transitions = %v, want %v", i, transitions, want)
		}
		if m.State() != StateError || len(errs) != 1 {
			t.Fatalf("run %d: state = %v, errors = %v", i, m.State(), errs)
		}
	}
}

func TestSecondStartRejectedWhileOpen(t *testing.T) {
	mic := &fakeMic{stream: newFakeStream()}
	m := NewManager(mic, &fakeDialer{conn: newFakeConn()}, &recorder{}, 0)
	if err := m.Start(context.Background(), testSetup()); err != nil {
		t.Fatal(err)
	}
	defer m.Stop()

	if err := m.Start(context.Background(), testSetup()); !apperr.IsCode(err, apperr.CodeSessionActive) {
		t.Errorf("second Start = %v, want SESSION_ACTIVE", err)
	}
	if mic.opened != 1 {
		t.Errorf("microphone opened %d times, want 1", mic.opened)
	}
}

func TestConvertServerMessage(t *testing.T) {
	msg := &genai.LiveServerMessage{
		ServerContent: &genai.LiveServerContent{
			ModelTurn: &genai.Content{Parts: []*genai.Part{
				{InlineData: &genai.Blob{Data: []byte{1, 2}, MIMEType: "audio/pcm;rate=24000"}},
				{Text: "ignored"},
				{InlineData: &genai.Blob{Data: []byte{3, 4}}},
			}},
			OutputTranscription: &genai.Transcription{Text: "hey"},
			TurnComplete:        true,
		},
	}
	got := convertServerMessage(msg)
	if !slices.Equal(got.Audio, []byte{1, 2, 3, 4}) {
		t.Errorf("audio = %v", got.Audio)
	}
	if got.OutputTranscript != "hey" || !got.TurnComplete || got.Interrupted {
		t.Errorf("unexpected message %+v", got)
	}
	if empty := convertServerMessage(&genai.LiveServerMessage{}); len(empty.Audio) != 0 || empty.TurnComplete {
		t.Errorf("empty message converted to %+v", empty)
	}
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		StateIdle: "idle", StateConnecting: "connecting", StateLive: "live",
		StateError: "error", StateClosed: "closed", State(42): "unknown",
	}
	for s, want := range tests {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", s, s.String(), want)
		}
	}
}
