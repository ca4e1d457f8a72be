package graph

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

func depthGraph(calc Calculator) Config {
	return Config{
		InputStream: "input_video",
		Nodes: []Node{{
			Name:       "iris_depth",
			Inputs:     []string{"input_video"},
			Outputs:    []string{"left_iris_depth_mm"},
			SideInputs: []string{"focal_length_pixel"},
			Calculator: calc,
		}},
	}
}

func depthCalc() *stubCalc {
	var focal float32
	return &stubCalc{
		open: func(side SidePacketReader) error {
			p, err := side.Get("focal_length_pixel")
			if err != nil {
				return err
			}
			focal, err = p.Float()
			return err
		},
		process: func(ctx *Context) error {
			return ctx.OutputFloat("left_iris_depth_mm", focal*10)
		},
	}
}

func TestStartWithoutRequiredSidePacket(t *testing.T) {
	calc := depthCalc()
	r := NewRunner(depthGraph(calc))

	err := r.Start(map[string]Packet{})
	if !errors.Is(err, ErrMissingSidePacket) {
		t.Fatalf("expected ErrMissingSidePacket, got %v", err)
	}
	if r.State() != StateUninitialized {
		t.Fatalf("state changed to %s", r.State())
	}
	if calc.opened != 0 {
		t.Fatalf("calculator opened %d times", calc.opened)
	}
}

func TestFocalLengthExample(t *testing.T) {
	r := NewRunner(depthGraph(depthCalc()))

	var got []Packet
	if err := r.Subscribe("left_iris_depth_mm", func(p Packet) error {
		got = append(got, p)
		return nil
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := r.Start(map[string]Packet{"focal_length_pixel": MakeFloat(4.2)}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if r.State() != StateRunning {
		t.Fatalf("expected running, got %s", r.State())
	}
	if err := r.PushFrame(testFrame(1)); err != nil {
		t.Fatalf("push: %v", err)
	}

	if len(got) != 1 {
		t.Fatalf("expected 1 packet, got %d", len(got))
	}
	if got[0].Timestamp() != 1 {
		t.Fatalf("expected timestamp 1, got %s", got[0].Timestamp())
	}
	v, err := got[0].Float()
	if err != nil {
		t.Fatalf("float: %v", err)
	}
	if v < 41.99 || v > 42.01 {
		t.Fatalf("unexpected value %v", v)
	}
}

func TestSidePacketsFromSetInputSidePackets(t *testing.T) {
	r := NewRunner(depthGraph(depthCalc()))

	if err := r.SetInputSidePackets(map[string]Packet{"focal_length_pixel": MakeFloat(1)}); err != nil {
		t.Fatalf("set side packets: %v", err)
	}
	if r.State() != StateConfigured {
		t.Fatalf("expected configured, got %s", r.State())
	}
	if err := r.Start(nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := r.SidePackets().Set("focal_length_pixel", MakeFloat(2)); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState writing after start, got %v", err)
	}
}

func TestPushFrameOutsideRunning(t *testing.T) {
	r := NewRunner(depthGraph(depthCalc()))

	calls := 0
	_ = r.Subscribe("left_iris_depth_mm", func(Packet) error {
		calls++
		return nil
	})

	if err := r.PushFrame(testFrame(1)); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState before start, got %v", err)
	}

	if err := r.Start(map[string]Packet{"focal_length_pixel": MakeFloat(1)}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := r.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := r.PushFrame(testFrame(2)); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState after stop, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("callback invoked %d times", calls)
	}
}

func TestStopLifecycle(t *testing.T) {
	calc := depthCalc()
	r := NewRunner(depthGraph(calc))

	if err := r.Start(map[string]Packet{"focal_length_pixel": MakeFloat(1)}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := r.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if calc.closed != 1 {
		t.Fatalf("expected one close, got %d", calc.closed)
	}
	if r.SidePackets().Has("focal_length_pixel") {
		t.Fatal("side packets survived stop")
	}
	if err := r.Stop(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on second stop, got %v", err)
	}
	if err := r.Start(map[string]Packet{"focal_length_pixel": MakeFloat(1)}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on restart, got %v", err)
	}
}

func TestStopBeforeStart(t *testing.T) {
	calc := depthCalc()
	r := NewRunner(depthGraph(calc))
	if err := r.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if calc.closed != 0 {
		t.Fatalf("closed a calculator that was never opened")
	}
	if r.State() != StateStopped {
		t.Fatalf("expected stopped, got %s", r.State())
	}
}

// pushAsync runs PushFrame on its own goroutine.
func pushAsync(r *Runner, ts Timestamp) <-chan error {
	done := make(chan error, 1)
	go func() { done <- r.PushFrame(testFrame(ts)) }()
	return done
}

func waitErr(t *testing.T, ch <-chan error, what string) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(2 * time.Second):
		t.Fatalf("%s did not return", what)
		return nil
	}
}

func TestStopFromCallback(t *testing.T) {
	calc := depthCalc()
	r := NewRunner(depthGraph(calc))

	var stopErr error
	var later int
	_ = r.Subscribe("left_iris_depth_mm", func(Packet) error {
		stopErr = r.Stop()
		return nil
	})
	_ = r.Subscribe("left_iris_depth_mm", func(Packet) error {
		later++
		return nil
	})
	if err := r.Start(map[string]Packet{"focal_length_pixel": MakeFloat(4.2)}); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := waitErr(t, pushAsync(r, 1), "PushFrame"); err != nil {
		t.Fatalf("push: %v", err)
	}
	if stopErr != nil {
		t.Fatalf("stop from callback: %v", stopErr)
	}
	if later != 1 {
		t.Fatalf("second callback invoked %d times", later)
	}
	if r.State() != StateStopped {
		t.Fatalf("expected stopped, got %s", r.State())
	}
	if calc.closed != 1 {
		t.Fatalf("expected one close, got %d", calc.closed)
	}
	if err := r.PushFrame(testFrame(2)); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState after stop, got %v", err)
	}
	if err := r.Stop(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on second stop, got %v", err)
	}
}

func TestStopWaitsForRunningNodes(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	calc := &stubCalc{process: func(ctx *Context) error {
		close(entered)
		<-release
		return ctx.OutputFloat("left_iris_depth_mm", 1)
	}}
	r := NewRunner(depthGraph(calc))
	if err := r.Start(map[string]Packet{"focal_length_pixel": MakeFloat(1)}); err != nil {
		t.Fatalf("start: %v", err)
	}

	pushed := pushAsync(r, 1)
	<-entered

	stopped := make(chan error, 1)
	go func() { stopped <- r.Stop() }()

	select {
	case err := <-stopped:
		t.Fatalf("stop returned while a node was running: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	if r.State() != StateRunning {
		t.Fatalf("state changed to %s mid-frame", r.State())
	}

	close(release)
	if err := waitErr(t, pushed, "PushFrame"); err != nil {
		t.Fatalf("push: %v", err)
	}
	if err := waitErr(t, stopped, "Stop"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if calc.closed != 1 || r.State() != StateStopped {
		t.Fatalf("closed %d, state %s", calc.closed, r.State())
	}
}

func TestStopDuringDeliveryTakesEffectAfterFrame(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	calc := depthCalc()
	r := NewRunner(depthGraph(calc))
	_ = r.Subscribe("left_iris_depth_mm", func(Packet) error {
		close(entered)
		<-release
		return nil
	})
	if err := r.Start(map[string]Packet{"focal_length_pixel": MakeFloat(1)}); err != nil {
		t.Fatalf("start: %v", err)
	}

	pushed := pushAsync(r, 1)
	<-entered

	stopped := make(chan error, 1)
	go func() { stopped <- r.Stop() }()
	if err := waitErr(t, stopped, "Stop"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if r.State() != StateRunning || calc.closed != 0 {
		t.Fatalf("stop took effect mid-frame: state %s, closed %d", r.State(), calc.closed)
	}

	close(release)
	if err := waitErr(t, pushed, "PushFrame"); err != nil {
		t.Fatalf("push: %v", err)
	}
	if r.State() != StateStopped || calc.closed != 1 {
		t.Fatalf("state %s, closed %d after frame", r.State(), calc.closed)
	}
}

func TestCycleIsConfigurationError(t *testing.T) {
	cfg := Config{
		InputStream: "in",
		Nodes: []Node{
			{Name: "a", Inputs: []string{"in", "b_out"}, Outputs: []string{"a_out"}, Calculator: &stubCalc{}},
			{Name: "b", Inputs: []string{"a_out"}, Outputs: []string{"b_out"}, Calculator: &stubCalc{}},
		},
	}
	r := NewRunner(cfg)
	err := r.Start(nil)
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
	if !strings.Contains(err.Error(), "a") || !strings.Contains(err.Error(), "b") {
		t.Fatalf("cycle members missing from %q", err)
	}
	if r.State() != StateUninitialized {
		t.Fatalf("state changed to %s", r.State())
	}
}

func TestWiringErrors(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{"no input stream", Config{Nodes: []Node{{Name: "a", Calculator: &stubCalc{}}}}},
		{"unnamed node", Config{InputStream: "in", Nodes: []Node{{Calculator: &stubCalc{}}}}},
		{"duplicate name", Config{InputStream: "in", Nodes: []Node{
			{Name: "a", Calculator: &stubCalc{}},
			{Name: "a", Calculator: &stubCalc{}},
		}}},
		{"nil calculator", Config{InputStream: "in", Nodes: []Node{{Name: "a"}}}},
		{"self loop", Config{InputStream: "in", Nodes: []Node{
			{Name: "a", Inputs: []string{"x"}, Outputs: []string{"x"}, Calculator: &stubCalc{}},
		}}},
		{"missing producer", Config{InputStream: "in", Nodes: []Node{
			{Name: "a", Inputs: []string{"nowhere"}, Outputs: []string{"x"}, Calculator: &stubCalc{}},
		}}},
		{"duplicate producer", Config{InputStream: "in", Nodes: []Node{
			{Name: "a", Inputs: []string{"in"}, Outputs: []string{"x"}, Calculator: &stubCalc{}},
			{Name: "b", Inputs: []string{"in"}, Outputs: []string{"x"}, Calculator: &stubCalc{}},
		}}},
		{"writes input stream", Config{InputStream: "in", Nodes: []Node{
			{Name: "a", Outputs: []string{"in"}, Calculator: &stubCalc{}},
		}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := NewRunner(tc.cfg).Validate(); !errors.Is(err, ErrConfiguration) {
				t.Fatalf("expected ErrConfiguration, got %v", err)
			}
		})
	}
}

func TestExecutionOrderFollowsDependencies(t *testing.T) {
	// Declared out of order: c depends on b which depends on a.
	cfg := Config{
		InputStream: "in",
		Nodes: []Node{
			{Name: "c", Inputs: []string{"b_out"}, Outputs: []string{"c_out"}, Calculator: passthrough("b_out", "c_out")},
			{Name: "a", Inputs: []string{"in"}, Outputs: []string{"a_out"}, Calculator: passthrough("in", "a_out")},
			{Name: "b", Inputs: []string{"a_out"}, Outputs: []string{"b_out"}, Calculator: passthrough("a_out", "b_out")},
		},
	}
	r := NewRunner(cfg)
	planned, err := r.Plan()
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(r.Order()) != 0 {
		t.Fatal("order should be empty before start")
	}
	if err := r.Start(nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	got := strings.Join(r.Order(), ",")
	if want := strings.Join(planned, ","); got != want {
		t.Fatalf("plan %s differs from order %s", want, got)
	}
	if got != "a,b,c" {
		t.Fatalf("unexpected order %s", got)
	}

	var seen []Timestamp
	_ = r.Subscribe("c_out", func(p Packet) error {
		seen = append(seen, p.Timestamp())
		return nil
	})
	for ts := Timestamp(10); ts <= 30; ts += 10 {
		if err := r.PushFrame(testFrame(ts)); err != nil {
			t.Fatalf("push %s: %v", ts, err)
		}
	}
	if len(seen) != 3 || seen[0] != 10 || seen[2] != 30 {
		t.Fatalf("unexpected timestamps %v", seen)
	}
}

func TestNonIncreasingTimestampRejected(t *testing.T) {
	r := NewRunner(depthGraph(depthCalc()))
	if err := r.Start(map[string]Packet{"focal_length_pixel": MakeFloat(1)}); err != nil {
		t.Fatalf("start: %v", err)
	}

	calls := 0
	_ = r.Subscribe("left_iris_depth_mm", func(Packet) error {
		calls++
		return nil
	})

	if err := r.PushFrame(testFrame(5)); err != nil {
		t.Fatalf("push: %v", err)
	}
	for _, ts := range []Timestamp{5, 4, Unset} {
		if err := r.PushFrame(testFrame(ts)); !errors.Is(err, ErrTimestampOrder) {
			t.Fatalf("ts %s: expected ErrTimestampOrder, got %v", ts, err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected 1 delivery, got %d", calls)
	}
	if st := r.Stats(); st.FramesRejected != 3 || st.FramesPushed != 1 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestFrameWithoutImageRejected(t *testing.T) {
	r := NewRunner(depthGraph(depthCalc()))
	if err := r.Start(map[string]Packet{"focal_length_pixel": MakeFloat(1)}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := r.PushFrame(Frame{Timestamp: 1}); !errors.Is(err, ErrInvalidFrame) {
		t.Fatalf("expected ErrInvalidFrame, got %v", err)
	}
}

func TestNodeFailureDropsWholeFrame(t *testing.T) {
	fail := true
	cfg := Config{
		InputStream: "in",
		Nodes: []Node{
			{Name: "first", Inputs: []string{"in"}, Outputs: []string{"first_out"}, Calculator: passthrough("in", "first_out")},
			{Name: "second", Inputs: []string{"first_out"}, Outputs: []string{"second_out"}, Calculator: &stubCalc{
				process: func(ctx *Context) error {
					if fail {
						return errors.New("boom")
					}
					return ctx.OutputFloat("second_out", 1)
				},
			}},
		},
	}
	r := NewRunner(cfg)
	if err := r.Start(nil); err != nil {
		t.Fatalf("start: %v", err)
	}

	var delivered []string
	for _, stream := range []string{"in", "first_out", "second_out"} {
		stream := stream
		_ = r.Subscribe(stream, func(Packet) error {
			delivered = append(delivered, stream)
			return nil
		})
	}

	err := r.PushFrame(testFrame(1))
	var nodeErr *NodeError
	if !errors.As(err, &nodeErr) || nodeErr.Node != "second" {
		t.Fatalf("expected NodeError from second, got %v", err)
	}
	if !errors.Is(err, ErrNodeFailed) {
		t.Fatalf("expected ErrNodeFailed, got %v", err)
	}
	if len(delivered) != 0 {
		t.Fatalf("partial dispatch: %v", delivered)
	}
	if r.State() != StateRunning {
		t.Fatalf("expected running after node failure, got %s", r.State())
	}

	// The failed timestamp was never committed, so it may be retried.
	fail = false
	if err := r.PushFrame(testFrame(1)); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if strings.Join(delivered, ",") != "in,first_out,second_out" {
		t.Fatalf("unexpected delivery order %v", delivered)
	}
}

func TestPanickingNodeIsNodeError(t *testing.T) {
	cfg := Config{
		InputStream: "in",
		Nodes: []Node{{Name: "p", Inputs: []string{"in"}, Outputs: []string{"x"}, Calculator: &stubCalc{
			process: func(*Context) error { panic("bad") },
		}}},
	}
	r := NewRunner(cfg)
	if err := r.Start(nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := r.PushFrame(testFrame(1)); !errors.Is(err, ErrNodeFailed) {
		t.Fatalf("expected ErrNodeFailed, got %v", err)
	}
}

func TestStaleOutputTimestampFailsNode(t *testing.T) {
	cfg := Config{
		InputStream: "in",
		Nodes: []Node{{Name: "stale", Inputs: []string{"in"}, Outputs: []string{"x"}, Calculator: &stubCalc{
			process: func(ctx *Context) error {
				return ctx.Output("x", MakeFloat(1).At(7))
			},
		}}},
	}
	r := NewRunner(cfg)
	if err := r.Start(nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := r.PushFrame(testFrame(1)); err != nil {
		t.Fatalf("first push: %v", err)
	}
	err := r.PushFrame(testFrame(2))
	if !errors.Is(err, ErrTimestampOrder) || !errors.Is(err, ErrNodeFailed) {
		t.Fatalf("expected node timestamp failure, got %v", err)
	}
}

func TestUndeclaredOutputFailsNode(t *testing.T) {
	cfg := Config{
		InputStream: "in",
		Nodes: []Node{{Name: "rogue", Inputs: []string{"in"}, Outputs: []string{"x"}, Calculator: &stubCalc{
			process: func(ctx *Context) error { return ctx.OutputFloat("y", 1) },
		}}},
	}
	r := NewRunner(cfg)
	if err := r.Start(nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := r.PushFrame(testFrame(1)); !errors.Is(err, ErrNodeFailed) {
		t.Fatalf("expected ErrNodeFailed, got %v", err)
	}
}

func TestNodeSkippedWhenInputAbsent(t *testing.T) {
	// "maybe" only emits on even timestamps; "after" must only run then,
	// while "opt" runs every frame and sees the optional input when present.
	var optSeen []bool
	cfg := Config{
		InputStream: "in",
		Nodes: []Node{
			{Name: "maybe", Inputs: []string{"in"}, Outputs: []string{"even"}, Calculator: &stubCalc{
				process: func(ctx *Context) error {
					if ctx.Timestamp()%2 != 0 {
						return nil
					}
					return ctx.OutputFloat("even", 1)
				},
			}},
			{Name: "after", Inputs: []string{"even"}, Outputs: []string{"after_out"}, Calculator: passthrough("even", "after_out")},
			{Name: "opt", Inputs: []string{"in"}, OptionalInputs: []string{"even"}, Outputs: []string{"opt_out"}, Calculator: &stubCalc{
				process: func(ctx *Context) error {
					_, ok := ctx.Input("even")
					optSeen = append(optSeen, ok)
					return ctx.OutputFloat("opt_out", 0)
				},
			}},
		},
	}
	r := NewRunner(cfg)
	if err := r.Start(nil); err != nil {
		t.Fatalf("start: %v", err)
	}

	var after []Timestamp
	_ = r.Subscribe("after_out", func(p Packet) error {
		after = append(after, p.Timestamp())
		return nil
	})

	for ts := Timestamp(1); ts <= 4; ts++ {
		if err := r.PushFrame(testFrame(ts)); err != nil {
			t.Fatalf("push %s: %v", ts, err)
		}
	}
	if len(after) != 2 || after[0] != 2 || after[1] != 4 {
		t.Fatalf("unexpected after_out timestamps %v", after)
	}
	want := []bool{false, true, false, true}
	for i := range want {
		if optSeen[i] != want[i] {
			t.Fatalf("optional input presence %v, want %v", optSeen, want)
		}
	}
}

func TestStartFailureClosesOpenedNodes(t *testing.T) {
	first := &stubCalc{}
	cfg := Config{
		InputStream: "in",
		Nodes: []Node{
			{Name: "first", Inputs: []string{"in"}, Outputs: []string{"a"}, Calculator: first},
			{Name: "second", Inputs: []string{"a"}, Outputs: []string{"b"}, Calculator: &stubCalc{
				open: func(SidePacketReader) error { return errors.New("no device") },
			}},
		},
	}
	r := NewRunner(cfg)
	err := r.Start(map[string]Packet{"extra": MakeFloat(1)})
	if err == nil {
		t.Fatal("expected start to fail")
	}
	if first.closed != 1 {
		t.Fatalf("expected first node closed once, got %d", first.closed)
	}
	if r.State() != StateUninitialized {
		t.Fatalf("state changed to %s", r.State())
	}
	if r.SidePackets().Has("extra") {
		t.Fatal("side packets from failed start were kept")
	}
	if r.SidePackets().Sealed() {
		t.Fatal("store sealed after failed start")
	}
}

func TestCallbackFailureDoesNotFailFrame(t *testing.T) {
	r := NewRunner(depthGraph(depthCalc()))
	if err := r.Start(map[string]Packet{"focal_length_pixel": MakeFloat(1)}); err != nil {
		t.Fatalf("start: %v", err)
	}

	second := 0
	_ = r.Subscribe("left_iris_depth_mm", func(Packet) error { return errors.New("display gone") })
	_ = r.Subscribe("left_iris_depth_mm", func(Packet) error {
		second++
		return nil
	})

	if err := r.PushFrame(testFrame(1)); err != nil {
		t.Fatalf("push: %v", err)
	}
	if second != 1 {
		t.Fatalf("second callback ran %d times", second)
	}
	st := r.Stats().Streams["left_iris_depth_mm"]
	if st.Delivered != 1 || st.Failed != 1 || st.Packets != 1 {
		t.Fatalf("unexpected stream stats %+v", st)
	}
}

type sliceSource struct {
	frames []Frame
}

func (s *sliceSource) Next(ctx context.Context) (Frame, error) {
	if len(s.frames) == 0 {
		return Frame{}, io.EOF
	}
	f := s.frames[0]
	s.frames = s.frames[1:]
	return f, nil
}

func TestRunDrainsSource(t *testing.T) {
	r := NewRunner(depthGraph(depthCalc()))
	if err := r.Start(map[string]Packet{"focal_length_pixel": MakeFloat(1)}); err != nil {
		t.Fatalf("start: %v", err)
	}
	var count int
	_ = r.Subscribe("left_iris_depth_mm", func(Packet) error {
		count++
		return nil
	})

	// The duplicate timestamp is dropped, the rest flow through.
	src := &sliceSource{frames: []Frame{testFrame(1), testFrame(1), testFrame(2), testFrame(3)}}
	if err := r.Run(context.Background(), src); err != nil {
		t.Fatalf("run: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 packets, got %d", count)
	}
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	r := NewRunner(depthGraph(depthCalc()))
	if err := r.Start(map[string]Packet{"focal_length_pixel": MakeFloat(1)}); err != nil {
		t.Fatalf("start: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := r.Run(ctx, &sliceSource{frames: []Frame{testFrame(1)}}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if r.Stats().FramesPushed != 0 {
		t.Fatal("frame pushed after cancel")
	}
}
