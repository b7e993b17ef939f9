package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"

	"inferd/internal/runtime"
	"inferd/internal/store"
	"inferd/pkg/types"
)

func TestInvokeThenLookupRoundTrip(t *testing.T) {
	c, _, _ := readyController(t, Config{})
	ctx := context.Background()
	in := types.ModelInput{ID: "a", Payload: json.RawMessage(`"x"`)}

	out, err := c.Invoke(ctx, in)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if string(out.Payload) != `"X"` || out.InputID != "a" {
		t.Fatalf("unexpected output %+v", out)
	}

	gotIn, gotOut, err := c.GetInvocationInfo(ctx, "a")
	if err != nil {
		t.Fatalf("GetInvocationInfo: %v", err)
	}
	if gotIn == nil || !gotIn.Equal(in) {
		t.Fatalf("input = %+v, want %+v", gotIn, in)
	}
	if gotOut == nil || !gotOut.Equal(out) {
		t.Fatalf("output = %+v, want %+v", gotOut, out)
	}
}

func TestGetInvocationInfoUnknownIsAbsent(t *testing.T) {
	c, _, _ := readyController(t, Config{})
	in, out, err := c.GetInvocationInfo(context.Background(), "missing")
	if err != nil || in != nil || out != nil {
		t.Fatalf("expected (nil, nil, nil), got (%v, %v, %v)", in, out, err)
	}
}

func TestInitializeConnectFailure(t *testing.T) {
	pub := NewMemoryPublisher()
	c := New(Config{Publisher: pub})
	be := newFaultyBackend()
	be.connectErr = errBoom

	err := c.Initialize(context.Background(), runtime.NewMock(0), be)
	var ie *InitError
	if !errors.As(err, &ie) || ie.Kind != InitConnectFailed || !errors.Is(err, errBoom) {
		t.Fatalf("expected ConnectFailed InitError wrapping boom, got %v", err)
	}
	if c.Initialized() {
		t.Fatalf("controller must stay un-initialized")
	}
	_, err = c.Invoke(context.Background(), types.ModelInput{ID: "a"})
	if !IsNotReady(err) {
		t.Fatalf("expected NotReady after failed init, got %v", err)
	}
	if names := pub.Names(); len(names) == 0 || names[0] != EventInitializeFailed {
		t.Fatalf("expected initialize_failed event, got %v", names)
	}
}

func TestInitializeFailureDropsPreviousCollaborators(t *testing.T) {
	c := New(Config{})
	oldRT := &fakeRuntime{loaded: true}
	oldBE := store.NewMemory()
	if err := c.Initialize(context.Background(), oldRT, oldBE); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	bad := newFaultyBackend()
	bad.connectErr = errBoom
	if err := c.Initialize(context.Background(), runtime.NewMock(0), bad); err == nil {
		t.Fatalf("expected failure")
	}
	if c.Initialized() || c.Healthy() {
		t.Fatalf("no partial state may survive a failed initialize")
	}
	if st := c.Status(); st.Runtime != "" || st.Database != "" {
		t.Fatalf("collaborators should be dropped, status=%+v", st)
	}
	if oldBE.Connected() {
		t.Fatalf("old backend was dropped without being closed")
	}
	if oldRT.closed != 1 {
		t.Fatalf("old runtime closed %d times, want 1", oldRT.closed)
	}
	_ = c.Close()
}

func TestInitializeMissingCollaboratorClosesPrevious(t *testing.T) {
	c := New(Config{})
	oldRT := &fakeRuntime{loaded: true}
	oldBE := store.NewMemory()
	if err := c.Initialize(context.Background(), oldRT, oldBE); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := c.Initialize(context.Background(), oldRT, nil); err == nil {
		t.Fatalf("expected failure")
	}
	if oldBE.Connected() {
		t.Fatalf("old backend should be closed")
	}
	// the runtime was passed in again, so the caller still owns it
	if oldRT.closed != 0 {
		t.Fatalf("re-supplied runtime must not be closed, closed=%d", oldRT.closed)
	}
}

func TestHealthFollowsBackendLiveness(t *testing.T) {
	mr := miniredis.RunT(t)
	be, err := store.Open("redis://" + mr.Addr() + "/0")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx := context.Background()
	c := New(Config{})
	defer c.Close()
	if err := c.Initialize(ctx, runtime.NewMock(0), be); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := c.LoadModel(ctx, modelSource(t)); err != nil {
		t.Fatalf("LoadModel: %v", err)
	}
	if !c.Healthy() {
		t.Fatalf("expected healthy")
	}
	mr.Close()
	if be.Connected() || c.Healthy() {
		t.Fatalf("health must drop once the database goes away")
	}
	if !c.Status().ModelLoaded {
		t.Fatalf("model should stay loaded")
	}
}

func TestShutdownHonorsContext(t *testing.T) {
	c := New(Config{})
	rt := &fakeRuntime{loaded: true, block: make(chan struct{}), started: make(chan struct{}, 1)}
	be := store.NewMemory()
	if err := c.Initialize(context.Background(), rt, be); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	invoked := make(chan struct{})
	go func() {
		defer close(invoked)
		_, _ = c.Invoke(context.Background(), types.ModelInput{ID: "slow"})
	}()
	<-rt.started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	if err := c.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("Shutdown ignored its context")
	}
	if !be.Connected() {
		t.Fatalf("backend closed under an in-flight invocation")
	}

	close(rt.block)
	<-invoked
	deadline := time.Now().Add(2 * time.Second)
	for be.Connected() {
		if time.Now().After(deadline) {
			t.Fatalf("close did not complete after the invocation finished")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestShutdownReturnsCloseResult(t *testing.T) {
	c, _, be := readyController(t, Config{})
	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if be.Connected() || c.Initialized() {
		t.Fatalf("expected closed controller")
	}
}

func TestInitializeMissingCollaborator(t *testing.T) {
	c := New(Config{})
	err := c.Initialize(context.Background(), nil, store.NewMemory())
	var ie *InitError
	if !errors.As(err, &ie) || ie.Kind != InitMissingCollaborator {
		t.Fatalf("expected MissingCollaborator, got %v", err)
	}
}

func TestReinitializeClosesReplacedCollaborators(t *testing.T) {
	c := New(Config{})
	ctx := context.Background()
	oldRT := &fakeRuntime{}
	oldBE := newFaultyBackend()
	if err := c.Initialize(ctx, oldRT, oldBE); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	newBE := store.NewMemory()
	if err := c.Initialize(ctx, runtime.NewMock(0), newBE); err != nil {
		t.Fatalf("re-Initialize: %v", err)
	}
	if oldBE.closeCount != 1 || oldBE.Connected() {
		t.Fatalf("replaced backend should be closed once, closeCount=%d", oldBE.closeCount)
	}
	if oldRT.closed != 1 {
		t.Fatalf("replaced runtime should be closed, closed=%d", oldRT.closed)
	}
	if !newBE.Connected() {
		t.Fatalf("new backend should be connected")
	}
}

func TestReinitializeSameBackendKeepsItOpen(t *testing.T) {
	c := New(Config{})
	ctx := context.Background()
	be := newFaultyBackend()
	rt := runtime.NewMock(0)
	if err := c.Initialize(ctx, rt, be); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := c.Initialize(ctx, rt, be); err != nil {
		t.Fatalf("re-Initialize: %v", err)
	}
	if be.closeCount != 0 || !be.Connected() {
		t.Fatalf("same backend must not be closed, closeCount=%d", be.closeCount)
	}
}

func TestInvokeBeforeLoadIsNotReady(t *testing.T) {
	c := New(Config{})
	if err := c.Initialize(context.Background(), runtime.NewMock(0), store.NewMemory()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	_, err := c.Invoke(context.Background(), types.ModelInput{ID: "a", Payload: json.RawMessage(`"x"`)})
	if !IsNotReady(err) || !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected NotReady, got %v", err)
	}

	// un-initialized controller
	_, err = New(Config{}).Invoke(context.Background(), types.ModelInput{ID: "a"})
	if !IsNotReady(err) {
		t.Fatalf("expected NotReady on fresh controller, got %v", err)
	}
}

func TestLoadModelWithoutRuntime(t *testing.T) {
	c := New(Config{})
	err := c.LoadModel(context.Background(), modelSource(t))
	var le *LoadError
	if !errors.As(err, &le) || le.Kind != LoadNoRuntime || !IsNotReady(err) {
		t.Fatalf("expected NoRuntime LoadError, got %v", err)
	}
}

func TestLoadModelFailureKeepsServing(t *testing.T) {
	pub := NewMemoryPublisher()
	c, _, _ := readyController(t, Config{Publisher: pub})
	ctx := context.Background()
	first := c.Status().ModelSource

	src := modelSource(t)
	missing := missingSource(t)
	err := c.LoadModel(ctx, missing)
	if !IsLoadFailed(err) {
		t.Fatalf("expected LoadFailed, got %v", err)
	}
	var le *LoadError
	if !errors.As(err, &le) || le.Kind != LoadFailed || le.Source != missing.URI() {
		t.Fatalf("unexpected load error %#v", err)
	}
	if !c.Healthy() {
		t.Fatalf("previous model should keep serving")
	}
	if got := c.Status().ModelSource; got != first {
		t.Fatalf("model source changed on failed load: %q -> %q", first, got)
	}
	if _, err := c.Invoke(ctx, types.ModelInput{ID: "a", Payload: json.RawMessage(`"x"`)}); err != nil {
		t.Fatalf("Invoke after failed load: %v", err)
	}
	if err := c.LoadModel(ctx, src); err != nil {
		t.Fatalf("hot swap: %v", err)
	}
	if c.Status().ModelSource != src.URI() {
		t.Fatalf("status should report new source")
	}
	names := pub.Names()
	if !contains(names, EventModelLoadFailed) || !contains(names, EventModelLoaded) {
		t.Fatalf("expected load events, got %v", names)
	}
}

func TestInvokeInferenceFailedSkipsPersistence(t *testing.T) {
	c := New(Config{})
	rt := &fakeRuntime{loaded: true, invokeErr: errBoom}
	be := newFaultyBackend()
	if err := c.Initialize(context.Background(), rt, be); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	_, err := c.Invoke(context.Background(), types.ModelInput{ID: "a"})
	if !IsInferenceFailed(err) || !errors.Is(err, errBoom) {
		t.Fatalf("expected InferenceFailed, got %v", err)
	}
	if be.saveInCalls != 0 || be.saveOutCalls != 0 {
		t.Fatalf("no save may happen after failed inference (in=%d out=%d)", be.saveInCalls, be.saveOutCalls)
	}
	if st := c.Status(); st.FailuresTotal != 1 || st.LastError == "" {
		t.Fatalf("failure should be counted, status=%+v", st)
	}
}

func TestInvokePersistFailedReturnsOutput(t *testing.T) {
	cases := map[string]func(*faultyBackend){
		"save input":  func(b *faultyBackend) { b.saveInErr = errBoom },
		"save output": func(b *faultyBackend) { b.saveOutErr = errBoom },
	}
	for name, inject := range cases {
		t.Run(name, func(t *testing.T) {
			c := New(Config{})
			be := newFaultyBackend()
			if err := c.Initialize(context.Background(), runtime.NewMock(0), be); err != nil {
				t.Fatalf("Initialize: %v", err)
			}
			if err := c.LoadModel(context.Background(), modelSource(t)); err != nil {
				t.Fatalf("LoadModel: %v", err)
			}
			inject(be)
			out, err := c.Invoke(context.Background(), types.ModelInput{ID: "a", Payload: json.RawMessage(`"x"`)})
			if !IsPersistFailed(err) {
				t.Fatalf("expected PersistFailed, got %v", err)
			}
			var ie *InvokeError
			if !errors.As(err, &ie) || ie.Output == nil || string(ie.Output.Payload) != `"X"` {
				t.Fatalf("error should carry output, got %#v", err)
			}
			if string(out.Payload) != `"X"` {
				t.Fatalf("output should be returned, got %+v", out)
			}
		})
	}
}

func TestInvokeSaveOutputFailureLeavesInputOnly(t *testing.T) {
	c := New(Config{})
	be := newFaultyBackend()
	ctx := context.Background()
	_ = c.Initialize(ctx, runtime.NewMock(0), be)
	_ = c.LoadModel(ctx, modelSource(t))
	be.saveOutErr = errBoom
	_, _ = c.Invoke(ctx, types.ModelInput{ID: "a", Payload: json.RawMessage(`"x"`)})

	in, out, err := c.GetInvocationInfo(ctx, "a")
	if err != nil || in == nil || out != nil {
		t.Fatalf("expected input without output, got (%v, %v, %v)", in, out, err)
	}
}

func TestInvokeAssignsID(t *testing.T) {
	c, _, _ := readyController(t, Config{})
	out, err := c.Invoke(context.Background(), types.ModelInput{Payload: json.RawMessage(`"x"`)})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if _, err := uuid.Parse(out.InputID); err != nil {
		t.Fatalf("expected generated uuid, got %q", out.InputID)
	}
	if in, _, _ := c.GetInvocationInfo(context.Background(), out.InputID); in == nil {
		t.Fatalf("generated id should be retrievable")
	}
}

func TestInvokeTimeout(t *testing.T) {
	c := New(Config{InvokeTimeout: 20 * time.Millisecond})
	rt := &fakeRuntime{loaded: true, block: make(chan struct{})}
	if err := c.Initialize(context.Background(), rt, store.NewMemory()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	start := time.Now()
	_, err := c.Invoke(context.Background(), types.ModelInput{ID: "slow"})
	if !IsInferenceFailed(err) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected InferenceFailed with deadline, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("invoke timeout not applied")
	}
}

func TestConcurrentInvokesKeepIDsApart(t *testing.T) {
	c, _, _ := readyController(t, Config{})
	ctx := context.Background()
	const n = 32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			in := types.ModelInput{ID: fmt.Sprintf("id-%d", i), Payload: json.RawMessage(fmt.Sprintf(`"p%d"`, i))}
			if _, err := c.Invoke(ctx, in); err != nil {
				t.Errorf("Invoke %s: %v", in.ID, err)
			}
		}(i)
	}
	wg.Wait()
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("id-%d", i)
		in, out, err := c.GetInvocationInfo(ctx, id)
		if err != nil || in == nil || out == nil {
			t.Fatalf("%s: (%v, %v, %v)", id, in, out, err)
		}
		if string(in.Payload) != fmt.Sprintf(`"p%d"`, i) || string(out.Payload) != fmt.Sprintf(`"P%d"`, i) || out.InputID != id {
			t.Fatalf("%s: cross-contaminated record in=%s out=%s", id, in.Payload, out.Payload)
		}
	}
}

func TestHealthFollowsBackendAndModel(t *testing.T) {
	c, rt, be := readyController(t, Config{})
	if !c.Healthy() {
		t.Fatalf("expected healthy")
	}
	rt.SetLoaded(false)
	if c.Healthy() {
		t.Fatalf("unloaded model must flip health")
	}
	rt.SetLoaded(true)
	if !c.Healthy() {
		t.Fatalf("expected healthy again")
	}
	_ = be.Close()
	if c.Healthy() {
		t.Fatalf("disconnected backend must flip health")
	}
}

func TestLookupErrors(t *testing.T) {
	_, _, err := New(Config{}).GetInvocationInfo(context.Background(), "a")
	var le *LookupError
	if !errors.As(err, &le) || !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected LookupError(NotReady), got %v", err)
	}

	c := New(Config{})
	be := newFaultyBackend()
	_ = c.Initialize(context.Background(), runtime.NewMock(0), be)
	be.getErr = errBoom
	_, _, err = c.GetInvocationInfo(context.Background(), "a")
	if !errors.As(err, &le) || !errors.Is(err, errBoom) || le.ID != "a" {
		t.Fatalf("expected LookupError(boom), got %v", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	c, rt, be := readyController(t, Config{})
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if be.Connected() || rt.Loaded() || c.Initialized() {
		t.Fatalf("collaborators should be closed")
	}
	if _, err := c.Invoke(context.Background(), types.ModelInput{ID: "a"}); !IsNotReady(err) {
		t.Fatalf("expected NotReady after Close, got %v", err)
	}
}

func TestInvokeEvents(t *testing.T) {
	pub := NewMemoryPublisher()
	c, _, _ := readyController(t, Config{Publisher: pub})
	_, _ = c.Invoke(context.Background(), types.ModelInput{ID: "a", Payload: json.RawMessage(`"x"`)})
	evs := pub.Events()
	last := evs[len(evs)-1]
	if last.Name != EventInvokeDone || last.InputID != "a" {
		t.Fatalf("unexpected last event %+v", last)
	}
	want := []string{EventInitializeDone, EventModelLoaded, EventInvokeDone}
	if got := pub.Names(); !reflect.DeepEqual(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
}

func contains(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}
