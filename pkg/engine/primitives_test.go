package engine

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"
)

func TestNewItemID(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{"app_server", false},
		{"_private", false},
		{"A1", false},
		{"", true},
		{"1st", true},
		{"has-dash", true},
		{"has space", true},
		{"ünicode", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			_, err := NewItemID(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewItemID(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err != nil && !HasCode(err, ErrCodeInvalidID) {
				t.Errorf("Expected %s, got %v", ErrCodeInvalidID, err)
			}
		})
	}
}

func TestNextExecutionID_Increases(t *testing.T) {
	a, b := NextExecutionID(), NextExecutionID()
	if b <= a {
		t.Errorf("Expected increasing IDs, got %d then %d", a, b)
	}
}

func TestEngineError_Classification(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewTransientError("read failed", cause).WithItem("web").WithOperation("state_current")

	if !IsTransient(err) || !IsRetryable(err) {
		t.Error("Expected transient, retryable error")
	}
	if !errors.Is(err, cause) {
		t.Error("Expected cause in chain")
	}
	if got := err.Error(); got != "[transient] read failed (item=web, operation=state_current): connection reset" {
		t.Errorf("Unexpected message: %s", got)
	}

	perm := NewPermanentError("bad", nil).WithCode(ErrCodeValidation)
	if IsRetryable(perm) {
		t.Error("Permanent errors are not retryable")
	}
	if !errors.Is(perm, &EngineError{Class: ErrorClassPermanent, Code: ErrCodeValidation}) {
		t.Error("Expected errors.Is to match on class and code")
	}
	if ClassOf(errors.New("plain")) != ErrorClassPermanent {
		t.Error("Unclassified errors default to permanent")
	}
}

func TestItemErrors_InsertionOrder(t *testing.T) {
	errs := NewItemErrors()
	errs.Insert("c", errors.New("c1"))
	errs.Insert("a", errors.New("a1"))
	errs.Insert("c", errors.New("c2"))

	if got := errs.ItemIDs(); !slices.Equal(got, []ItemID{"c", "a"}) {
		t.Errorf("Expected [c a], got %v", got)
	}
	if err, _ := errs.Get("c"); err.Error() != "c1" {
		t.Errorf("Expected first error to win, got %v", err)
	}

	other := NewItemErrors()
	other.Insert("b", errors.New("b1"))
	other.Insert("a", errors.New("a2"))
	errs.Merge(other)
	if got := errs.ItemIDs(); !slices.Equal(got, []ItemID{"c", "a", "b"}) {
		t.Errorf("Expected [c a b] after merge, got %v", got)
	}

	var nilErrs *ItemErrors
	if !nilErrs.IsEmpty() {
		t.Error("Expected nil ItemErrors to be empty")
	}
}

func TestResources_TypedAccess(t *testing.T) {
	key := NewResourceKey[int]("counter")
	r := NewResources()

	if _, err := MustGet(r, key); !HasCode(err, ErrCodeNotFound) {
		t.Errorf("Expected %s, got %v", ErrCodeNotFound, err)
	}

	Insert(r, key, 1)
	if err := Update(r, key, func(v int) (int, error) { return v + 41, nil }); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if v, ok := Get(r, key); !ok || v != 42 {
		t.Errorf("Expected 42, got %d (ok=%v)", v, ok)
	}

	failed := errors.New("rejected")
	if err := Update(r, key, func(int) (int, error) { return 0, failed }); !errors.Is(err, failed) {
		t.Errorf("Expected update error, got %v", err)
	}
	if v, _ := Get(r, key); v != 42 {
		t.Errorf("Failed update must not change the value, got %d", v)
	}

	if !slices.Equal(r.Names(), []string{"counter"}) {
		t.Errorf("Unexpected names: %v", r.Names())
	}
	if !r.Remove("counter") || r.Contains("counter") {
		t.Error("Expected entry to be removed")
	}
}

func TestResources_ConcurrentUpdates(t *testing.T) {
	key := NewResourceKey[int]("counter")
	r := NewResources()
	Insert(r, key, 0)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = Update(r, key, func(v int) (int, error) { return v + 1, nil })
		}()
	}
	wg.Wait()

	if v, _ := Get(r, key); v != 50 {
		t.Errorf("Expected 50, got %d", v)
	}
}

func TestItemData_EnforcesDeclaredAccess(t *testing.T) {
	key := NewResourceKey[string]("token")
	r := NewResources()
	Insert(r, key, "secret")

	reader := NewItemData("reader", DataAccess{Reads: []string{"token"}}, r)
	if v, err := Read(reader, key); err != nil || v != "secret" {
		t.Errorf("Expected read to succeed, got %q, %v", v, err)
	}
	if err := Write(reader, key, func(string) (string, error) { return "x", nil }); !HasCode(err, ErrCodeAccessDenied) {
		t.Errorf("Expected %s for undeclared write, got %v", ErrCodeAccessDenied, err)
	}

	stranger := NewItemData("stranger", DataAccess{}, r)
	if _, err := Read(stranger, key); !HasCode(err, ErrCodeAccessDenied) {
		t.Errorf("Expected %s for undeclared read, got %v", ErrCodeAccessDenied, err)
	}
}

func TestInterrupt_SingleFire(t *testing.T) {
	i := NewInterrupt()
	if i.Fired() {
		t.Fatal("New interrupt must not be fired")
	}

	i.Fire()
	first := i.FiredAt()
	i.Fire()

	if !i.Fired() {
		t.Error("Expected interrupt to be fired")
	}
	if !i.FiredAt().Equal(first) {
		t.Error("Second Fire must not change the fire time")
	}
	select {
	case <-i.Done():
	default:
		t.Error("Expected Done to be closed")
	}

	var nilInterrupt *Interrupt
	if nilInterrupt.Fired() {
		t.Error("Nil interrupt must never fire")
	}
}

func TestInterrupt_FireAfter(t *testing.T) {
	i := NewInterrupt()
	i.FireAfter(5 * time.Millisecond)

	select {
	case <-i.Done():
	case <-time.After(time.Second):
		t.Fatal("Interrupt did not fire after deadline")
	}

	stopped := NewInterrupt()
	stop := stopped.FireAfter(time.Hour)
	if !stop() {
		t.Error("Expected stop to cancel the pending timer")
	}
	if stopped.Fired() {
		t.Error("Stopped timer must not fire the interrupt")
	}
}

func TestInterrupt_FireAfterNil(t *testing.T) {
	var i *Interrupt
	stop := i.FireAfter(time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	if stop() {
		t.Error("Nil interrupt must not schedule a timer")
	}
	if i.Fired() {
		t.Error("Nil interrupt must never fire")
	}
}

func TestProgressChannel_SendBlocksUntilSpace(t *testing.T) {
	ch := NewProgressChannel(1)
	sender := NewProgressSender(ch, 9, "apply", "web")
	ctx := context.Background()

	if err := sender.Tick(ctx, MsgSetText("one")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- sender.Inc(ctx, 3, ProgressMsgUpdate{}) }()

	select {
	case <-done:
		t.Fatal("Send must block while the buffer is full")
	case <-time.After(20 * time.Millisecond):
	}

	first := <-ch.Updates()
	if err := <-done; err != nil {
		t.Fatalf("Blocked send error = %v", err)
	}
	second := <-ch.Updates()
	ch.Close()

	if first.Delta.Kind != DeltaTick || first.Msg.Text != "one" {
		t.Errorf("Unexpected first update: %+v", first)
	}
	if second.Delta.Kind != DeltaInc || second.Delta.Units != 3 || second.Msg.Kind != MsgNoChange {
		t.Errorf("Unexpected second update: %+v", second)
	}
	if first.ExecutionID != 9 || first.Block != "apply" || first.ItemID != "web" {
		t.Errorf("Expected identity to be stamped, got %+v", first)
	}
	if ch.Sent() != 2 {
		t.Errorf("Expected 2 sent updates, got %d", ch.Sent())
	}
	if _, ok := <-ch.Updates(); ok {
		t.Error("Expected channel to be closed")
	}
}

func TestProgressChannel_SendHonoursContext(t *testing.T) {
	ch := NewProgressChannel(1)
	defer ch.Close()
	_ = ch.Send(context.Background(), ProgressUpdate{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := ch.Send(ctx, ProgressUpdate{}); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestProgressChannel_DefaultCapacity(t *testing.T) {
	ch := NewProgressChannel(0)
	defer ch.Close()
	if ch.Cap() != DefaultProgressBuffer {
		t.Errorf("Expected capacity %d, got %d", DefaultProgressBuffer, ch.Cap())
	}

	var nilSender *ProgressSender
	if err := nilSender.Tick(context.Background(), MsgClearText()); err != nil {
		t.Errorf("Nil sender must discard updates, got %v", err)
	}
}

func TestStates_PhantomMarkers(t *testing.T) {
	current := NewStates[Current]()
	current.Insert("web", 3)

	if current.Kind() != "current" {
		t.Errorf("Expected kind current, got %s", current.Kind())
	}

	ensured := Reinterpret[Ensured](current)
	if ensured.Kind() != "ensured" {
		t.Errorf("Expected kind ensured, got %s", ensured.Kind())
	}

	v, ok, err := StateAs[int](ensured, "web")
	if err != nil || !ok || v != 3 {
		t.Errorf("StateAs() = %d, %v, %v", v, ok, err)
	}

	_, _, err = StateAs[string](ensured, "web")
	if !HasCode(err, ErrCodeStateTypeMismatch) {
		t.Errorf("Expected %s, got %v", ErrCodeStateTypeMismatch, err)
	}

	if _, ok, _ := StateAs[int](ensured, "missing"); ok {
		t.Error("Expected missing state to report not found")
	}
}

func TestErase_DowncastMismatch(t *testing.T) {
	item := Erase[int, int](newTestItem("web", 1, 2))

	if _, err := item.StateDiff(context.Background(), FnCtx{}, "one", 2); !HasCode(err, ErrCodeStateTypeMismatch) {
		t.Errorf("Expected %s, got %v", ErrCodeStateTypeMismatch, err)
	}
	if item.StateType().Kind().String() != "int" {
		t.Errorf("Unexpected state type %s", item.StateType())
	}

	check, err := item.ApplyCheck(0)
	if err != nil || check.Required {
		t.Errorf("Expected ExecNotRequired for zero diff, got %s, %v", check, err)
	}

	if _, ok := Unerase[int, int](item); !ok {
		t.Error("Expected Unerase to recover the typed item")
	}
}

func TestStateEq(t *testing.T) {
	item := Erase[int, int](newTestItem("web", 1, 2))

	if eq, err := StateEq(item, 3, 3); err != nil || !eq {
		t.Errorf("StateEq(3, 3) = %v, %v", eq, err)
	}
	if eq, err := StateEq(item, 3, 4); err != nil || eq {
		t.Errorf("StateEq(3, 4) = %v, %v", eq, err)
	}
	if _, err := StateEq(item, 3, "3"); !HasCode(err, ErrCodeStateTypeMismatch) {
		t.Errorf("Expected %s, got %v", ErrCodeStateTypeMismatch, err)
	}
}
