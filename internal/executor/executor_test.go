package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/notebookd/internal/kernel"
	"github.com/danmuck/notebookd/internal/notebook"
	"github.com/danmuck/notebookd/internal/reconcile"
	"github.com/danmuck/notebookd/internal/testutil/testlog"
)

func connectedExecutor(t *testing.T, script kernel.Script) (*Executor, *notebook.Store, *kernel.Fake) {
	t.Helper()
	store := notebook.NewStore()
	fake := kernel.NewFake("fake-1", script)
	e := New(store, kernel.ConnectorFunc(func(ctx context.Context) (kernel.Kernel, error) {
		return fake, nil
	}))
	if err := e.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return e, store, fake
}

func TestExecuteAppendsReconciledOutput(t *testing.T) {
	testlog.Start(t)
	e, store, fake := connectedExecutor(t, func(count int, code string) []kernel.Message {
		return []kernel.Message{
			kernel.StatusMessage("busy"),
			kernel.StreamMessage("stdout", "hello\n"),
			kernel.ExecuteInputMessage(3, code),
			kernel.StreamMessage("stdout", "world\n"),
			kernel.StatusMessage("idle"),
		}
	})
	cell := store.AddCell("print('hello'); print('world')")

	summary, err := e.Execute(context.Background(), cell.ID)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if summary.RunIndex != 3 || summary.Emitted != 2 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	got, _ := store.Cell(cell.ID)
	if got.Active {
		t.Fatalf("cell still active after completion")
	}
	if len(got.Output) != 2 || got.Output[0].Text != "hello\n" || got.Output[1].Text != "world\n" {
		t.Fatalf("unexpected output: %+v", got.Output)
	}
	for i, rec := range got.Output {
		if rec.RunIndex != 3 || rec.OutputIndex != i {
			t.Fatalf("unexpected record %d: %+v", i, rec)
		}
	}
	if subs := fake.Submissions(); len(subs) != 1 || subs[0] != cell.Code {
		t.Fatalf("unexpected submissions: %v", subs)
	}
}

func TestExecuteWithoutKernel(t *testing.T) {
	testlog.Start(t)
	store := notebook.NewStore()
	e := New(store, kernel.ConnectorFunc(func(ctx context.Context) (kernel.Kernel, error) {
		return nil, kernel.ErrConnect
	}))
	cell := store.AddCell("1")
	if _, err := e.Execute(context.Background(), cell.ID); !errors.Is(err, ErrNoKernel) {
		t.Fatalf("expected no kernel error, got %v", err)
	}
	got, _ := store.Cell(cell.ID)
	if got.Active {
		t.Fatalf("cell must not be marked active without a kernel")
	}
}

func TestConnectFailureIsRecorded(t *testing.T) {
	testlog.Start(t)
	store := notebook.NewStore()
	attempts := 0
	e := New(store, kernel.ConnectorFunc(func(ctx context.Context) (kernel.Kernel, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.New("jupyter server unreachable")
		}
		return kernel.NewFake("fake-2", nil), nil
	}))

	if err := e.Connect(context.Background()); err == nil {
		t.Fatalf("expected first connect to fail")
	}
	st := store.Connection()
	if st.Status != notebook.StatusFailed || st.Error != "jupyter server unreachable" {
		t.Fatalf("unexpected state: %+v", st)
	}

	if err := e.Connect(context.Background()); err != nil {
		t.Fatalf("retry connect: %v", err)
	}
	if st := store.Connection(); st.Status != notebook.StatusConnected || st.KernelID != "fake-2" {
		t.Fatalf("unexpected state after retry: %+v", st)
	}
}

func TestStartRejectsRetriggerWhileActive(t *testing.T) {
	testlog.Start(t)
	e, store, fake := connectedExecutor(t, nil)
	fake.Delay = 20 * time.Millisecond
	cell := store.AddCell("x")

	if err := e.Start(context.Background(), cell.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := e.Start(context.Background(), cell.ID); !errors.Is(err, notebook.ErrCellActive) {
		t.Fatalf("expected active error, got %v", err)
	}
	e.Wait()

	got, _ := store.Cell(cell.ID)
	if got.Active {
		t.Fatalf("cell still active")
	}
	if len(got.Output) != 1 || got.Output[0].Text != "x" || got.Output[0].RunIndex != 1 {
		t.Fatalf("unexpected output: %+v", got.Output)
	}
}

func TestCellsExecuteIndependently(t *testing.T) {
	testlog.Start(t)
	e, store, fake := connectedExecutor(t, nil)
	fake.Delay = 5 * time.Millisecond
	a := store.AddCell("a")
	b := store.AddCell("b")
	if err := e.Start(context.Background(), a.ID); err != nil {
		t.Fatalf("start a: %v", err)
	}
	if err := e.Start(context.Background(), b.ID); err != nil {
		t.Fatalf("start b: %v", err)
	}
	e.Wait()
	for _, id := range []string{a.ID, b.ID} {
		cell, _ := store.Cell(id)
		if len(cell.Output) != 1 || cell.Output[0].Text != cell.Code {
			t.Fatalf("unexpected output for %s: %+v", id, cell.Output)
		}
	}
}

func TestExecuteDropsOutputWithoutRunCount(t *testing.T) {
	testlog.Start(t)
	e, store, _ := connectedExecutor(t, func(count int, code string) []kernel.Message {
		return []kernel.Message{kernel.StreamMessage("stdout", "x")}
	})
	cell := store.AddCell("print('x')")
	summary, err := e.Execute(context.Background(), cell.ID)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if summary.Dropped != 1 || summary.Emitted != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	got, _ := store.Cell(cell.ID)
	if len(got.Output) != 0 || got.Active {
		t.Fatalf("unexpected cell: %+v", got)
	}
}

func TestSubmitOnClosedKernelDropsConnection(t *testing.T) {
	testlog.Start(t)
	e, store, fake := connectedExecutor(t, nil)
	_ = fake.Close()
	cell := store.AddCell("1")

	if _, err := e.Execute(context.Background(), cell.ID); !errors.Is(err, kernel.ErrClosed) {
		t.Fatalf("expected closed error, got %v", err)
	}
	if _, ok := e.Kernel(); ok {
		t.Fatalf("closed kernel should be forgotten")
	}
	if st := store.Connection(); st.Status != notebook.StatusDisconnected {
		t.Fatalf("unexpected state: %+v", st)
	}
	got, _ := store.Cell(cell.ID)
	if got.Active {
		t.Fatalf("cell must be inactive after a failed submit")
	}
}

func TestDisplayOutputIsAppended(t *testing.T) {
	testlog.Start(t)
	e, store, _ := connectedExecutor(t, func(count int, code string) []kernel.Message {
		return []kernel.Message{
			kernel.ExecuteInputMessage(7, code),
			kernel.DisplayDataMessage(map[string]string{"text/plain": "<Figure>", "image/png": "iVBORw0KGgo="}),
		}
	})
	cell := store.AddCell("plot()")
	if _, err := e.Execute(context.Background(), cell.ID); err != nil {
		t.Fatalf("execute: %v", err)
	}
	got, _ := store.Cell(cell.ID)
	if len(got.Output) != 1 {
		t.Fatalf("unexpected output: %+v", got.Output)
	}
	rec := got.Output[0]
	if rec.Kind != reconcile.KindDisplay || rec.Image != "iVBORw0KGgo=" || rec.Text != "<Figure>" || rec.RunIndex != 7 {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestFailedReconnectDropsPreviousKernel(t *testing.T) {
	testlog.Start(t)
	store := notebook.NewStore()
	fake := kernel.NewFake("fake-1", nil)
	attempts := 0
	e := New(store, kernel.ConnectorFunc(func(ctx context.Context) (kernel.Kernel, error) {
		attempts++
		if attempts == 1 {
			return fake, nil
		}
		return nil, errors.New("jupyter down")
	}))
	if err := e.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := e.Connect(context.Background()); err == nil {
		t.Fatalf("expected reconnect to fail")
	}

	if st := store.Connection(); st.Status != notebook.StatusFailed || st.Error != "jupyter down" {
		t.Fatalf("unexpected state: %+v", st)
	}
	if _, ok := e.Kernel(); ok {
		t.Fatalf("failed reconnect must not keep the previous kernel")
	}
	cell := store.AddCell("1")
	if err := e.Start(context.Background(), cell.ID); !errors.Is(err, ErrNoKernel) {
		t.Fatalf("expected no kernel error, got %v", err)
	}
	if _, err := fake.Submit(context.Background(), "1"); !errors.Is(err, kernel.ErrClosed) {
		t.Fatalf("previous kernel should be closed, got %v", err)
	}
}
