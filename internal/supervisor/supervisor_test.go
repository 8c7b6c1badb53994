package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/koshedutech/oracle-worker/internal/oraclerr"
)

func TestRun_OneTaskErrors_CancelsAndReturnsThatError(t *testing.T) {
	wantErr := errors.New("boom")
	blocked := Task{Name: "blocked", Run: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	failing := Task{Name: "failing", Run: func(ctx context.Context) error {
		return wantErr
	}}

	err := Run(context.Background(), zerolog.Nop(), blocked, failing)
	require.ErrorIs(t, err, wantErr)
}

func TestRun_TaskReturnsNilWithoutShutdown_IsTreatedAsFatal(t *testing.T) {
	blocked := Task{Name: "blocked", Run: func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	}}
	quits := Task{Name: "quits", Run: func(ctx context.Context) error {
		return nil
	}}

	err := Run(context.Background(), zerolog.Nop(), blocked, quits)
	require.ErrorIs(t, err, oraclerr.ErrSubsystemExited)
}

func TestRun_ContextCanceledExternally_AllTasksExitCleanly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	task := Task{Name: "cooperative", Run: func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	}}

	done := make(chan error, 1)
	go func() { done <- Run(ctx, zerolog.Nop(), task, task) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("supervisor did not shut down after cancellation")
	}
}
