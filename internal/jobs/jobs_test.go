package jobs

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crazyscot/disorder/internal/reactor"
)

func runReactor(t *testing.T) *reactor.Reactor {
	t.Helper()
	r := reactor.New()
	go r.Run()
	t.Cleanup(r.Stop)
	return r
}

func TestSubmitRunsCommandAndDeliversResultOnReactor(t *testing.T) {
	r := runReactor(t)
	rn := NewRunner(r, nil, 2)

	var mu sync.Mutex
	var got Result
	done := make(chan struct{})

	rn.Submit(Spec{Kind: KindStats, Command: "/bin/echo", Args: []string{"hello"}}, func(res Result) {
		mu.Lock()
		got = res
		mu.Unlock()
		close(done)
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not complete in time")
	}

	mu.Lock()
	defer mu.Unlock()
	require.NoError(t, got.Err)
	assert.Equal(t, KindStats, got.Kind)
	assert.Contains(t, got.Stdout, "hello")
}

func TestSubmitWithoutCommandReportsError(t *testing.T) {
	r := runReactor(t)
	rn := NewRunner(r, nil, 1)

	done := make(chan Result, 1)
	rn.Submit(Spec{Kind: KindRescan}, func(res Result) { done <- res })

	select {
	case res := <-done:
		assert.ErrorIs(t, res.Err, errNoCommand)
	case <-time.After(time.Second):
		t.Fatal("expected immediate error result")
	}
}

func TestRunnerRespectsConcurrencyLimit(t *testing.T) {
	r := runReactor(t)
	rn := NewRunner(r, nil, 1)

	var wg sync.WaitGroup
	wg.Add(3)
	for i := 0; i < 3; i++ {
		rn.Submit(Spec{Kind: KindStats, Command: "/bin/sleep", Args: []string{"0"}}, func(Result) { wg.Done() })
	}
	wg.Wait()
	assert.Equal(t, 0, rn.Active())
}
