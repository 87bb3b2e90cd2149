package sessions_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ggoodman/topicbridge/sessions"
	"github.com/ggoodman/topicbridge/transport"
	"github.com/ggoodman/topicbridge/transport/memorytransport"
)

func countingRegistry(t *testing.T) (*sessions.Registry, *atomic.Int32, *[]string) {
	t.Helper()
	network := memorytransport.NewNetwork(8)
	var opened atomic.Int32
	var mu sync.Mutex
	paths := []string{}
	r := sessions.NewRegistry(func(ctx context.Context, configPath string) (transport.Session, error) {
		opened.Add(1)
		mu.Lock()
		paths = append(paths, configPath)
		mu.Unlock()
		return network.Open(), nil
	})
	return r, &opened, &paths
}

func TestGetOrCreateSameGroupSameSession(t *testing.T) {
	r, opened, _ := countingRegistry(t)
	ctx := context.Background()

	a, err := r.GetOrCreate(ctx, "g", "")
	if err != nil {
		t.Fatal(err)
	}
	b, err := r.GetOrCreate(ctx, "g", "")
	if err != nil {
		t.Fatal(err)
	}
	if a.ID() != b.ID() {
		t.Fatalf("expected identical sessions, got %s and %s", a.ID(), b.ID())
	}
	if opened.Load() != 1 {
		t.Fatalf("expected one open, got %d", opened.Load())
	}
}

func TestGetOrCreateDistinctGroups(t *testing.T) {
	r, _, _ := countingRegistry(t)
	ctx := context.Background()

	a, err := r.GetOrCreate(ctx, "g1", "")
	if err != nil {
		t.Fatal(err)
	}
	b, err := r.GetOrCreate(ctx, "g2", "")
	if err != nil {
		t.Fatal(err)
	}
	if a.ID() == b.ID() {
		t.Fatalf("distinct groups share session %s", a.ID())
	}
	if got := r.Groups(); len(got) != 2 || got[0] != "g1" || got[1] != "g2" {
		t.Fatalf("unexpected groups %v", got)
	}
}

func TestGetOrCreateIgnoresLaterConfigPath(t *testing.T) {
	r, _, paths := countingRegistry(t)
	ctx := context.Background()

	if _, err := r.GetOrCreate(ctx, "pinned", "/etc/first.yaml"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.GetOrCreate(ctx, "pinned", "/etc/second.yaml"); err != nil {
		t.Fatal(err)
	}
	if len(*paths) != 1 || (*paths)[0] != "/etc/first.yaml" {
		t.Fatalf("expected only the first config path to be used, got %v", *paths)
	}
}

func TestGetOrCreateConcurrentCreatesOnce(t *testing.T) {
	r, opened, _ := countingRegistry(t)
	ctx := context.Background()

	const n = 32
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := r.GetOrCreate(ctx, "race", "")
			if err != nil {
				t.Errorf("get: %v", err)
				return
			}
			ids[i] = s.ID()
		}()
	}
	wg.Wait()

	if opened.Load() != 1 {
		t.Fatalf("expected exactly one session opened, got %d", opened.Load())
	}
	for i := 1; i < n; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("caller %d got %s, caller 0 got %s", i, ids[i], ids[0])
		}
	}
}

func TestGetOrCreateErrors(t *testing.T) {
	r, _, _ := countingRegistry(t)
	if _, err := r.GetOrCreate(context.Background(), "", ""); !errors.Is(err, sessions.ErrEmptyGroup) {
		t.Fatalf("expected ErrEmptyGroup, got %v", err)
	}

	boom := errors.New("boom")
	failing := sessions.NewRegistry(func(context.Context, string) (transport.Session, error) { return nil, boom })
	if _, err := failing.GetOrCreate(context.Background(), "g", ""); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped open error, got %v", err)
	}
	if failing.Len() != 0 {
		t.Fatal("failed open must not be cached")
	}
}

func TestOpenPrivateIsNotCached(t *testing.T) {
	r, opened, _ := countingRegistry(t)
	a, err := r.OpenPrivate(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	b, err := r.OpenPrivate(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if a.ID() == b.ID() || opened.Load() != 2 || r.Len() != 0 {
		t.Fatalf("private sessions must be distinct and uncached")
	}
}

func TestDefaultRegistryUsesMemoryDriver(t *testing.T) {
	t.Setenv("TOPICBRIDGE_DRIVER", "memory")
	s, err := sessions.Default().GetOrCreate(context.Background(), "sessions-test-"+t.Name(), "")
	if err != nil {
		t.Fatal(err)
	}
	again, _ := sessions.Default().GetOrCreate(context.Background(), "sessions-test-"+t.Name(), "")
	if s.ID() != again.ID() {
		t.Fatal("default registry did not cache")
	}
}
