package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kailas-cloud/silo/internal/domain"
	"github.com/kailas-cloud/silo/internal/domain/entity"
)

const oldGen = "20261018T000000000Z"

func TestSearchJobs_FreshSnapshotSkipsBoard(t *testing.T) {
	f := newFixture()
	f.seedGeneration(oldGen, testNow.Add(-time.Hour))

	got, err := f.service().SearchJobs(context.Background(), "u1", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.board.callCount() != 0 {
		t.Errorf("fresh snapshot must not hit the job board, got %d calls", f.board.callCount())
	}
	if len(got) != 1 {
		t.Errorf("expected recommender results, got %d", len(got))
	}
	req := f.rec.reqs[0]
	if req.Target != entity.KindJob || req.Generation != oldGen || req.TopK != 5 || req.RequesterID != "u1" {
		t.Errorf("unexpected recommend request: %+v", req)
	}
}

func TestSearchJobs_StaleSnapshotRefreshes(t *testing.T) {
	f := newFixture()
	f.seedGeneration(oldGen, testNow.Add(-25*time.Hour))

	if _, err := f.service().SearchJobs(context.Background(), "u1", 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.board.callCount() != 1 {
		t.Fatalf("stale snapshot must hit the job board once, got %d", f.board.callCount())
	}

	newGen := generationID(testNow)
	if f.store.snap.Generation != newGen || !f.store.snap.LastFetch.Equal(testNow) {
		t.Errorf("snapshot not swapped: %+v", f.store.snap)
	}
	if len(f.store.collections[newGen]) != 2 {
		t.Errorf("expected 2 staged jobs, got %d", len(f.store.collections[newGen]))
	}
	if f.vectors.countGeneration(newGen) != 2 {
		t.Errorf("expected 2 vectors for the new generation, got %d", f.vectors.countGeneration(newGen))
	}
	md := f.vectors.data[JobVectorID(newGen, "j1")]
	if md.EntityID != "j1" || md.Type != entity.KindJob || md.Label != "Go Engineer" {
		t.Errorf("unexpected job metadata: %+v", md)
	}

	if f.vectors.countGeneration(oldGen) != 0 {
		t.Error("previous generation vectors should be purged")
	}
	if _, ok := f.store.collections[oldGen]; ok {
		t.Error("previous generation collection should be dropped")
	}
	if f.rec.reqs[0].Generation != newGen {
		t.Errorf("search must use the new generation, got %s", f.rec.reqs[0].Generation)
	}
}

func TestSearchJobs_ColdStartRefreshes(t *testing.T) {
	f := newFixture()

	if _, err := f.service().SearchJobs(context.Background(), "u1", 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.board.callCount() != 1 || f.store.snap.Generation == "" {
		t.Errorf("expected an initial refresh, snapshot=%+v", f.store.snap)
	}
	if len(f.store.dropped) != 0 {
		t.Errorf("nothing to purge on cold start, dropped %v", f.store.dropped)
	}
}

func TestSearchJobs_FetchFailureKeepsPreviousGeneration(t *testing.T) {
	f := newFixture()
	f.seedGeneration(oldGen, testNow.Add(-48*time.Hour))
	f.board.err = fmt.Errorf("status 502: %w", domain.ErrJobBoard)

	_, err := f.service().SearchJobs(context.Background(), "u1", 5)
	if err != nil {
		t.Fatalf("stale data should still be served: %v", err)
	}
	if f.store.snap.Generation != oldGen {
		t.Errorf("snapshot must be unchanged, got %+v", f.store.snap)
	}
	if f.vectors.countGeneration(oldGen) != 1 || len(f.store.collections[oldGen]) != 1 {
		t.Error("previous generation must stay intact")
	}
	if f.rec.reqs[0].Generation != oldGen {
		t.Errorf("expected search on the previous generation, got %s", f.rec.reqs[0].Generation)
	}
}

func TestSearchJobs_FetchFailureWithoutPrevious(t *testing.T) {
	f := newFixture()
	f.board.err = fmt.Errorf("timeout: %w", domain.ErrJobBoard)

	_, err := f.service().SearchJobs(context.Background(), "u1", 5)
	if !errors.Is(err, domain.ErrJobBoard) {
		t.Fatalf("expected ErrJobBoard, got %v", err)
	}
	if len(f.rec.reqs) != 0 {
		t.Error("nothing to search without a generation")
	}
}

func TestRefresh_IndexFailureRollsBack(t *testing.T) {
	f := newFixture()
	f.seedGeneration(oldGen, testNow.Add(-48*time.Hour))
	f.vectors.failAfter = 2 // the seeded vector plus one new one
	f.vectors.indexErr = fmt.Errorf("embed: %w", domain.ErrProvider)

	_, err := f.service().Refresh(context.Background())
	if !errors.Is(err, domain.ErrProvider) {
		t.Fatalf("expected ErrProvider, got %v", err)
	}

	newGen := generationID(testNow)
	if f.store.snap.Generation != oldGen {
		t.Errorf("snapshot must not swap on failure, got %s", f.store.snap.Generation)
	}
	if _, ok := f.store.collections[newGen]; ok {
		t.Error("staged collection must be dropped")
	}
	if f.vectors.countGeneration(newGen) != 0 {
		t.Error("staged vectors must be purged")
	}
	if f.vectors.countGeneration(oldGen) != 1 {
		t.Error("previous generation vectors must survive")
	}
}

func TestRefresh_SkipsJobsWithoutText(t *testing.T) {
	f := newFixture()
	f.board.jobs = append(f.board.jobs, &entity.Job{JobID: "blank"})

	snap, err := f.service().Refresh(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.vectors.countGeneration(snap.Generation) != 2 {
		t.Errorf("expected 2 vectors, got %d", f.vectors.countGeneration(snap.Generation))
	}
	if len(f.store.collections[snap.Generation]) != 3 {
		t.Errorf("all postings are stored, got %d", len(f.store.collections[snap.Generation]))
	}
}

func TestRefresh_SwapFailureRollsBack(t *testing.T) {
	f := newFixture()
	f.seedGeneration(oldGen, testNow.Add(-48*time.Hour))
	f.store.swapErr = fmt.Errorf("write: %w", domain.ErrStore)

	if _, err := f.service().Refresh(context.Background()); !errors.Is(err, domain.ErrStore) {
		t.Fatalf("expected ErrStore, got %v", err)
	}
	newGen := generationID(testNow)
	if f.vectors.countGeneration(newGen) != 0 || len(f.store.collections[newGen]) != 0 {
		t.Error("staged generation must be removed")
	}
	if len(f.store.collections[oldGen]) != 1 {
		t.Error("previous generation must stay intact")
	}
}

func TestRefresh_InsertFailure(t *testing.T) {
	f := newFixture()
	f.store.insertErr = fmt.Errorf("insert: %w", domain.ErrStore)

	if _, err := f.service().Refresh(context.Background()); !errors.Is(err, domain.ErrStore) {
		t.Fatalf("expected ErrStore, got %v", err)
	}
	if len(f.vectors.data) != 0 {
		t.Error("no vectors should be indexed after a failed insert")
	}
	if f.store.snap.Generation != "" {
		t.Error("snapshot must stay empty")
	}
}

func TestEnsureFresh_ForceRefresh(t *testing.T) {
	f := newFixture()
	f.cfg.ForceRefresh = true
	f.seedGeneration(oldGen, testNow.Add(-time.Minute))

	snap, err := f.service().EnsureFresh(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.board.callCount() != 1 || snap.Generation == oldGen {
		t.Errorf("force refresh must refetch, snapshot=%+v", snap)
	}
}

func TestEnsureFresh_TTLBoundary(t *testing.T) {
	f := newFixture()
	f.seedGeneration(oldGen, testNow.Add(-24*time.Hour))

	if _, err := f.service().EnsureFresh(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.board.callCount() != 1 {
		t.Error("a snapshot exactly TTL old is stale")
	}
}

func TestRefresh_EmptyBoardKeepsPrevious(t *testing.T) {
	f := newFixture()
	f.seedGeneration(oldGen, testNow.Add(-48*time.Hour))
	f.board.jobs = nil

	snap, err := f.service().Refresh(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Generation != oldGen || !snap.LastFetch.Equal(testNow) {
		t.Errorf("expected restamped previous generation, got %+v", snap)
	}
	if f.vectors.countGeneration(oldGen) != 1 {
		t.Error("previous vectors must be kept")
	}
}

func TestRefresh_GenerationClash(t *testing.T) {
	f := newFixture()
	gen := generationID(testNow)
	f.seedGeneration(gen, testNow.Add(-48*time.Hour))

	_, err := f.service().Refresh(context.Background())
	if !errors.Is(err, ErrGenerationClash) {
		t.Fatalf("expected ErrGenerationClash, got %v", err)
	}
	if f.vectors.countGeneration(gen) != 1 {
		t.Error("current generation must not be touched")
	}
}

func TestRefresh_CoalescesConcurrentCallers(t *testing.T) {
	f := newFixture()
	f.board.started = make(chan struct{}, 1)
	f.board.release = make(chan struct{})
	s := f.service()

	const callers = 5
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	run := func() {
		defer wg.Done()
		_, err := s.Refresh(context.Background())
		errs <- err
	}

	wg.Add(1)
	go run()
	<-f.board.started

	for range callers - 1 {
		wg.Add(1)
		go run()
	}
	time.Sleep(50 * time.Millisecond)
	close(f.board.release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if f.board.callCount() != 1 {
		t.Errorf("expected a single board fetch, got %d", f.board.callCount())
	}
}

func TestStartScheduler(t *testing.T) {
	s := newFixture().service()

	if _, err := s.StartScheduler(context.Background(), "not a schedule"); err == nil {
		t.Fatal("expected an error for an invalid schedule")
	}

	c, err := s.StartScheduler(context.Background(), "@every 1h")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(c.Entries()) != 1 {
		t.Errorf("expected 1 scheduled entry, got %d", len(c.Entries()))
	}
	<-c.Stop().Done()
}

func TestScheduledRefresh(t *testing.T) {
	f := newFixture()
	s := f.service()

	s.scheduledRefresh(context.Background())
	if f.board.callCount() != 1 || f.store.snap.Generation == "" {
		t.Fatalf("expected a refresh on tick, snapshot=%+v", f.store.snap)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.scheduledRefresh(ctx)
	if f.board.callCount() != 1 {
		t.Errorf("tick after shutdown must not refresh, got %d board calls", f.board.callCount())
	}
}

func TestStartScheduler_StopWaitsForRunningRefresh(t *testing.T) {
	f := newFixture()
	f.board.started = make(chan struct{})
	f.board.release = make(chan struct{})

	c, err := f.service().StartScheduler(context.Background(), "@every 1s")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	select {
	case <-f.board.started:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduled refresh did not start")
	}

	stopped := c.Stop()
	select {
	case <-stopped.Done():
		t.Fatal("stop must wait for the running refresh")
	case <-time.After(20 * time.Millisecond):
	}

	close(f.board.release)
	select {
	case <-stopped.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop after the refresh finished")
	}
}

func TestGenerationID(t *testing.T) {
	ts := time.Date(2024, 9, 12, 10, 0, 0, 5*int(time.Millisecond), time.UTC)
	if got := generationID(ts); got != "20240912T100000005Z" {
		t.Errorf("generationID = %q", got)
	}
}

func TestDedupe(t *testing.T) {
	got := dedupe([]*entity.Job{{JobID: "a"}, {JobID: ""}, nil, {JobID: "a"}, {JobID: "b"}})
	if len(got) != 2 || got[0].JobID != "a" || got[1].JobID != "b" {
		t.Errorf("unexpected dedupe result: %+v", got)
	}
}
