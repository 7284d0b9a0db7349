package entity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/kailas-cloud/silo/internal/domain"
	domentity "github.com/kailas-cloud/silo/internal/domain/entity"
)

const (
	collJobMeta       = "job_metadata"
	jobsCollPrefix    = "jobs_"
	currentSnapshotID = "current"
)

// JobsCollection names the collection holding one job generation.
func JobsCollection(generation string) string {
	return jobsCollPrefix + generation
}

// CurrentJobSnapshot returns the generation being served.
// A missing pointer yields a zero snapshot, which is always stale.
func (r *Repo) CurrentJobSnapshot(ctx context.Context) (domentity.JobSnapshot, error) {
	var doc jobMetaDoc
	err := r.db.Collection(collJobMeta).FindOne(ctx, bson.M{"_id": currentSnapshotID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domentity.JobSnapshot{}, nil
	}
	if err != nil {
		return domentity.JobSnapshot{}, storeErr("find job snapshot", err)
	}
	return domentity.JobSnapshot{
		Collection: doc.Collection,
		Generation: doc.Generation,
		LastFetch:  doc.LastFetch,
	}, nil
}

// InsertJobs stages postings into the generation collection.
// Duplicate job ids keep their first occurrence.
func (r *Repo) InsertJobs(ctx context.Context, generation string, jobs []*domentity.Job) (int, error) {
	docs := make([]any, 0, len(jobs))
	seen := make(map[string]struct{}, len(jobs))
	for _, j := range jobs {
		if j.JobID == "" {
			continue
		}
		if _, dup := seen[j.JobID]; dup {
			continue
		}
		seen[j.JobID] = struct{}{}
		docs = append(docs, jobDocFrom(j))
	}
	if len(docs) == 0 {
		return 0, nil
	}

	if _, err := r.db.Collection(JobsCollection(generation)).InsertMany(ctx, docs); err != nil {
		return 0, storeErr("insert jobs", err)
	}
	return len(docs), nil
}

// SwapJobSnapshot atomically points the current snapshot at generation.
func (r *Repo) SwapJobSnapshot(ctx context.Context, generation string, fetchedAt time.Time) (domentity.JobSnapshot, error) {
	snap := domentity.JobSnapshot{
		Collection: JobsCollection(generation),
		Generation: generation,
		LastFetch:  fetchedAt.UTC(),
	}
	update := bson.M{"$set": bson.M{
		"collection": snap.Collection,
		"generation": snap.Generation,
		"last_fetch": snap.LastFetch,
	}}

	_, err := r.db.Collection(collJobMeta).UpdateOne(ctx,
		bson.M{"_id": currentSnapshotID}, update, options.Update().SetUpsert(true))
	if err != nil {
		return domentity.JobSnapshot{}, storeErr("swap job snapshot", err)
	}
	return snap, nil
}

// DropJobs drops a generation collection. Dropping a missing collection succeeds.
func (r *Repo) DropJobs(ctx context.Context, generation string) error {
	if generation == "" {
		return domain.Validationf("generation is required")
	}
	if err := r.db.Collection(JobsCollection(generation)).Drop(ctx); err != nil {
		return storeErr(fmt.Sprintf("drop %s", JobsCollection(generation)), err)
	}
	return nil
}

// GetJobs loads jobs of a generation in the order of ids, skipping missing ones.
func (r *Repo) GetJobs(ctx context.Context, generation string, ids []string) ([]domentity.Entity, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	docs, err := findByIDs(ctx, r.db.Collection(JobsCollection(generation)), ids, func(d *jobDoc) string { return d.ID })
	if err != nil {
		return nil, storeErr("find jobs", err)
	}
	return inOrder(ids, docs, func(d *jobDoc) domentity.Entity { return d.toDomain() }), nil
}
