package entity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/kailas-cloud/silo/internal/domain"
	domentity "github.com/kailas-cloud/silo/internal/domain/entity"
)

const (
	collUsers    = "users"
	collProjects = "projects"
	collResearch = "research"

	fieldEmbedded = "embedding_processed"
)

// keywordFields are the user fields scanned by keyword search.
var keywordFields = []string{"skills", "technologies", "qualifications", "biography"}

// Repo is the MongoDB-backed entity store.
type Repo struct {
	db *mongo.Database
}

// New creates an entity repository over db.
func New(db *mongo.Database) *Repo {
	return &Repo{db: db}
}

// GetUser loads a user by hex id.
func (r *Repo) GetUser(ctx context.Context, id string) (*domentity.User, error) {
	oid, err := objectID(id)
	if err != nil {
		return nil, err
	}

	var doc userDoc
	err = r.db.Collection(collUsers).FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("user %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, storeErr("find user", err)
	}
	return doc.toDomain(), nil
}

// GetMany loads entities of kind in the order of ids.
// Ids without a document are skipped. Jobs live per generation, see GetJobs.
func (r *Repo) GetMany(ctx context.Context, kind domentity.Kind, ids []string) ([]domentity.Entity, error) {
	oids := objectIDs(ids)
	if len(oids) == 0 {
		return nil, nil
	}

	switch kind {
	case domentity.KindUser:
		docs, err := findByIDs(ctx, r.db.Collection(collUsers), oids, func(d *userDoc) string { return d.ID.Hex() })
		if err != nil {
			return nil, storeErr("find users", err)
		}
		return inOrder(ids, docs, func(d *userDoc) domentity.Entity { return d.toDomain() }), nil
	case domentity.KindProject:
		docs, err := findByIDs(ctx, r.db.Collection(collProjects), oids, func(d *projectDoc) string { return d.ID.Hex() })
		if err != nil {
			return nil, storeErr("find projects", err)
		}
		return inOrder(ids, docs, func(d *projectDoc) domentity.Entity { return d.toDomain() }), nil
	case domentity.KindResearch:
		docs, err := findByIDs(ctx, r.db.Collection(collResearch), oids, func(d *paperDoc) string { return d.ID.Hex() })
		if err != nil {
			return nil, storeErr("find research", err)
		}
		return inOrder(ids, docs, func(d *paperDoc) domentity.Entity { return d.toDomain() }), nil
	default:
		return nil, domain.Validationf("kind %q is not stored by id", kind)
	}
}

// KeywordSearch scans users for case-insensitive keyword matches in
// skills, technologies, qualifications and biography.
// limit <= 0 means unlimited.
func (r *Repo) KeywordSearch(ctx context.Context, keywords []string, limit int) ([]domentity.KeywordHit, error) {
	kws := normalizeKeywords(keywords)
	if len(kws) == 0 {
		return nil, nil
	}

	or := make(bson.A, 0, len(kws)*len(keywordFields))
	matchers := make([]*regexp.Regexp, len(kws))
	for i, kw := range kws {
		pattern := regexp.QuoteMeta(kw)
		matchers[i] = regexp.MustCompile("(?i)" + pattern)
		for _, f := range keywordFields {
			or = append(or, bson.M{f: primitive.Regex{Pattern: pattern, Options: "i"}})
		}
	}

	projection := bson.M{"_id": 1}
	for _, f := range keywordFields {
		projection[f] = 1
	}
	opts := options.Find().SetProjection(projection)
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cur, err := r.db.Collection(collUsers).Find(ctx, bson.M{"$or": or}, opts)
	if err != nil {
		return nil, storeErr("keyword search", err)
	}
	var docs []userDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, storeErr("keyword search decode", err)
	}

	hits := make([]domentity.KeywordHit, 0, len(docs))
	for i := range docs {
		n := countMatches(&docs[i], matchers)
		if n == 0 {
			// the server matched under its own case folding
			n = 1
		}
		hits = append(hits, domentity.KeywordHit{ID: docs[i].ID.Hex(), Matches: n})
	}
	return hits, nil
}

// UpsertUser writes the modeled profile fields, leaving any other fields untouched.
func (r *Repo) UpsertUser(ctx context.Context, u *domentity.User) error {
	oid, err := objectID(u.UserID)
	if err != nil {
		return err
	}
	doc := userDocFrom(oid, u)
	update := bson.M{"$set": bson.M{
		"username":       doc.Username,
		"email":          doc.Email,
		"user_type":      doc.UserType,
		"biography":      doc.Biography,
		"skills":         doc.Skills,
		"interests":      doc.Interests,
		"technologies":   doc.Technologies,
		"qualifications": doc.Qualifications,
	}}

	_, err = r.db.Collection(collUsers).UpdateOne(ctx, bson.M{"_id": oid}, update, options.Update().SetUpsert(true))
	if err != nil {
		return storeErr("upsert user", err)
	}
	return nil
}

// UpsertProject writes a project. created_at is set on insert only and
// updated_at on every write. Other fields (links, layers, upvotes, comments)
// are left untouched.
func (r *Repo) UpsertProject(ctx context.Context, p *domentity.Project) error {
	oid, err := objectID(p.ProjectID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	set := bson.M{
		"projectName":        p.Name,
		"projectDescription": p.Description,
		"tags":               nonNil(p.Tags),
		"updated_at":         now,
	}
	if p.OwnerID != "" {
		set["createdBy"] = p.OwnerID
	}
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	update := bson.M{
		"$set":         set,
		"$setOnInsert": bson.M{"created_at": createdAt},
	}

	_, err = r.db.Collection(collProjects).UpdateOne(ctx, bson.M{"_id": oid}, update, options.Update().SetUpsert(true))
	if err != nil {
		return storeErr("upsert project", err)
	}
	return nil
}

// DeleteProject removes a project. A missing project is ErrNotFound.
func (r *Repo) DeleteProject(ctx context.Context, id string) error {
	oid, err := objectID(id)
	if err != nil {
		return err
	}
	res, err := r.db.Collection(collProjects).DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return storeErr("delete project", err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("project %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// ScanForEmbedding streams the entities of kind whose vectors backfill must
// build, in batches of batchSize: every user and project, and the research
// papers not yet marked embedded. An error from fn stops the scan and is
// returned unchanged.
func (r *Repo) ScanForEmbedding(
	ctx context.Context,
	kind domentity.Kind,
	batchSize int,
	fn func([]domentity.Entity) error,
) error {
	if batchSize <= 0 {
		return domain.Validationf("batch size must be positive")
	}
	filter := bson.M{}
	var coll string
	switch kind {
	case domentity.KindUser:
		coll = collUsers
	case domentity.KindProject:
		coll = collProjects
	case domentity.KindResearch:
		coll = collResearch
		filter[fieldEmbedded] = bson.M{"$ne": true}
	default:
		return domain.Validationf("kind %q is not scanned", kind)
	}

	cur, err := r.db.Collection(coll).Find(ctx, filter, options.Find().SetBatchSize(int32(batchSize)))
	if err != nil {
		return storeErr("scan "+coll, err)
	}
	defer func() { _ = cur.Close(context.WithoutCancel(ctx)) }()

	batch := make([]domentity.Entity, 0, batchSize)
	for cur.Next(ctx) {
		e, err := decodeEntity(kind, cur)
		if err != nil {
			return storeErr("scan "+coll+" decode", err)
		}
		batch = append(batch, e)
		if len(batch) < batchSize {
			continue
		}
		if err := fn(batch); err != nil {
			return err //nolint:wrapcheck // fn errors pass through
		}
		batch = make([]domentity.Entity, 0, batchSize)
	}
	if err := cur.Err(); err != nil {
		return storeErr("scan "+coll, err)
	}
	if len(batch) > 0 {
		return fn(batch)
	}
	return nil
}

// MarkEmbedded flags research papers as embedded so later backfills skip them.
// Users and projects are always rescanned; for them it is a no-op.
func (r *Repo) MarkEmbedded(ctx context.Context, kind domentity.Kind, ids []string) error {
	if kind != domentity.KindResearch {
		return nil
	}
	oids := objectIDs(ids)
	if len(oids) == 0 {
		return nil
	}
	_, err := r.db.Collection(collResearch).UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": oids}},
		bson.M{"$set": bson.M{fieldEmbedded: true}},
	)
	if err != nil {
		return storeErr("mark research embedded", err)
	}
	return nil
}

func decodeEntity(kind domentity.Kind, cur *mongo.Cursor) (domentity.Entity, error) {
	switch kind {
	case domentity.KindUser:
		var d userDoc
		if err := cur.Decode(&d); err != nil {
			return nil, err //nolint:wrapcheck // wrapped by caller
		}
		return d.toDomain(), nil
	case domentity.KindProject:
		var d projectDoc
		if err := cur.Decode(&d); err != nil {
			return nil, err //nolint:wrapcheck // wrapped by caller
		}
		return d.toDomain(), nil
	default:
		var d paperDoc
		if err := cur.Decode(&d); err != nil {
			return nil, err //nolint:wrapcheck // wrapped by caller
		}
		return d.toDomain(), nil
	}
}

func findByIDs[D any](ctx context.Context, coll *mongo.Collection, ids any, key func(*D) string) (map[string]*D, error) {
	cur, err := coll.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, err //nolint:wrapcheck // wrapped by caller
	}
	var docs []D
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err //nolint:wrapcheck // wrapped by caller
	}
	out := make(map[string]*D, len(docs))
	for i := range docs {
		out[key(&docs[i])] = &docs[i]
	}
	return out, nil
}

func inOrder[D any](ids []string, docs map[string]*D, conv func(*D) domentity.Entity) []domentity.Entity {
	out := make([]domentity.Entity, 0, len(docs))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if d, ok := docs[id]; ok {
			out = append(out, conv(d))
		}
	}
	return out
}

func countMatches(d *userDoc, matchers []*regexp.Regexp) int {
	n := 0
	for _, m := range matchers {
		if m.MatchString(d.Biography) ||
			anyMatch(m, d.Skills) || anyMatch(m, d.Technologies) || anyMatch(m, d.Qualifications) {
			n++
		}
	}
	return n
}

func anyMatch(m *regexp.Regexp, values []string) bool {
	for _, v := range values {
		if m.MatchString(v) {
			return true
		}
	}
	return false
}

// normalizeKeywords trims, drops empties and dedupes case-insensitively.
func normalizeKeywords(keywords []string) []string {
	out := make([]string, 0, len(keywords))
	seen := make(map[string]struct{}, len(keywords))
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		k := strings.ToLower(kw)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, kw)
	}
	return out
}

func objectID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, domain.Validationf("invalid id %q", id)
	}
	return oid, nil
}

// objectIDs parses ids, skipping malformed ones.
func objectIDs(ids []string) []primitive.ObjectID {
	out := make([]primitive.ObjectID, 0, len(ids))
	for _, id := range ids {
		if oid, err := primitive.ObjectIDFromHex(id); err == nil {
			out = append(out, oid)
		}
	}
	return out
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStore, err)
}
