package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func TestUserRepositoryCreateAndGet(t *testing.T) {
	coll := newFakeUserCollection(t)
	repo := NewUserRepository(coll)

	ctx := context.Background()
	input := User{
		Username:    "Ama",
		Email:       "ama@x.com",
		DateOfBirth: time.Date(1990, time.March, 5, 0, 0, 0, 0, time.UTC),
	}

	created, err := repo.Create(ctx, input)
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	if created.ID.IsZero() {
		t.Fatalf("expected an identifier to be assigned")
	}
	if created.LastEmailSentYear != nil {
		t.Fatalf("expected last_email_sent_year to be unset, got %d", *created.LastEmailSentYear)
	}
	if created.CreatedAt.IsZero() || !created.CreatedAt.Equal(created.UpdatedAt) {
		t.Fatalf("expected matching timestamps on insert, got created_at=%v updated_at=%v", created.CreatedAt, created.UpdatedAt)
	}

	doc := coll.docFor(t, input.Email)
	assertStringField(t, doc, "username", "Ama")
	assertStringField(t, doc, "email", "ama@x.com")
	assertTimeFieldSet(t, doc, "date_of_birth")
	assertTimeFieldSet(t, doc, "created_at")
	if _, ok := doc["last_email_sent_year"]; ok {
		t.Fatalf("expected last_email_sent_year to be absent, got %v", doc["last_email_sent_year"])
	}

	found, err := repo.GetByEmail(ctx, input.Email)
	if err != nil {
		t.Fatalf("GetByEmail returned error: %v", err)
	}

	if found.ID != created.ID {
		t.Fatalf("expected id %s, got %s", created.ID.Hex(), found.ID.Hex())
	}
	if found.Username != input.Username {
		t.Fatalf("expected username %s, got %s", input.Username, found.Username)
	}
	if !found.DateOfBirth.Equal(input.DateOfBirth) {
		t.Fatalf("expected date_of_birth %v, got %v", input.DateOfBirth, found.DateOfBirth)
	}
}

func TestUserRepositoryCreateMapsDuplicateKey(t *testing.T) {
	coll := newFakeUserCollection(t)
	repo := NewUserRepository(coll)

	ctx := context.Background()
	input := User{Username: "Ama", Email: "ama@x.com", DateOfBirth: time.Date(1990, time.March, 5, 0, 0, 0, 0, time.UTC)}

	if _, err := repo.Create(ctx, input); err != nil {
		t.Fatalf("first Create returned error: %v", err)
	}

	_, err := repo.Create(ctx, input)
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if len(coll.docs) != 1 {
		t.Fatalf("expected exactly one stored user, got %d", len(coll.docs))
	}
}

func TestUserRepositoryCreateWrapsStorageErrors(t *testing.T) {
	coll := newFakeUserCollection(t)
	coll.insertErr = errors.New("connection reset")
	repo := NewUserRepository(coll)

	_, err := repo.Create(context.Background(), User{Username: "Ama", Email: "ama@x.com"})
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
	if !errors.Is(err, coll.insertErr) {
		t.Fatalf("expected underlying error to be preserved, got %v", err)
	}
}

func TestUserRepositoryGetByEmailNotFound(t *testing.T) {
	repo := NewUserRepository(newFakeUserCollection(t))

	_, err := repo.GetByEmail(context.Background(), "nobody@x.com")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUserRepositoryFindBirthdays(t *testing.T) {
	coll := newFakeUserCollection(t)
	repo := NewUserRepository(coll)

	ctx := context.Background()
	for _, email := range []string{"ama@x.com", "kofi@x.com"} {
		if _, err := repo.Create(ctx, User{
			Username:    email,
			Email:       email,
			DateOfBirth: time.Date(1990, time.March, 5, 0, 0, 0, 0, time.UTC),
		}); err != nil {
			t.Fatalf("Create returned error: %v", err)
		}
	}

	query := BirthdayQuery{Day: 5, Month: time.March, Year: 2025}
	users, err := repo.FindBirthdays(ctx, query)
	if err != nil {
		t.Fatalf("FindBirthdays returned error: %v", err)
	}

	if len(users) != 2 {
		t.Fatalf("expected 2 users, got %d", len(users))
	}

	filter, ok := coll.lastFilter.(bson.M)
	if !ok {
		t.Fatalf("expected bson.M filter, got %T", coll.lastFilter)
	}
	if _, ok := filter["$expr"]; !ok {
		t.Fatalf("expected $expr in filter, got %v", filter)
	}
}

func TestUserRepositoryFindBirthdaysWrapsFindErrors(t *testing.T) {
	coll := newFakeUserCollection(t)
	coll.findErr = errors.New("not primary")
	repo := NewUserRepository(coll)

	_, err := repo.FindBirthdays(context.Background(), BirthdayQuery{Day: 1, Month: time.January, Year: 2025})
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
}

func TestUserRepositoryMarkEmailSent(t *testing.T) {
	coll := newFakeUserCollection(t)
	repo := NewUserRepository(coll)

	ctx := context.Background()
	created, err := repo.Create(ctx, User{Username: "Ama", Email: "ama@x.com"})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	if err := repo.MarkEmailSent(ctx, created.ID, 2025); err != nil {
		t.Fatalf("MarkEmailSent returned error: %v", err)
	}

	doc := coll.docFor(t, "ama@x.com")
	year, ok := doc["last_email_sent_year"].(int)
	if !ok || year != 2025 {
		t.Fatalf("expected last_email_sent_year=2025, got %v (%T)", doc["last_email_sent_year"], doc["last_email_sent_year"])
	}

	filter := coll.lastUpdateFilter
	if filter["_id"] != created.ID {
		t.Fatalf("expected update filter on _id %s, got %v", created.ID.Hex(), filter["_id"])
	}
	if _, ok := filter["last_email_sent_year"]; !ok {
		t.Fatalf("expected update to be conditional on the marker, got %v", filter)
	}
}

func TestUserRepositoryMarkEmailSentRequiresID(t *testing.T) {
	repo := NewUserRepository(newFakeUserCollection(t))

	if err := repo.MarkEmailSent(context.Background(), primitive.NilObjectID, 2025); err == nil {
		t.Fatalf("expected error for missing id")
	}
}

func TestUserRepositoryRequiresInitialization(t *testing.T) {
	var repo *UserRepository

	if _, err := repo.Create(context.Background(), User{Email: "a@x.com"}); err == nil {
		t.Fatalf("expected error for nil repository")
	}
	if _, err := repo.GetByEmail(context.Background(), "a@x.com"); err == nil {
		t.Fatalf("expected error for nil repository")
	}
	if _, err := repo.FindBirthdays(context.Background(), BirthdayQuery{}); err == nil {
		t.Fatalf("expected error for nil repository")
	}
}

// fakeUserCollection stores users keyed by email and enforces the unique
// email index the way MongoDB would.
type fakeUserCollection struct {
	t    *testing.T
	docs map[string]bson.M

	insertErr        error
	findErr          error
	lastFilter       interface{}
	lastUpdateFilter bson.M
}

func newFakeUserCollection(t *testing.T) *fakeUserCollection {
	t.Helper()
	return &fakeUserCollection{
		t:    t,
		docs: make(map[string]bson.M),
	}
}

func (f *fakeUserCollection) InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error) {
	if f.insertErr != nil {
		return nil, f.insertErr
	}

	doc := marshalDoc(f.t, document)
	email, _ := doc["email"].(string)
	if _, exists := f.docs[email]; exists {
		return nil, mongo.WriteException{WriteErrors: mongo.WriteErrors{{
			Code:    11000,
			Message: fmt.Sprintf("E11000 duplicate key error collection: users index: email_unique dup key: { email: %q }", email),
		}}}
	}

	f.docs[email] = doc
	return &mongo.InsertOneResult{InsertedID: doc["_id"]}, nil
}

func (f *fakeUserCollection) FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult {
	filterDoc, ok := filter.(bson.M)
	if !ok {
		return mongo.NewSingleResultFromDocument(bson.D{}, fmt.Errorf("unexpected filter type %T", filter), nil)
	}

	email, ok := filterDoc["email"].(string)
	if !ok {
		return mongo.NewSingleResultFromDocument(bson.D{}, fmt.Errorf("missing email filter in %v", filterDoc), nil)
	}

	doc, found := f.docs[email]
	if !found {
		return mongo.NewSingleResultFromDocument(bson.D{}, mongo.ErrNoDocuments, nil)
	}

	return mongo.NewSingleResultFromDocument(doc, nil, nil)
}

// Find ignores the filter content and returns every stored document; filter
// semantics are covered by the BirthdayQuery tests.
func (f *fakeUserCollection) Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error) {
	f.lastFilter = filter
	if f.findErr != nil {
		return nil, f.findErr
	}

	docs := make([]interface{}, 0, len(f.docs))
	for _, doc := range f.docs {
		docs = append(docs, doc)
	}

	return mongo.NewCursorFromDocuments(docs, nil, nil)
}

func (f *fakeUserCollection) UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	filterDoc, ok := filter.(bson.M)
	if !ok {
		return nil, fmt.Errorf("unexpected filter type %T", filter)
	}
	f.lastUpdateFilter = filterDoc

	updateDoc, ok := update.(bson.M)
	if !ok {
		return nil, fmt.Errorf("unexpected update type %T", update)
	}
	setDoc, _ := updateDoc["$set"].(bson.M)

	for _, doc := range f.docs {
		if doc["_id"] != filterDoc["_id"] {
			continue
		}
		for k, v := range setDoc {
			doc[k] = v
		}
		return &mongo.UpdateResult{MatchedCount: 1, ModifiedCount: 1}, nil
	}

	return &mongo.UpdateResult{}, nil
}

func (f *fakeUserCollection) docFor(t *testing.T, email string) bson.M {
	t.Helper()

	doc, ok := f.docs[email]
	if !ok {
		t.Fatalf("no document stored for email=%s", email)
	}

	return doc
}

func marshalDoc(t *testing.T, document interface{}) bson.M {
	t.Helper()

	switch doc := document.(type) {
	case bson.M:
		return doc
	default:
		raw, err := bson.Marshal(doc)
		if err != nil {
			t.Fatalf("marshal error: %v", err)
		}

		var out bson.M
		if err := bson.Unmarshal(raw, &out); err != nil {
			t.Fatalf("unmarshal error: %v", err)
		}
		return out
	}
}

func assertStringField(t *testing.T, doc bson.M, field, expected string) {
	t.Helper()
	value, ok := doc[field]
	if !ok {
		t.Fatalf("expected %s field to be set", field)
	}
	if value != expected {
		t.Fatalf("expected %s=%s, got %v", field, expected, value)
	}
}

func assertTimeFieldSet(t *testing.T, doc bson.M, field string) {
	t.Helper()
	value, ok := doc[field]
	if !ok {
		t.Fatalf("expected %s field to be set", field)
	}

	parsed := parseTime(t, value)
	if parsed.IsZero() {
		t.Fatalf("expected %s to be non-zero", field)
	}
}

func parseTime(t *testing.T, value interface{}) time.Time {
	t.Helper()

	switch v := value.(type) {
	case primitive.DateTime:
		return v.Time()
	case time.Time:
		return v
	default:
		t.Fatalf("expected time value, got %T", value)
		return time.Time{}
	}
}
