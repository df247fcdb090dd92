package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type userCollection interface {
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
}

// UserRepository persists and retrieves users in MongoDB.
type UserRepository struct {
	collection userCollection
	now        func() time.Time
}

// NewUserRepository constructs a UserRepository.
func NewUserRepository(collection userCollection) *UserRepository {
	return &UserRepository{
		collection: collection,
		now:        time.Now,
	}
}

// Create inserts a user with populated timestamps. A unique index violation on
// email is reported as ErrDuplicate; any other failure wraps ErrStorage.
func (r *UserRepository) Create(ctx context.Context, user User) (User, error) {
	if r == nil || r.collection == nil {
		return User{}, errors.New("user repository is not initialized")
	}
	if ctx == nil {
		return User{}, errors.New("context is required")
	}
	if strings.TrimSpace(user.Email) == "" {
		return User{}, errors.New("email is required")
	}

	now := r.now().UTC().Truncate(time.Millisecond)
	if user.ID.IsZero() {
		user.ID = primitive.NewObjectID()
	}
	user.CreatedAt = now
	user.UpdatedAt = now
	user.LastEmailSentYear = nil

	if _, err := r.collection.InsertOne(ctx, user); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return User{}, fmt.Errorf("insert user %s: %w", user.Email, ErrDuplicate)
		}
		return User{}, fmt.Errorf("insert user: %w: %w", ErrStorage, err)
	}

	return user, nil
}

// GetByEmail fetches a user by email. A missing user is reported as ErrNotFound.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (User, error) {
	if r == nil || r.collection == nil {
		return User{}, errors.New("user repository is not initialized")
	}
	if ctx == nil {
		return User{}, errors.New("context is required")
	}
	if strings.TrimSpace(email) == "" {
		return User{}, errors.New("email is required")
	}

	result := r.collection.FindOne(ctx, bson.M{"email": email})
	if result == nil {
		return User{}, fmt.Errorf("find user: %w: no result", ErrStorage)
	}
	if err := result.Err(); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("find user: %w: %w", ErrStorage, err)
	}

	var user User
	if err := result.Decode(&user); err != nil {
		return User{}, fmt.Errorf("decode user: %w: %w", ErrStorage, err)
	}

	return user, nil
}

// FindBirthdays returns every user selected by the query.
func (r *UserRepository) FindBirthdays(ctx context.Context, query BirthdayQuery) ([]User, error) {
	if r == nil || r.collection == nil {
		return nil, errors.New("user repository is not initialized")
	}
	if ctx == nil {
		return nil, errors.New("context is required")
	}

	cursor, err := r.collection.Find(ctx, query.Filter())
	if err != nil {
		return nil, fmt.Errorf("find birthdays: %w: %w", ErrStorage, err)
	}

	users := make([]User, 0)
	if err := cursor.All(ctx, &users); err != nil {
		return nil, fmt.Errorf("decode birthdays: %w: %w", ErrStorage, err)
	}

	return users, nil
}

// MarkEmailSent records year as the user's last birthday email year. The
// update is conditional, so a second mark for the same year is a no-op.
func (r *UserRepository) MarkEmailSent(ctx context.Context, id primitive.ObjectID, year int) error {
	if r == nil || r.collection == nil {
		return errors.New("user repository is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	if id.IsZero() {
		return errors.New("user id is required")
	}

	now := r.now().UTC().Truncate(time.Millisecond)
	_, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": id, "last_email_sent_year": bson.M{"$ne": year}},
		bson.M{"$set": bson.M{
			"last_email_sent_year": year,
			"updated_at":           now,
		}},
	)
	if err != nil {
		return fmt.Errorf("mark email sent: %w: %w", ErrStorage, err)
	}

	return nil
}
