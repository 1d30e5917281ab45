// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Storefront Contributors

// Package mongodb provides the MongoDB auth.UserRepository.
package mongodb

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/storefront/storefront/internal/auth"
	"github.com/storefront/storefront/internal/store"
)

// DefaultCollection is the collection users are stored in.
const DefaultCollection = "users"

// userDocument is the stored form of auth.User. UsernameKey holds the
// lowercased username so the unique index is case-insensitive.
type userDocument struct {
	ID                  string     `bson:"_id"`
	Name                string     `bson:"name"`
	Email               string     `bson:"email"`
	Username            string     `bson:"username"`
	UsernameKey         string     `bson:"username_key"`
	PasswordHash        string     `bson:"password_hash"`
	IsAdmin             bool       `bson:"is_admin"`
	ResetTokenHash      *string    `bson:"reset_token_hash,omitempty"`
	ResetTokenExpiresAt *time.Time `bson:"reset_token_expires_at,omitempty"`
	CreatedAt           time.Time  `bson:"created_at"`
	UpdatedAt           time.Time  `bson:"updated_at"`
}

func toDocument(u *auth.User) userDocument {
	return userDocument{
		ID:                  u.ID.String(),
		Name:                u.Name,
		Email:               u.Email,
		Username:            u.Username,
		UsernameKey:         strings.ToLower(u.Username),
		PasswordHash:        u.PasswordHash,
		IsAdmin:             u.IsAdmin,
		ResetTokenHash:      u.ResetTokenHash,
		ResetTokenExpiresAt: u.ResetTokenExpiresAt,
		CreatedAt:           u.CreatedAt,
		UpdatedAt:           u.UpdatedAt,
	}
}

func (d *userDocument) toUser() (*auth.User, error) {
	id, err := ulid.Parse(d.ID)
	if err != nil {
		return nil, oops.Code("USER_INVALID_ID").
			With("operation", "parse user id").
			With("id", d.ID).
			Wrap(err)
	}
	u := &auth.User{
		ID:             id,
		Name:           d.Name,
		Email:          d.Email,
		Username:       d.Username,
		PasswordHash:   d.PasswordHash,
		IsAdmin:        d.IsAdmin,
		ResetTokenHash: d.ResetTokenHash,
		CreatedAt:      d.CreatedAt.UTC(),
		UpdatedAt:      d.UpdatedAt.UTC(),
	}
	if d.ResetTokenExpiresAt != nil {
		exp := d.ResetTokenExpiresAt.UTC()
		u.ResetTokenExpiresAt = &exp
	}
	return u, nil
}

// UserRepository implements auth.UserRepository on a MongoDB collection.
type UserRepository struct {
	coll *mongo.Collection
}

// NewUserRepository creates a UserRepository over coll. Call EnsureIndexes
// once before serving traffic.
func NewUserRepository(coll *mongo.Collection) *UserRepository {
	return &UserRepository{coll: coll}
}

// Open connects to uri, waits for the server to answer, and returns the
// client together with a repository over database.users.
func Open(ctx context.Context, uri, database string, opts store.ConnectOptions) (*mongo.Client, *UserRepository, error) {
	if database == "" {
		return nil, nil, oops.Code("DB_CONFIG_INVALID").Errorf("mongodb database name is required")
	}
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, oops.Code("DB_CONFIG_INVALID").With("operation", "create mongodb client").Wrap(err)
	}

	ping := store.PingFunc(func(ctx context.Context) error {
		return client.Ping(ctx, readpref.Primary())
	})
	if err := store.WaitReady(ctx, ping, opts); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx)) //nolint:errcheck // connect error takes precedence
		return nil, nil, err
	}

	repo := NewUserRepository(client.Database(database).Collection(DefaultCollection))
	if err := repo.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx)) //nolint:errcheck // index error takes precedence
		return nil, nil, err
	}
	if opts.Logger != nil {
		opts.Logger.Info("connected to mongodb", slog.String("database", database))
	}
	return client, repo, nil
}

// EnsureIndexes creates the unique email and username indexes and the reset
// token lookup index. It is idempotent.
func (r *UserRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetName("users_email_key").SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "username_key", Value: 1}},
			Options: options.Index().SetName("users_username_key").SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "reset_token_hash", Value: 1}},
			Options: options.Index().SetName("users_reset_token_hash_idx").SetSparse(true),
		},
	})
	if err != nil {
		return oops.Code("USER_INDEX_FAILED").With("operation", "create indexes").Wrap(err)
	}
	return nil
}

// Create stores a new user.
func (r *UserRepository) Create(ctx context.Context, user *auth.User) error {
	if _, err := r.coll.InsertOne(ctx, toDocument(user)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return oops.Code("USER_CREATE_FAILED").
				With("email", user.Email).
				With("username", user.Username).
				Wrap(auth.ErrAlreadyExists)
		}
		return oops.Code("USER_CREATE_FAILED").
			With("operation", "insert user").
			With("email", user.Email).
			Wrap(err)
	}
	return nil
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	return r.findOne(ctx, bson.D{{Key: "_id", Value: id.String()}}, "id", id.String())
}

// GetByEmail retrieves a user by email.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	return r.findOne(ctx, bson.D{{Key: "email", Value: email}}, "email", email)
}

// GetByUsername retrieves a user by username (case-insensitive).
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*auth.User, error) {
	return r.findOne(ctx, bson.D{{Key: "username_key", Value: strings.ToLower(username)}}, "username", username)
}

// GetByResetTokenHash retrieves the user holding the given reset challenge.
func (r *UserRepository) GetByResetTokenHash(ctx context.Context, tokenHash string) (*auth.User, error) {
	return r.findOne(ctx, bson.D{{Key: "reset_token_hash", Value: tokenHash}}, "lookup", "reset_token_hash")
}

func (r *UserRepository) findOne(ctx context.Context, filter bson.D, key, value string) (*auth.User, error) {
	var doc userDocument
	err := r.coll.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, oops.Code("USER_NOT_FOUND").With(key, value).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_FAILED").
			With("operation", "find user").
			With(key, value).
			Wrap(err)
	}
	return doc.toUser()
}

// Update persists the profile fields.
func (r *UserRepository) Update(ctx context.Context, user *auth.User) error {
	result, err := r.coll.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: user.ID.String()}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "name", Value: user.Name},
			{Key: "email", Value: user.Email},
			{Key: "username", Value: user.Username},
			{Key: "username_key", Value: strings.ToLower(user.Username)},
			{Key: "updated_at", Value: user.UpdatedAt},
		}}},
	)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return oops.Code("USER_UPDATE_FAILED").
				With("id", user.ID.String()).
				Wrap(auth.ErrAlreadyExists)
		}
		return oops.Code("USER_UPDATE_FAILED").
			With("operation", "update user").
			With("id", user.ID.String()).
			Wrap(err)
	}
	if result.MatchedCount == 0 {
		return oops.Code("USER_NOT_FOUND").
			With("id", user.ID.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// UpdatePasswordHash swaps the password hash while the document still holds
// oldHash; the filter and the write are one UpdateOne.
func (r *UserRepository) UpdatePasswordHash(ctx context.Context, id ulid.ULID, oldHash, newHash string, updatedAt time.Time) error {
	result, err := r.coll.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: id.String()}, {Key: "password_hash", Value: oldHash}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "password_hash", Value: newHash},
			{Key: "updated_at", Value: updatedAt},
		}}},
	)
	if err != nil {
		return oops.Code("PASSWORD_HASH_UPDATE_FAILED").
			With("operation", "update password hash").
			With("id", id.String()).
			Wrap(err)
	}
	if result.MatchedCount == 0 {
		return oops.Code("PASSWORD_HASH_CHANGED").
			With("id", id.String()).
			Wrap(auth.ErrConflict)
	}
	return nil
}

// SetResetChallenge stores a reset challenge, replacing any prior one.
func (r *UserRepository) SetResetChallenge(ctx context.Context, id ulid.ULID, tokenHash string, expiresAt time.Time) error {
	result, err := r.coll.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: id.String()}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "reset_token_hash", Value: tokenHash},
			{Key: "reset_token_expires_at", Value: expiresAt},
		}}},
	)
	if err != nil {
		return oops.Code("RESET_CHALLENGE_SET_FAILED").
			With("operation", "set reset challenge").
			With("id", id.String()).
			Wrap(err)
	}
	if result.MatchedCount == 0 {
		return oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

var clearReset = bson.D{{Key: "$unset", Value: bson.D{
	{Key: "reset_token_hash", Value: ""},
	{Key: "reset_token_expires_at", Value: ""},
}}}

// ClearResetChallenge clears the challenge only if it is still tokenHash.
func (r *UserRepository) ClearResetChallenge(ctx context.Context, id ulid.ULID, tokenHash string) error {
	result, err := r.coll.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: id.String()}, {Key: "reset_token_hash", Value: tokenHash}},
		clearReset,
	)
	if err != nil {
		return oops.Code("RESET_CHALLENGE_CLEAR_FAILED").
			With("operation", "clear reset challenge").
			With("id", id.String()).
			Wrap(err)
	}
	if result.MatchedCount == 0 {
		return oops.Code("RESET_CHALLENGE_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// ConsumeResetChallenge redeems an unexpired challenge with a single
// FindOneAndUpdate, so concurrent redemptions of the same token cannot both
// succeed.
func (r *UserRepository) ConsumeResetChallenge(ctx context.Context, tokenHash string, scopeID *ulid.ULID, now time.Time, newPasswordHash string) (*auth.User, error) {
	filter := bson.D{
		{Key: "reset_token_hash", Value: tokenHash},
		{Key: "reset_token_expires_at", Value: bson.D{{Key: "$gt", Value: now}}},
	}
	if scopeID != nil {
		filter = append(filter, bson.E{Key: "_id", Value: scopeID.String()})
	}
	update := bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "password_hash", Value: newPasswordHash},
			{Key: "updated_at", Value: now},
		}},
		{Key: "$unset", Value: bson.D{
			{Key: "reset_token_hash", Value: ""},
			{Key: "reset_token_expires_at", Value: ""},
		}},
	}

	var doc userDocument
	err := r.coll.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, oops.Code("RESET_CHALLENGE_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("RESET_CHALLENGE_CONSUME_FAILED").
			With("operation", "consume reset challenge").
			Wrap(err)
	}
	return doc.toUser()
}

// ClearExpiredResetChallenges clears every challenge expired at now.
func (r *UserRepository) ClearExpiredResetChallenges(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.coll.UpdateMany(ctx,
		bson.D{{Key: "reset_token_expires_at", Value: bson.D{{Key: "$lte", Value: now}}}},
		clearReset,
	)
	if err != nil {
		return 0, oops.Code("RESET_CHALLENGE_PURGE_FAILED").
			With("operation", "clear expired reset challenges").
			Wrap(err)
	}
	return result.ModifiedCount, nil
}

// Compile-time interface check.
var _ auth.UserRepository = (*UserRepository)(nil)
