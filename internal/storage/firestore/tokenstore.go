// Package firestore stores APNs device registrations in Cloud Firestore.
package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-apns-legacy/pkg/apns"
	"github.com/tinywideclouds/go-apns-legacy/pkg/dispatch"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
)

// DevicesCollection is the root collection holding one document per token.
const DevicesCollection = "apns_devices"

// FirestoreStore implements dispatch.TokenStore.
type FirestoreStore struct {
	client *firestore.Client
	now    func() time.Time
}

func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{client: client, now: time.Now}
}

// deviceRecord is the stored form. The document id is the SHA-256 of the
// binary token, so a token maps to exactly one document whoever owns it.
type deviceRecord struct {
	User      string    `firestore:"user"`
	Token     string    `firestore:"token"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

func (s *FirestoreStore) Register(ctx context.Context, user urn.URN, token apns.DeviceToken) error {
	record := deviceRecord{
		User:      user.String(),
		Token:     token.String(),
		UpdatedAt: s.now().UTC(),
	}
	if _, err := s.deviceRef(token).Set(ctx, record); err != nil {
		return fmt.Errorf("failed to register device token: %w", err)
	}
	return nil
}

// Unregister deletes the token inside a transaction so a concurrent
// re-registration by another user is never removed.
func (s *FirestoreStore) Unregister(ctx context.Context, user urn.URN, token apns.DeviceToken) error {
	ref := s.deviceRef(token)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return nil
		}
		if err != nil {
			return err
		}
		var record deviceRecord
		if err := doc.DataTo(&record); err != nil {
			return err
		}
		if record.User != user.String() {
			return nil
		}
		return tx.Delete(ref)
	})
	if err != nil {
		return fmt.Errorf("failed to unregister device token: %w", err)
	}
	return nil
}

func (s *FirestoreStore) Fetch(ctx context.Context, user urn.URN) ([]apns.DeviceToken, error) {
	iter := s.client.Collection(DevicesCollection).Where("user", "==", user.String()).Documents(ctx)
	defer iter.Stop()

	tokens := make([]apns.DeviceToken, 0)
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore iteration failed: %w", err)
		}

		var record deviceRecord
		if err := doc.DataTo(&record); err != nil {
			continue
		}
		token, err := apns.ParseDeviceToken(record.Token)
		if err != nil {
			continue
		}
		tokens = append(tokens, token)
	}
	return tokens, nil
}

func (s *FirestoreStore) Owner(ctx context.Context, token apns.DeviceToken) (dispatch.TokenOwner, error) {
	doc, err := s.deviceRef(token).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return dispatch.TokenOwner{}, dispatch.ErrTokenNotFound
	}
	if err != nil {
		return dispatch.TokenOwner{}, fmt.Errorf("failed to look up device token: %w", err)
	}

	var record deviceRecord
	if err := doc.DataTo(&record); err != nil {
		return dispatch.TokenOwner{}, fmt.Errorf("corrupt device record %s: %w", doc.Ref.ID, err)
	}
	user, err := urn.Parse(record.User)
	if err != nil {
		return dispatch.TokenOwner{}, fmt.Errorf("corrupt device record %s: %w", doc.Ref.ID, err)
	}
	return dispatch.TokenOwner{User: user, UpdatedAt: record.UpdatedAt}, nil
}

// deviceRef: apns_devices/{sha256(token)}
func (s *FirestoreStore) deviceRef(token apns.DeviceToken) *firestore.DocumentRef {
	return s.client.Collection(DevicesCollection).Doc(hashToken(token))
}

func hashToken(t apns.DeviceToken) string {
	sum := sha256.Sum256(t[:])
	return hex.EncodeToString(sum[:])
}
