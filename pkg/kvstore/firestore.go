package kvstore

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreConfig holds configuration for the Firestore-backed store.
type FirestoreConfig struct {
	ProjectID      string
	CollectionName string
}

// firestoreDoc is the document shape stored per key. The key is duplicated
// into a field so prefix enumeration can use an ordered range query.
type firestoreDoc struct {
	Key   string `firestore:"key"`
	Value string `firestore:"value"`
}

// FirestoreStore is a Store implementation holding one document per key in a
// Firestore collection. Suitable for low-volume server-side deployments of
// the portal client; use Redis where call volume is high.
type FirestoreStore struct {
	client         *firestore.Client
	collectionName string
	logger         zerolog.Logger
}

// NewFirestoreStore creates a new FirestoreStore over an injected client.
func NewFirestoreStore(cfg *FirestoreConfig, client *firestore.Client, logger zerolog.Logger) (*FirestoreStore, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client cannot be nil")
	}

	logger.Info().Str("project_id", cfg.ProjectID).Str("collection", cfg.CollectionName).Msg("FirestoreStore initialized.")

	return &FirestoreStore{
		client:         client,
		collectionName: cfg.CollectionName,
		logger:         logger.With().Str("component", "FirestoreStore").Logger(),
	}, nil
}

// Get retrieves the value for a key, mapping a missing document to ErrNotFound.
func (s *FirestoreStore) Get(ctx context.Context, key string) (string, error) {
	docSnap, err := s.client.Collection(s.collectionName).Doc(docID(key)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return "", ErrNotFound
		}
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to get document from Firestore.")
		return "", fmt.Errorf("firestore get for %s: %w", key, err)
	}

	var doc firestoreDoc
	if err := docSnap.DataTo(&doc); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to map Firestore document data.")
		return "", fmt.Errorf("firestore DataTo for %s: %w", key, err)
	}
	return doc.Value, nil
}

// Set stores a value for a key.
func (s *FirestoreStore) Set(ctx context.Context, key string, value string) error {
	_, err := s.client.Collection(s.collectionName).Doc(docID(key)).Set(ctx, firestoreDoc{Key: key, Value: value})
	if err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to write document to Firestore.")
		return fmt.Errorf("firestore set for %s: %w", key, err)
	}
	return nil
}

// Delete removes a key.
func (s *FirestoreStore) Delete(ctx context.Context, key string) error {
	_, err := s.client.Collection(s.collectionName).Doc(docID(key)).Delete(ctx)
	if err != nil {
		return fmt.Errorf("firestore delete for %s: %w", key, err)
	}
	return nil
}

// Keys returns every stored key that begins with prefix, using a range query
// over the duplicated key field.
func (s *FirestoreStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	query := s.client.Collection(s.collectionName).
		Where("key", ">=", prefix).
		Where("key", "<", prefix+"")

	keys := make([]string, 0)
	iter := query.Documents(ctx)
	defer iter.Stop()
	for {
		docSnap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore keys for prefix %s: %w", prefix, err)
		}
		var doc firestoreDoc
		if err := docSnap.DataTo(&doc); err != nil {
			s.logger.Warn().Err(err).Msg("Skipping unreadable document during key scan.")
			continue
		}
		keys = append(keys, doc.Key)
	}
	return keys, nil
}

// Close is a no-op as the Firestore client's lifecycle is managed externally.
func (s *FirestoreStore) Close() error {
	s.logger.Info().Msg("FirestoreStore does not close the injected Firestore client.")
	return nil
}

// docID makes a key safe for use as a Firestore document ID. Document IDs may
// not contain forward slashes.
func docID(key string) string {
	out := make([]rune, 0, len(key))
	for _, r := range key {
		if r == '/' {
			r = '⁄'
		}
		out = append(out, r)
	}
	return string(out)
}
