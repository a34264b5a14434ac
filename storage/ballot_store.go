package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"quantum-voting/models"
)

const ballotPrefix = "ballot:"

var (
	ErrDuplicateToken = errors.New("uniqueness token already stored")
	ErrBallotNotFound = errors.New("ballot not found")
)

type BallotStoreConfig struct {
	Path     string // ignored when InMemory is set
	InMemory bool
	Logger   *logrus.Logger
}

// BallotStore persists sealed ballots keyed by their uniqueness token and
// refuses a token it already holds.
type BallotStore struct {
	db     *badger.DB
	logger *logrus.Logger
}

func NewBallotStore(config BallotStoreConfig) (*BallotStore, error) {
	if config.Logger == nil {
		config.Logger = logrus.New()
	}

	var opts badger.Options
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if config.Path == "" {
			return nil, errors.New("no path provided for ballot store")
		}
		opts = badger.DefaultOptions(config.Path)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open ballot store: %w", err)
	}

	return &BallotStore{db: db, logger: config.Logger}, nil
}

func ballotKey(token string) []byte {
	return []byte(ballotPrefix + token)
}

// Put stores a single sealed ballot.
func (s *BallotStore) Put(ballot *models.SealedBallot) error {
	return s.PutBatch([]*models.SealedBallot{ballot})
}

// PutBatch stores all ballots in one transaction. If any token is already
// present, or repeated within the batch, nothing is written.
func (s *BallotStore) PutBatch(ballots []*models.SealedBallot) error {
	if len(ballots) == 0 {
		return nil
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		for _, ballot := range ballots {
			if ballot == nil || ballot.UniquenessToken == "" {
				return errors.New("ballot has no uniqueness token")
			}
			key := ballotKey(ballot.UniquenessToken)

			_, err := txn.Get(key)
			if err == nil {
				return fmt.Errorf("%w: %s", ErrDuplicateToken, shortToken(ballot.UniquenessToken))
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}

			content, err := json.Marshal(ballot.Encode())
			if err != nil {
				return fmt.Errorf("failed to encode ballot: %w", err)
			}
			if err := txn.Set(key, content); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrDuplicateToken) {
			s.logger.WithError(err).Error("Ballot batch write failed")
		}
		return err
	}

	s.logger.WithField("ballots", len(ballots)).Debug("Ballot batch stored")
	return nil
}

func (s *BallotStore) Has(token string) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(ballotKey(token))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *BallotStore) Get(token string) (*models.SealedBallot, error) {
	var encoded models.EncodedBallot
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(ballotKey(token))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &encoded)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrBallotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read ballot: %w", err)
	}
	return encoded.Decode()
}

// Count returns the number of stored ballots.
func (s *BallotStore) Count() (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(ballotPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

func (s *BallotStore) Close() error {
	return s.db.Close()
}

func shortToken(token string) string {
	if len(token) > 12 {
		return token[:12]
	}
	return token
}
