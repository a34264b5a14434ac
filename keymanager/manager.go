// Package keymanager owns the per-session secrets established over the
// quantum channel. Secrets live in memory only and are zeroed on revoke.
package keymanager

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"quantum-voting/models"
	"quantum-voting/shardmap"
)

// DefaultAttackInterceptRate is the eavesdropper intercept probability used
// when Issue is asked to simulate an attack.
const DefaultAttackInterceptRate = 0.5

// Channel establishes a shared secret. *quantum.Simulator satisfies it.
type Channel interface {
	Run(rawLength int, eavesdropper bool, interceptRate float64) (*models.ChannelRunResult, error)
	DefaultRawLength() int
}

type Config struct {
	AttackInterceptRate float64
	RawLength           int
	Shards              int
	Logger              *logrus.Logger
}

type Manager struct {
	channel    Channel
	keys       *shardmap.Map[[]byte]
	attackRate float64
	rawLength  int
	logger     *logrus.Logger
}

func New(channel Channel, cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.AttackInterceptRate <= 0 {
		cfg.AttackInterceptRate = DefaultAttackInterceptRate
	}
	if cfg.RawLength <= 0 {
		cfg.RawLength = channel.DefaultRawLength()
	}
	return &Manager{
		channel:    channel,
		keys:       shardmap.New[[]byte](cfg.Shards),
		attackRate: cfg.AttackInterceptRate,
		rawLength:  cfg.RawLength,
		logger:     cfg.Logger,
	}
}

// Issue runs a channel exchange for the session and stores the secret when
// the channel is secure, replacing any earlier secret. The result is
// returned whether or not it was stored.
func (m *Manager) Issue(sessionID string, attackSimulated bool) (*models.ChannelRunResult, error) {
	rate := 0.0
	if attackSimulated {
		rate = m.attackRate
	}

	result, err := m.channel.Run(m.rawLength, attackSimulated, rate)
	if err != nil {
		return nil, fmt.Errorf("failed to run quantum channel: %w", err)
	}

	log := m.logger.WithFields(logrus.Fields{
		"session":    shortID(sessionID),
		"error_rate": result.ErrorRate,
	})
	if !result.ChannelSecure {
		log.Warn("Channel not secure, session key not stored")
		return result, nil
	}

	secret, err := result.Secret()
	if err != nil {
		return nil, fmt.Errorf("failed to decode shared key: %w", err)
	}

	m.keys.Update(sessionID, func(current []byte, exists bool) ([]byte, bool) {
		if exists {
			zero(current)
		}
		return secret, true
	})
	log.WithField("key_bits", result.KeyBits).Info("Session key issued")
	return result, nil
}

// Get returns a copy of the session's secret. The copy is taken under the
// shard lock so it never observes a concurrent revoke half way.
func (m *Manager) Get(sessionID string) ([]byte, bool) {
	var out []byte
	ok := m.keys.View(sessionID, func(secret []byte) {
		out = make([]byte, len(secret))
		copy(out, secret)
	})
	return out, ok
}

// Revoke removes and zeroes the session's secret. It reports whether a
// secret existed.
func (m *Manager) Revoke(sessionID string) bool {
	revoked := false
	m.keys.Update(sessionID, func(current []byte, exists bool) ([]byte, bool) {
		if exists {
			zero(current)
			revoked = true
		}
		return nil, false
	})
	if revoked {
		m.logger.WithField("session", shortID(sessionID)).Info("Session key revoked")
	}
	return revoked
}

func (m *Manager) ActiveCount() int {
	return m.keys.Len()
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
