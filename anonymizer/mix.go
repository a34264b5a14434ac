package anonymizer

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// Mix returns a shuffled copy of items so that the order in which ballots
// reach storage does not follow the order they were cast.
func Mix[T any](items []T) ([]T, error) {
	mixed := make([]T, len(items))
	copy(mixed, items)

	// Fisher-Yates shuffle
	for i := len(mixed) - 1; i > 0; i-- {
		j, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return nil, fmt.Errorf("failed to draw shuffle index: %w", err)
		}
		mixed[i], mixed[j.Int64()] = mixed[j.Int64()], mixed[i]
	}
	return mixed, nil
}
