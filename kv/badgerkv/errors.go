package badgerkv

import (
	"errors"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/recordstore/engine/engineerr"
)

// wrapError classifies badger errors into the engine's retryable taxonomy.
func wrapError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, badger.ErrConflict):
		return engineerr.New(engineerr.Conflict, "transaction conflict")
	case errors.Is(err, badger.ErrTxnTooBig):
		return engineerr.New(engineerr.TransactionTooLarge, "transaction too large")
	case errors.Is(err, badger.ErrDBClosed):
		return engineerr.New(engineerr.NetworkTimeout, "database closed")
	default:
		return err
	}
}
