package commands

import (
	"errors"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/mscno/instore"
	"github.com/mscno/instore/pkg/crypto"
	"github.com/mscno/instore/pkg/oskeyring"
)

// openStore resolves the encryption key (flag/env first, then the OS
// keyring), opens the bolt database and assembles the store. The returned
// closer must be called when the command is done.
func openStore(ctx *cliCtx, root *cli) (*instore.Store, func() error, error) {
	key := root.Key
	if key == "" {
		var err error
		key, err = ctx.OSKeyring.Get(keyringService, keyringUser)
		if errors.Is(err, oskeyring.ErrNotFound) {
			return nil, nil, fmt.Errorf("no encryption key: pass --key, set INSTORE_KEY, or run 'instore keygen --save'")
		}
		if err != nil {
			return nil, nil, err
		}
	}
	keyring, err := crypto.NewKeyring(key, root.SecondaryKeys...)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid encryption key: %w", err)
	}

	ctx.Logger.Debug("opening store", "db", root.Db, "keys", keyring.Len())
	db, err := bbolt.Open(root.Db, 0o600, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database %q: %w", root.Db, err)
	}
	store := instore.New(instore.NewBoltBackend(db), keyring, instore.WithLogger(ctx.Logger))
	return store, db.Close, nil
}
