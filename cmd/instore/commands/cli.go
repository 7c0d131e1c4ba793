// Package commands implements the instore CLI: key management plus record,
// namespace and discovery-key operations against a bbolt-backed store.
package commands

import (
	"context"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/mscno/instore/pkg/oskeyring"
)

const (
	keyringService = "instore"
	keyringUser    = "primary-key"
)

type cliCtx struct {
	context.Context
	Logger    *slog.Logger
	OSKeyring oskeyring.Service
}

type cli struct {
	Debug         bool     `help:"Enable debug logging." short:"v"`
	Db            string   `help:"Path to the store database file." default:"instore.db" env:"INSTORE_DB"`
	Key           string   `help:"Primary encryption key (base64, 32 bytes). Falls back to the OS keyring." env:"INSTORE_KEY"`
	SecondaryKeys []string `help:"Secondary decryption keys retained for rotation." env:"INSTORE_SECONDARY_KEYS"`

	Keygen    KeygenCmd    `cmd:"" help:"Generate or recover an encryption key."`
	Put       PutCmd       `cmd:"" help:"Insert or update a record."`
	Get       GetCmd       `cmd:"" help:"Fetch a single record by primary key or labels."`
	Search    SearchCmd    `cmd:"" help:"Search records by guid and labels."`
	Delete    DeleteCmd    `cmd:"" help:"Delete a record by primary key."`
	Namespace NamespaceCmd `cmd:"" help:"Manage namespaces."`
	Discovery DiscoveryCmd `cmd:"" help:"Manage discovery keys."`
	Version   kong.VersionFlag `help:"Show version."`
}

func Execute(version string) {
	// Pick up INSTORE_* settings from a local .env if present.
	_ = godotenv.Load()

	var cli cli
	ctx := kong.Parse(&cli,
		kong.UsageOnError(),
		kong.Name("instore"),
		kong.Description("instore is a namespaced, encrypted, label-searchable instance store"),
		kong.Vars{"version": version},
	)

	level := slog.LevelInfo
	if cli.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	err := ctx.Run(&cliCtx{
		Context:   context.Background(),
		Logger:    logger,
		OSKeyring: oskeyring.NewDefaultService(),
	})
	ctx.FatalIfErrorf(err)
}
