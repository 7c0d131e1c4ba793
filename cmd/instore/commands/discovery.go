package commands

import (
	"fmt"

	"github.com/mscno/instore"
)

type DiscoveryCmd struct {
	Assign  DiscoveryAssignCmd  `cmd:"" help:"Assign a discovery key to a record."`
	Resolve DiscoveryResolveCmd `cmd:"" help:"Resolve a discovery key to its record."`
}

type DiscoveryAssignCmd struct {
	PrimaryKey string `arg:"" help:"Primary key of the record."`
	Namespace  string `help:"Namespace (empty for default)." short:"n"`
	Guid       string `help:"Integration guid of the record." required:"" short:"g"`
	Type       string `help:"Key type: callback or webhook." required:"" short:"t"`
	Key        string `help:"Explicit key; omitted means generate one." short:"k"`
	OneTime    bool   `help:"Consume the key on first resolution." short:"o"`
}

func (c *DiscoveryAssignCmd) Run(ctx *cliCtx, root *cli) error {
	store, closer, err := openStore(ctx, root)
	if err != nil {
		return err
	}
	defer closer()

	key, err := store.AssignDiscoveryKey(ctx, c.Namespace, instore.DiscoveryKey{
		PrimaryKey: c.PrimaryKey,
		Guid:       c.Guid,
		Type:       instore.KeyType(c.Type),
		Key:        c.Key,
		OneTime:    c.OneTime,
	})
	if err != nil {
		return err
	}
	fmt.Println(key)
	return nil
}

type DiscoveryResolveCmd struct {
	Guid string `arg:"" help:"Integration guid the key was assigned under."`
	Type string `arg:"" help:"Key type: callback or webhook."`
	Key  string `arg:"" help:"The discovery key."`
}

func (c *DiscoveryResolveCmd) Run(ctx *cliCtx, root *cli) error {
	store, closer, err := openStore(ctx, root)
	if err != nil {
		return err
	}
	defer closer()

	full := instore.FormatDiscoveryKey(c.Guid, instore.KeyType(c.Type), c.Key)
	discovery, err := store.InstanceDiscovery(ctx, full)
	if err != nil {
		return err
	}
	return printJSON(discovery)
}
