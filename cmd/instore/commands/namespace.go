package commands

import "fmt"

type NamespaceCmd struct {
	Create NamespaceCreateCmd `cmd:"" help:"Create a namespace."`
	Delete NamespaceDeleteCmd `cmd:"" help:"Delete a namespace and everything in it."`
	List   NamespaceListCmd   `cmd:"" help:"List namespaces."`
}

type NamespaceCreateCmd struct {
	Name string `arg:"" help:"Namespace name."`
}

func (c *NamespaceCreateCmd) Run(ctx *cliCtx, root *cli) error {
	store, closer, err := openStore(ctx, root)
	if err != nil {
		return err
	}
	defer closer()
	return store.CreateNamespace(ctx, c.Name)
}

type NamespaceDeleteCmd struct {
	Name string `arg:"" help:"Namespace name."`
}

func (c *NamespaceDeleteCmd) Run(ctx *cliCtx, root *cli) error {
	store, closer, err := openStore(ctx, root)
	if err != nil {
		return err
	}
	defer closer()
	return store.DeleteNamespace(ctx, c.Name)
}

type NamespaceListCmd struct{}

func (c *NamespaceListCmd) Run(ctx *cliCtx, root *cli) error {
	store, closer, err := openStore(ctx, root)
	if err != nil {
		return err
	}
	defer closer()
	names, err := store.ListNamespaces(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}
