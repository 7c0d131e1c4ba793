package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/mscno/instore"
)

type PutCmd struct {
	File       string `arg:"" optional:"" help:"Bundle JSON file ('-' or empty for stdin)."`
	Namespace  string `help:"Namespace (empty for default)." short:"n"`
	Guid       string `help:"Integration guid of the record." required:"" short:"g"`
	Labels     string `help:"Labels as a JSON object." default:"{}" short:"l"`
	PrimaryKey string `help:"Explicit primary key; omitted means label-keyed upsert." short:"p"`
	Update     bool   `help:"Require the primary key to exist (no insert)." short:"u"`
}

func (c *PutCmd) Run(ctx *cliCtx, root *cli) error {
	labels, err := parseLabels(c.Labels)
	if err != nil {
		return err
	}
	data, err := readInput(c.File)
	if err != nil {
		return err
	}
	var bundle instore.Bundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return fmt.Errorf("bundle is not valid JSON: %w", err)
	}

	store, closer, err := openStore(ctx, root)
	if err != nil {
		return err
	}
	defer closer()

	item := instore.Item{Value: bundle, Guid: c.Guid, Labels: labels}
	var pk string
	switch {
	case c.Update:
		if c.PrimaryKey == "" {
			return fmt.Errorf("--update requires --primary-key")
		}
		pk, err = store.UpdateByPrimaryKey(ctx, c.Namespace, c.PrimaryKey, item)
	case c.PrimaryKey != "":
		pk, err = store.PutByPrimaryKey(ctx, c.Namespace, c.PrimaryKey, item)
	default:
		pk, err = store.PutByLabels(ctx, c.Namespace, item)
	}
	if err != nil {
		return err
	}
	fmt.Println(pk)
	return nil
}

type GetCmd struct {
	PrimaryKey string `arg:"" optional:"" help:"Primary key of the record."`
	Namespace  string `help:"Namespace (empty for default)." short:"n"`
	Guid       string `help:"Guid for a label-based lookup." short:"g"`
	Labels     string `help:"Labels as a JSON object for a label-based lookup." short:"l"`
}

func (c *GetCmd) Run(ctx *cliCtx, root *cli) error {
	store, closer, err := openStore(ctx, root)
	if err != nil {
		return err
	}
	defer closer()

	var result instore.Result
	if c.PrimaryKey != "" {
		result, err = store.GetByPrimaryKey(ctx, c.Namespace, c.PrimaryKey)
	} else {
		if c.Guid == "" {
			return fmt.Errorf("either a primary key argument or --guid with --labels is required")
		}
		labels, lerr := parseLabels(c.Labels)
		if lerr != nil {
			return lerr
		}
		result, err = store.GetByLabels(ctx, c.Namespace, c.Guid, labels)
	}
	if err != nil {
		return err
	}
	return printJSON(result)
}

type SearchCmd struct {
	Namespace string `help:"Namespace (empty for default)." short:"n"`
	Guid      string `help:"Guid to filter on (empty for any)." short:"g"`
	Labels    string `help:"Partial labels as a JSON object." default:"{}" short:"l"`
}

func (c *SearchCmd) Run(ctx *cliCtx, root *cli) error {
	labels, err := parseLabels(c.Labels)
	if err != nil {
		return err
	}
	store, closer, err := openStore(ctx, root)
	if err != nil {
		return err
	}
	defer closer()

	results, err := store.Search(ctx, c.Namespace, c.Guid, labels)
	if err != nil {
		return err
	}
	ctx.Logger.Debug("search finished", "matches", len(results))
	return printJSON(results)
}

type DeleteCmd struct {
	PrimaryKey string `arg:"" help:"Primary key of the record to delete."`
	Namespace  string `help:"Namespace (empty for default)." short:"n"`
}

func (c *DeleteCmd) Run(ctx *cliCtx, root *cli) error {
	store, closer, err := openStore(ctx, root)
	if err != nil {
		return err
	}
	defer closer()
	return store.DeleteByPrimaryKey(ctx, c.Namespace, c.PrimaryKey)
}

// parseLabels decodes a JSON object into labels, keeping the int/float
// distinction via json.Number.
func parseLabels(raw string) (instore.Labels, error) {
	if raw == "" {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var labels instore.Labels
	if err := dec.Decode(&labels); err != nil {
		return nil, fmt.Errorf("labels are not a valid JSON object: %w", err)
	}
	return labels, nil
}

func readInput(file string) ([]byte, error) {
	if file == "" || file == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(file)
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
