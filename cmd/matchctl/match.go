package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Adithya-Monish-Kumar-K/lostfound-matcher/internal/items"
	"github.com/Adithya-Monish-Kumar-K/lostfound-matcher/internal/items/memstore"
	"github.com/Adithya-Monish-Kumar-K/lostfound-matcher/internal/matcher"
	"github.com/Adithya-Monish-Kumar-K/lostfound-matcher/internal/matcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/lostfound-matcher/pkg/config"
)

// itemsFile is the YAML layout read by the match command.
type itemsFile struct {
	Items []fileItem `yaml:"items"`
}

// fileItem is active unless the file says otherwise.
type fileItem items.Item

func (f *fileItem) UnmarshalYAML(node *yaml.Node) error {
	type plain items.Item
	p := plain{Active: true}
	if err := node.Decode(&p); err != nil {
		return err
	}
	*f = fileItem(p)
	return nil
}

func loadItems(path string) ([]items.Item, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading items file: %w", err)
	}
	var file itemsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing items file %s: %w", path, err)
	}
	out := make([]items.Item, 0, len(file.Items))
	seen := make(map[string]struct{}, len(file.Items))
	for i, fi := range file.Items {
		it := items.Item(fi)
		if it.ID == "" {
			return nil, fmt.Errorf("item %d: id is required", i)
		}
		if _, dup := seen[it.ID]; dup {
			return nil, fmt.Errorf("item %s: duplicate id", it.ID)
		}
		seen[it.ID] = struct{}{}
		typ, err := items.ParseType(string(it.Type))
		if err != nil {
			return nil, fmt.Errorf("item %s: %w", it.ID, err)
		}
		it.Type = typ
		out = append(out, it)
	}
	return out, nil
}

func newMatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "match <item-id>",
		Short: "Rank items of the opposite type against one item",
		Long: `match loads every item from a YAML file, fits the vocabulary over the active
ones and prints the items of the opposite type ranked by similarity to the
given item.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("items")
			threshold, _ := cmd.Flags().GetFloat64("threshold")
			limit, _ := cmd.Flags().GetInt("limit")
			asJSON, _ := cmd.Flags().GetBool("json")
			descOnly, _ := cmd.Flags().GetBool("description-only")

			list, err := loadItems(path)
			if err != nil {
				return err
			}
			cfg := config.DefaultMatcherConfig()
			if descOnly {
				cfg.IncludeName = false
				cfg.IncludePlace = false
			}
			store := memstore.New(list...)
			ctx := context.Background()
			engine, err := matcher.New(ctx, store, cfg)
			if err != nil {
				return err
			}
			res, err := engine.FindMatchesWith(ctx, args[0], ranker.Options{Threshold: threshold, Limit: limit})
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			return printMatches(ctx, cmd, store, res)
		},
	}
	cmd.Flags().String("items", "", "YAML file with the items to match (required)")
	cmd.Flags().Float64("threshold", ranker.DefaultThreshold, "minimum similarity score, inclusive")
	cmd.Flags().Int("limit", 5, "maximum number of matches, 0 for all")
	cmd.Flags().Bool("json", false, "output the result as JSON")
	cmd.Flags().Bool("description-only", false, "match on descriptions only, ignoring names and places")
	cmd.MarkFlagRequired("items")
	return cmd
}

func printMatches(ctx context.Context, cmd *cobra.Command, store *memstore.Store, res *matcher.Result) error {
	out := cmd.OutOrStdout()
	if len(res.Matches) == 0 {
		_, err := fmt.Fprintf(out, "no %s items match %s\n", res.ItemType.Opposite(), res.ItemID)
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tITEM\tSCORE\tDESCRIPTION")
	for i, m := range res.Matches {
		it, err := store.GetItem(ctx, m.ItemID)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%d\t%s\t%.4f\t%s\n", i+1, m.ItemID, m.Score, it.Description)
	}
	return tw.Flush()
}
