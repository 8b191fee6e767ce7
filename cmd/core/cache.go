package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mediacore/internal/cag/cache"
	"mediacore/internal/catalog"
	"mediacore/internal/store/sqlite"
)

// openCachePersister opens the same sqlite-backed store a `generate`
// invocation writes its cache entries to, so `cache metrics`/`cache clear`
// inspect the cache a prior generation actually populated rather than a
// disconnected in-memory instance (each CLI subcommand is its own process).
func openCachePersister() (catalog.CachePersister, error) {
	store, err := sqlite.Open(app.cfg.Store.SQLitePath)
	if err != nil {
		return nil, err
	}
	return store, nil
}

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the CAG generator prefix cache",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Evict every cached generator prefix",
		RunE: func(cmd *cobra.Command, args []string) error {
			persister, err := openCachePersister()
			if err != nil {
				return err
			}
			if err := persister.ClearCacheEntries(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("cache cleared")
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "metrics",
		Short: "Report cache occupancy and hit/miss counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			persister, err := openCachePersister()
			if err != nil {
				return err
			}
			records, err := persister.LoadCacheEntries(cmd.Context())
			if err != nil {
				return err
			}
			c := cache.New(0)
			c.Load(records)
			m := c.MetricsSnapshot()
			fmt.Printf("entries=%d bytes=%d/%d hits=%d misses=%d evictions=%d\n",
				m.Entries, m.Bytes, m.CeilingBytes, m.Hits, m.Misses, m.Evictions)
			return nil
		},
	})
	return cmd
}
