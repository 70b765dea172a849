// Command hybridkv is a small demo CLI over the storage core, grounded
// on the teacher's cmd/velocity/main.go but trimmed to the core's own
// plain KV verbs (no vault/object/secret/backup command tree, no
// permission checker or flag validator — those are the enterprise
// surface this spec does not cover).
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"
	"github.com/oarkflow/hybridkv"
	"github.com/urfave/cli/v3"
)

func getDBPath() string {
	if path := os.Getenv("HYBRIDKV_DB_PATH"); path != "" {
		return path
	}
	return "./hybridkv-data"
}

func main() {
	db, err := hybridkv.Open("hybridkv", hybridkv.DefaultConfig(), nil, getDBPath())
	if err != nil {
		log.Fatalf("hybridkv: failed to open database: %v", err)
	}
	defer db.Close()

	cmd := &cli.Command{
		Name:  "hybridkv",
		Usage: "inspect and exercise an embedded hybridkv database",
		Commands: []*cli.Command{
			putCommand(db),
			getCommand(db),
			deleteCommand(db),
			compactCommand(db),
			statsCommand(db),
			watchCommand(db),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatalf("hybridkv: %v", err)
	}
}

func putCommand(db *hybridkv.DB) *cli.Command {
	return &cli.Command{
		Name:  "put",
		Usage: "store a key-value pair",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "key", Aliases: []string{"k"}, Required: true},
			&cli.StringFlag{Name: "value", Aliases: []string{"v"}, Required: true},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			if err := db.Put([]byte(c.String("key")), []byte(c.String("value"))); err != nil {
				return fmt.Errorf("put failed: %w", err)
			}
			fmt.Printf("stored %q (request %s)\n", c.String("key"), uuid.NewString())
			return nil
		},
	}
}

func getCommand(db *hybridkv.DB) *cli.Command {
	return &cli.Command{
		Name:  "get",
		Usage: "read a key's value",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "key", Aliases: []string{"k"}, Required: true},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			v, err := db.Get([]byte(c.String("key")))
			if err == hybridkv.ErrNotFound {
				fmt.Println("(not found)")
				return nil
			}
			if err != nil {
				return fmt.Errorf("get failed: %w", err)
			}
			fmt.Println(string(v))
			return nil
		},
	}
}

func deleteCommand(db *hybridkv.DB) *cli.Command {
	return &cli.Command{
		Name:  "delete",
		Usage: "delete a key",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "key", Aliases: []string{"k"}, Required: true},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			if err := db.Delete([]byte(c.String("key"))); err != nil {
				return fmt.Errorf("delete failed: %w", err)
			}
			fmt.Printf("deleted %q\n", c.String("key"))
			return nil
		},
	}
}

func compactCommand(db *hybridkv.DB) *cli.Command {
	return &cli.Command{
		Name:  "compact",
		Usage: "flush immutable memtables and compact the LSM tree",
		Action: func(ctx context.Context, c *cli.Command) error {
			if err := db.Compact(); err != nil {
				return fmt.Errorf("compact failed: %w", err)
			}
			fmt.Println("compaction complete")
			return nil
		},
	}
}

func statsCommand(db *hybridkv.DB) *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "print cache hit/miss counters",
		Action: func(ctx context.Context, c *cli.Command) error {
			s := db.CacheStats()
			fmt.Printf("L1 hits=%d misses=%d\n", s.L1Hits, s.L1Misses)
			fmt.Printf("L2 hits=%d misses=%d\n", s.L2Hits, s.L2Misses)
			fmt.Printf("L3 hits=%d misses=%d\n", s.L3Hits, s.L3Misses)
			fmt.Printf("hit ratio=%.2f\n", s.HitRatio)
			return nil
		},
	}
}

func watchCommand(db *hybridkv.DB) *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "print change events matching a pattern until interrupted",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "pattern", Aliases: []string{"p"}, Value: "*"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			var events <-chan hybridkv.ChangeEvent
			if c.String("pattern") == "*" {
				events = db.SubscribeAll()
			} else {
				events = db.SubscribePattern(c.String("pattern"))
			}
			for e := range events {
				kind := "put"
				if e.Kind == hybridkv.ChangeDelete {
					kind = "delete"
				}
				fmt.Printf("%s %s\n", kind, string(e.Key))
			}
			return nil
		},
	}
}
