// ABOUTME: Inspection CLI for a mirrorkv store directory
// ABOUTME: Opens the store read-only and prints keys, values, or counts

package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/alecthomas/kong"

	"github.com/nainya/mirrorkv/internal/logger"
	"github.com/nainya/mirrorkv/pkg/codec"
	"github.com/nainya/mirrorkv/pkg/store"
)

var cli struct {
	Dir string `short:"d" required:"" type:"path" help:"Store directory to inspect."`

	Ls    struct{} `cmd:"" help:"List all keys."`
	Count struct{} `cmd:"" help:"Print the number of entries."`
	Get   struct {
		Key string `arg:"" help:"Key to look up."`
	} `cmd:"" help:"Print the raw value of a key."`
	Dump struct{} `cmd:"" help:"Print every key and its raw value."`
}

func main() {
	kctx := kong.Parse(&cli,
		kong.Name("mirrorkv"),
		kong.Description("Inspect the on-disk state of a mirrorkv store directory."),
	)

	// Values are treated as opaque bytes: the tool works against any store
	// regardless of the value codec it was written with.
	s, _, err := store.Open(cli.Dir, store.SyncImmediate, store.Options[string, []byte]{
		Keys:   codec.HexKeys{},
		Values: codec.Raw{},
		Logger: logger.NewLogger(logger.Config{Level: "warn", Output: os.Stderr}),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "mirrorkv: %v\n", err)
		os.Exit(1)
	}
	s.MakeReadOnly()

	switch kctx.Command() {
	case "ls":
		for _, k := range sortedKeys(s) {
			fmt.Println(k)
		}
	case "count":
		fmt.Println(s.Count())
	case "get <key>":
		v, ok := s.Get(cli.Get.Key)
		if !ok {
			fmt.Fprintf(os.Stderr, "mirrorkv: no such key: %s\n", cli.Get.Key)
			os.Exit(1)
		}
		os.Stdout.Write(v)
		fmt.Println()
	case "dump":
		for _, k := range sortedKeys(s) {
			v, _ := s.Get(k)
			fmt.Printf("%s\t%s\n", k, v)
		}
	default:
		kctx.FatalIfErrorf(fmt.Errorf("unknown command %q", kctx.Command()))
	}
}

func sortedKeys(s *store.Store[string, []byte]) []string {
	keys := s.FilterKeys(func(string, []byte) bool { return true })
	sort.Strings(keys)
	return keys
}
