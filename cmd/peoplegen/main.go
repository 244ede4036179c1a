// README: Person generator; writes random commuters into a data directory or lists the ones there.
package main

import (
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/log"

	"ridesim/internal/config"
	"ridesim/internal/infra"
	"ridesim/internal/modules/location"
	"ridesim/internal/modules/person"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("invalid configuration", "err", err)
	}
	if len(os.Args) < 2 {
		usage()
	}
	logger := infra.NewLogger(cfg.LogLevel)

	fs := flag.NewFlagSet(os.Args[1], flag.ExitOnError)
	dataDir := fs.String("data", cfg.DataDir, "data directory")
	switch os.Args[1] {
	case "generate":
		n := fs.Int("n", 10, "number of persons to generate")
		seed := fs.Uint64("seed", cfg.Seed, "random seed, 0 for time based")
		_ = fs.Parse(os.Args[2:])
		if err := generate(logger, *dataDir, *n, *seed); err != nil {
			logger.Fatal("generate persons", "err", err)
		}
	case "list":
		_ = fs.Parse(os.Args[2:])
		if err := list(*dataDir); err != nil {
			logger.Fatal("list persons", "err", err)
		}
	default:
		usage()
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: peoplegen generate [-data dir] [-n count] [-seed n]")
	fmt.Fprintln(os.Stderr, "       peoplegen list [-data dir]")
	os.Exit(2)
}

func generate(logger *log.Logger, dataDir string, n int, seed uint64) error {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	rnd := rand.New(rand.NewPCG(seed, seed>>1))
	gen := person.NewGenerator(location.NewService(location.Belgium()))
	store := person.NewStore(filepath.Join(dataDir, "users"))
	for i := 0; i < n; i++ {
		p, err := gen.Generate(rnd, person.RandomIdentity(rnd))
		if err != nil {
			return err
		}
		if err := store.Save(p); err != nil {
			return err
		}
		logger.Info("person generated", "id", p.ID, "username", p.Username, "activities", len(p.Activities))
	}
	logger.Info("done", "count", n, "dir", store.Dir(), "seed", seed)
	return nil
}

func list(dataDir string) error {
	persons, err := person.NewStore(filepath.Join(dataDir, "users")).LoadAll()
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUSERNAME\tNAME\tCAPACITY\tTOLERANCE\tACTIVITIES")
	for _, p := range persons {
		fmt.Fprintf(w, "%s\t%s\t%s %s\t%d\t%.2f\t%d\n", p.ID, p.Username, p.Firstname, p.Lastname, p.Capacity, p.DetourTolerance, len(p.Activities))
	}
	return w.Flush()
}
