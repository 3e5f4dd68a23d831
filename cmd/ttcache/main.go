package main

import (
	"flag"
	"log"
	"os"
	"runtime/pprof"

	"github.com/hailam/ttcache/internal/engine"
	"github.com/hailam/ttcache/internal/storage"
	"github.com/hailam/ttcache/internal/uci"
)

var (
	cpuprofile = flag.String("cpuprofile", "", "write cpu profile to file")
	hashMB     = flag.Int("hash", 0, "transposition table size in MB (default: stored or 16)")
	threads    = flag.Int("threads", 0, "number of search threads (default: stored or 1)")
	noStore    = flag.Bool("nostore", false, "do not load or persist options")
)

func main() {
	flag.Parse()

	// Start CPU profiling if requested (via flag or environment variable)
	profilePath := *cpuprofile
	if profilePath == "" {
		profilePath = os.Getenv("CPUPROFILE")
	}
	if profilePath != "" {
		f, err := os.Create(profilePath)
		if err != nil {
			log.Fatal("could not create CPU profile: ", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal("could not start CPU profile: ", err)
		}
		defer pprof.StopCPUProfile()
		log.Printf("CPU profiling enabled, writing to %s", profilePath)
	}

	opts := storage.DefaultOptions()

	var store *storage.Storage
	if !*noStore {
		var err error
		store, err = storage.NewStorage()
		if err != nil {
			log.Printf("Warning: options store unavailable: %v", err)
		} else {
			defer store.Close()
			if opts, err = store.LoadOptions(); err != nil {
				log.Printf("Warning: stored options not loaded: %v", err)
			}
			firstLaunch(store)
		}
	}

	// Flags override stored options
	if *hashMB > 0 {
		opts.Hash = *hashMB
	}
	if *threads > 0 {
		opts.Threads = *threads
	}

	eng := engine.NewEngine(opts.Hash, opts.Threads)
	defer eng.Close()

	protocol := uci.New(eng)
	if store != nil {
		protocol.SetStore(store)
	}
	protocol.Run()
}

// firstLaunch records the first start so the data directory is reported once.
func firstLaunch(store *storage.Storage) {
	first, err := store.IsFirstLaunch()
	if err != nil || !first {
		return
	}
	if dir, err := storage.GetDatabaseDir(); err == nil {
		log.Printf("Storing options in %s", dir)
	}
	if err := store.MarkFirstLaunchComplete(); err != nil {
		log.Printf("Warning: %v", err)
	}
}
