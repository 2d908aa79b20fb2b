// aid-tortoise clusters author signatures per last name and merges the new
// clusters into the persisted author identities.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/miku/authorkit"
	"github.com/miku/authorkit/bibmatrix"
	"github.com/miku/authorkit/checkpoint"
	"github.com/miku/authorkit/compare"
	"github.com/miku/authorkit/config"
	"github.com/miku/authorkit/dateutil"
	"github.com/miku/authorkit/hoover"
	"github.com/miku/authorkit/merge"
	"github.com/miku/authorkit/sqlitestore"
	"github.com/miku/authorkit/tortoise"
)

var docs = strings.TrimLeft(`
# aid-tortoise - cluster and merge author identities

Runs in three phases. The clustering phase groups the signatures of every
last name bucket, starting from the claims and rejections of the stored
identities, and replaces the stored results. The merge phase aligns the results
with the stored identities and moves signatures, never touching claimed ones.
The hoover phase pulls signatures sharing an INSPIRE id or ORCID into the
identity that carries it.

Merged buckets are recorded in a checkpoint file; a rerun skips them unless
they were clustered again, merged before -since or the checkpoint is reset.

## examples

$ aid-tortoise -l
$ aid-tortoise -b ellis,smith
$ aid-tortoise -merge-only -since 2d
$ aid-tortoise -matched-claims -b ellis
$ aid-tortoise -merge-only -no-hoover

## flags

`, "\n")

var (
	configFile    = flag.String("c", "", "config file, toml or yaml (default: "+config.DefaultFile()+")")
	dbFile        = flag.String("db", "", "database file, overrides config")
	numWorkers    = flag.Int("w", 0, "number of clustering workers, overrides config")
	threshold     = flag.Float64("t", 0, "wedge threshold, overrides config")
	bucketList    = flag.String("b", "", "comma separated last name buckets, default all")
	listBuckets   = flag.Bool("l", false, "list buckets with signature counts and exit")
	clusterOnly   = flag.Bool("cluster-only", false, "only run the clustering phase")
	mergeOnly     = flag.Bool("merge-only", false, "only run the merge phase")
	since         = flag.String("since", "", "redo buckets merged before this date, e.g. 2d, yesterday, 2024-01-31")
	resetCP       = flag.Bool("reset", false, "reset the merge checkpoint before running")
	noHoover      = flag.Bool("no-hoover", false, "skip joining signatures by INSPIRE id and ORCID")
	dryHoover     = flag.Bool("dry-hoover", false, "only report what the hoover phase would move")
	matchedClaims = flag.Bool("matched-claims", false, "report how many claims agree with the stored results and exit")
	verbose       = flag.Bool("v", false, "debug logging")
	showVersion   = flag.Bool("version", false, "show version")
)

func splitBuckets(s string) []string {
	var result []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			result = append(result, v)
		}
	}
	return result
}

func main() {
	flag.Usage = func() {
		io.WriteString(os.Stderr, docs)
		flag.PrintDefaults()
	}
	flag.Parse()
	if *showVersion {
		fmt.Println(authorkit.Version)
		os.Exit(0)
	}
	if *clusterOnly && *mergeOnly {
		logrus.Fatal("-cluster-only and -merge-only are exclusive")
	}
	if err := config.LoadDotEnv(); err != nil {
		logrus.Fatal(err)
	}
	cfg, err := config.Load(*configFile)
	if err != nil {
		logrus.Fatal(err)
	}
	if *dbFile != "" {
		cfg.Database = *dbFile
	}
	if *numWorkers > 0 {
		cfg.Workers = *numWorkers
	}
	if *threshold > 0 {
		cfg.WedgeThreshold = *threshold
	}
	if err := cfg.Validate(); err != nil {
		logrus.Fatal(err)
	}
	var (
		runID  = uuid.NewString()
		logger = logrus.New()
	)
	logger.SetLevel(cfg.Level())
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}
	log := logger.WithField("run", runID)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath()), 0755); err != nil {
		log.Fatal(err)
	}
	store, err := sqlitestore.Open(ctx, cfg.DatabasePath(), sqlitestore.WithLogger(log))
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()
	only := splitBuckets(*bucketList)
	switch {
	case *listBuckets:
		cmp, err := compare.New(ctx, store, compare.WithLogger(log))
		if err != nil {
			log.Fatal(err)
		}
		defer cmp.Close()
		buckets, err := tortoise.New(store, cmp, store, nil, tortoise.WithLogger(log)).Buckets(ctx)
		if err != nil {
			log.Fatal(err)
		}
		var keys []string
		for k := range buckets {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("%s\t%d\n", k, len(buckets[k]))
		}
		return
	case *matchedClaims:
		var inspect string
		if len(only) > 0 {
			inspect = only[0]
		}
		matched, total, err := merge.New(store, store, merge.WithLogger(log)).MatchedClaims(ctx, inspect)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("%d/%d\n", matched, total)
		return
	}
	var cpOpts = []checkpoint.Option{checkpoint.WithRunID(runID)}
	if *since != "" {
		t, err := dateutil.ParseSince(*since, time.Now())
		if err != nil {
			log.Fatal(err)
		}
		cpOpts = append(cpOpts, checkpoint.WithSince(t))
	}
	cp, err := checkpoint.Open(cfg.CheckpointPath(), cpOpts...)
	if err != nil {
		log.Fatal(err)
	}
	if *resetCP {
		if err := cp.Reset(); err != nil {
			log.Fatal(err)
		}
	}
	if !*mergeOnly {
		started := time.Now()
		cmp, err := compare.New(ctx, store,
			compare.WithLogger(log),
			compare.WithMaxNamePairs(cfg.MaxNamePairs))
		if err != nil {
			log.Fatal(err)
		}
		matrices := &bibmatrix.FileStore{Dir: cfg.MatrixPath()}
		t := tortoise.New(store, cmp, store, matrices,
			tortoise.WithLogger(log),
			tortoise.WithWorkers(cfg.Workers),
			tortoise.WithThreshold(cfg.WedgeThreshold),
			tortoise.WithInvalidator(cp))
		if err := t.Run(ctx, only...); err != nil {
			log.Fatal(err)
		}
		cmp.Close()
		log.WithField("elapsed", time.Since(started)).Info("clustering done")
	}
	if *clusterOnly {
		return
	}
	m := merge.New(store, store,
		merge.WithLogger(logger),
		merge.WithCheckpoint(cp),
		merge.WithRunID(runID))
	if len(only) > 0 {
		for _, name := range only {
			report, err := m.MergeBucket(ctx, name)
			if err != nil {
				log.WithField("bucket", name).Fatal(err)
			}
			log.WithFields(logrus.Fields{
				"bucket":    name,
				"state":     report.Buckets[name].String(),
				"allocated": report.Allocated,
			}).Info("merged")
		}
		deleted, err := m.Finish(ctx)
		if err != nil {
			log.Fatal(err)
		}
		log.WithField("deleted", deleted).Info("merge done")
	} else {
		report, err := m.Run(ctx)
		if err != nil {
			log.Fatal(err)
		}
		for outcome, n := range report.Outcomes {
			log.WithField("signatures", n).Info(outcome.String())
		}
	}
	if *noHoover {
		return
	}
	h := hoover.New(store, hoover.WithLogger(log), hoover.WithDryRun(*dryHoover))
	if _, err := h.Run(ctx); err != nil {
		log.Fatal(err)
	}
}
