// aid-load imports newline delimited JSON dumps of records, author fields and
// persisted identities into the authorkit database.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/sirupsen/logrus"

	"github.com/miku/authorkit"
	"github.com/miku/authorkit/config"
	"github.com/miku/authorkit/sqlitestore"
)

var docs = strings.TrimLeft(`
# aid-load - import record dumps

Reads newline delimited JSON from files or stdin. Files ending in .gz or .zst
are decompressed on the fly. Each line is either a record with its authors or
a persisted identity row:

	{"record": {"rec": 1, "cites": [2], "authors": [{"table": 100, "ref": 1, "name": "Ellis, John", "fields": {"j": ["0000-0001"]}}]}}
	{"person": {"personid": 7, "sig": "100:1,1", "flag": -2}}

A document must not span lines.

## examples

$ aid-load records.ndjson.zst
$ zcat persons.ndjson.gz | aid-load

## flags

`, "\n")

var (
	configFile  = flag.String("c", "", "config file, toml or yaml (default: "+config.DefaultFile()+")")
	dbFile      = flag.String("db", "", "database file, overrides config")
	verbose     = flag.Bool("v", false, "debug logging")
	showVersion = flag.Bool("version", false, "show version")
)

// openFile returns a reader for a dump, decompressing by extension.
func openFile(name string) (io.ReadCloser, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".gz":
		zr, err := pgzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		return &multiCloser{Reader: zr, closers: []io.Closer{zr, f}}, nil
	case ".zst":
		zr, err := zstd.NewReader(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		return &multiCloser{Reader: zr, closers: []io.Closer{zr.IOReadCloser(), f}}, nil
	default:
		return f, nil
	}
}

type multiCloser struct {
	io.Reader
	closers []io.Closer
}

func (m *multiCloser) Close() error {
	var err error
	for _, c := range m.closers {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}
	return err
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
	logger := logrus.New()
	logger.SetLevel(cfg.Level())
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}
	log := logger.WithField("run", uuid.NewString())
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
	if flag.NArg() == 0 {
		stats, err := store.Import(ctx, bufio.NewReader(os.Stdin))
		if err != nil {
			log.Fatal(err)
		}
		log.WithField("stats", fmt.Sprintf("%+v", stats)).Info("stdin imported")
		return
	}
	for _, name := range flag.Args() {
		r, err := openFile(name)
		if err != nil {
			log.Fatal(err)
		}
		stats, err := store.Import(ctx, r)
		r.Close()
		if err != nil {
			log.WithField("file", name).Fatal(err)
		}
		log.WithFields(logrus.Fields{
			"file":       name,
			"records":    stats.Records,
			"signatures": stats.Signatures,
			"persons":    stats.Persons,
		}).Info("imported")
	}
}
