// lavaq queries lava index files: BM25 ranked retrieval, exact substring
// retrieval, vocabulary dumps, and a raw range-read benchmark.
package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	lava "github.com/marsupialtail/rottnest"
	"github.com/marsupialtail/rottnest/storage"
)

func main() {
	app := &cli.App{
		Name:  "lavaq",
		Usage: "query lava index files over local disk or s3",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "debug logging"},
		},
		Commands: []*cli.Command{
			bm25Command(),
			substringCommand(),
			vocabCommand(),
			benchCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newLogger(c *cli.Context) (*zap.Logger, error) {
	if c.Bool("verbose") {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func fileFlag() *cli.StringSliceFlag {
	return &cli.StringSliceFlag{
		Name:     "file",
		Aliases:  []string{"f"},
		Usage:    "index file path or s3:// uri, repeatable",
		Required: true,
	}
}

func kFlag() *cli.IntFlag {
	return &cli.IntFlag{Name: "k", Value: 10, Usage: "result limit (substring queries may return k+1 results)"}
}

func bm25Command() *cli.Command {
	return &cli.Command{
		Name:  "bm25",
		Usage: "ranked retrieval by pre-tokenized query",
		Flags: []cli.Flag{
			fileFlag(),
			kFlag(),
			&cli.UintSliceFlag{Name: "token", Usage: "query token id, repeatable", Required: true},
			&cli.Float64SliceFlag{Name: "weight", Usage: "per-token weight, repeatable", Required: true},
		},
		Action: func(c *cli.Context) error {
			logger, err := newLogger(c)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			rawTokens := c.UintSlice("token")
			rawWeights := c.Float64Slice("weight")
			tokens := make([]uint32, len(rawTokens))
			for i, t := range rawTokens {
				tokens[i] = uint32(t)
			}
			weights := make([]float32, len(rawWeights))
			for i, w := range rawWeights {
				weights[i] = float32(w)
			}

			engine := lava.NewEngine(lava.WithLogger(logger))
			results, err := engine.SearchBM25(c.Context, c.StringSlice("file"), tokens, weights, c.Int("k"))
			if err != nil {
				return err
			}
			printResults(results)
			return nil
		},
	}
}

func substringCommand() *cli.Command {
	return &cli.Command{
		Name:  "substring",
		Usage: "exact substring retrieval",
		Flags: []cli.Flag{
			fileFlag(),
			kFlag(),
			&cli.StringFlag{Name: "query", Aliases: []string{"q"}, Required: true},
		},
		Action: func(c *cli.Context) error {
			logger, err := newLogger(c)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			engine := lava.NewEngine(lava.WithLogger(logger))
			results, err := engine.SearchSubstring(c.Context, c.StringSlice("file"), c.String("query"), c.Int("k"))
			if err != nil {
				return err
			}
			printResults(results)
			return nil
		},
	}
}

func vocabCommand() *cli.Command {
	return &cli.Command{
		Name:  "vocab",
		Usage: "dump the tokenizer vocabulary shared by the files",
		Flags: []cli.Flag{fileFlag()},
		Action: func(c *cli.Context) error {
			logger, err := newLogger(c)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			engine := lava.NewEngine(lava.WithLogger(logger))
			vocab, err := engine.GetTokenizerVocab(c.Context, c.StringSlice("file"))
			if err != nil {
				return err
			}
			for id, token := range vocab {
				fmt.Printf("%d\t%s\n", id, token)
			}
			return nil
		},
	}
}

// benchCommand measures raw random range-read throughput against the storage
// backends, one task per file.
func benchCommand() *cli.Command {
	return &cli.Command{
		Name:  "bench",
		Usage: "random range-read benchmark over the given files",
		Flags: []cli.Flag{
			fileFlag(),
			&cli.IntFlag{Name: "iterations", Aliases: []string{"n"}, Value: 100},
			&cli.IntFlag{Name: "page-kb", Value: 64, Usage: "read size in KiB"},
		},
		Action: func(c *cli.Context) error {
			logger, err := newLogger(c)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			files := c.StringSlice("file")
			iterations := c.Int("iterations")
			pageSize := uint64(c.Int("page-kb")) * 1024

			bar := progressbar.Default(int64(len(files) * iterations))
			start := time.Now()

			g, ctx := errgroup.WithContext(c.Context)
			for _, uri := range files {
				uri := uri
				g.Go(func() error {
					return benchFile(ctx, uri, iterations, pageSize, logger, bar)
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			elapsed := time.Since(start)
			totalBytes := uint64(len(files)*iterations) * pageSize
			fmt.Printf("read %d MiB in %s (%.1f MiB/s)\n",
				totalBytes>>20, elapsed, float64(totalBytes)/(1<<20)/elapsed.Seconds())
			return nil
		},
	}
}

func benchFile(
	ctx context.Context,
	uri string,
	iterations int,
	pageSize uint64,
	logger *zap.Logger,
	bar *progressbar.ProgressBar,
) error {
	r, err := storage.Open(ctx, uri, storage.WithLogger(logger))
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	if r.Size() <= pageSize {
		return fmt.Errorf("%q is smaller than one page", uri)
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for i := 0; i < iterations; i++ {
		from := uint64(rng.Int63n(int64(r.Size() - pageSize)))
		if _, err := r.ReadRange(ctx, from, from+pageSize); err != nil {
			return err
		}
		_ = bar.Add(1)
	}
	return nil
}

func printResults(results []lava.Result) {
	for _, res := range results {
		fmt.Printf("%d\t%d\n", res.FileID, res.UID)
	}
}
