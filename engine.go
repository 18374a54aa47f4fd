// Package lava implements the search side of the lava index format: BM25
// ranked retrieval and FM-index substring retrieval over one or more index
// files on local disk or object storage.
package lava

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/google/btree"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/marsupialtail/rottnest/storage"
)

// Result identifies one matching document: the position of its index file in
// the queried file list and its construction-time uid.
type Result struct {
	FileID uint64
	UID    uint64
}

// OpenFunc resolves a URI to a byte-range reader. Exposed so callers and
// tests can substitute custom backends for the default storage dispatch.
type OpenFunc func(ctx context.Context, uri string) (storage.Reader, error)

// Engine runs BM25 and substring queries across a set of index files sharing
// one tokenizer. Per-file work is fanned out concurrently. BM25 results are
// merged after all tasks join; substring results are merged as each file's
// task delivers them. The zero value is not usable; call NewEngine.
type Engine struct {
	logger *zap.Logger
	open   OpenFunc
}

// NewEngine returns an engine with the given options applied.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{logger: zap.NewNop()}
	for _, o := range opts {
		o(e)
	}
	if e.open == nil {
		e.open = func(ctx context.Context, uri string) (storage.Reader, error) {
			return storage.Open(ctx, uri, storage.WithLogger(e.logger))
		}
	}
	return e
}

// openReaders opens one reader per file, concurrently. Exactly one reader
// serves each file for the whole query. On any failure every already opened
// reader is closed and the first error is returned.
func (e *Engine) openReaders(ctx context.Context, files []string) ([]storage.Reader, error) {
	readers := make([]storage.Reader, len(files))
	g, gctx := errgroup.WithContext(ctx)
	for i, uri := range files {
		i, uri := i, uri
		g.Go(func() error {
			r, err := e.open(gctx, uri)
			if err != nil {
				return err
			}
			readers[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		closeReaders(readers)
		return nil, err
	}
	return readers, nil
}

func closeReaders(readers []storage.Reader) error {
	var err error
	for _, r := range readers {
		if r != nil {
			err = multierr.Append(err, r.Close())
		}
	}
	return err
}

// scoredDoc orders the BM25 accumulator: best score first, ties broken by
// ascending (file, uid) so the final ordering is total and deterministic.
type scoredDoc struct {
	score  float32
	fileID uint64
	uid    uint64
}

func scoredDocLess(a, b scoredDoc) bool {
	if a.score != b.score {
		return a.score > b.score
	}
	if a.fileID != b.fileID {
		return a.fileID < b.fileID
	}
	return a.uid < b.uid
}

// SearchBM25 runs a weighted BM25 query over the files and returns the top-k
// documents by descending accumulated score.
func (e *Engine) SearchBM25(
	ctx context.Context,
	files []string,
	queryTokens []uint32,
	queryWeights []float32,
	k int,
) ([]Result, error) {
	if k <= 0 {
		return nil, invalidInputf("k must be positive, got %d", k)
	}
	if len(files) == 0 {
		return nil, invalidInputf("no index files given")
	}
	if len(queryTokens) == 0 {
		return nil, invalidInputf("empty token list")
	}
	if len(queryTokens) != len(queryWeights) {
		return nil, invalidInputf("%d tokens but %d weights", len(queryTokens), len(queryWeights))
	}
	for _, w := range queryWeights {
		if w < 0 || math.IsNaN(float64(w)) {
			return nil, invalidInputf("query weights must be non-negative")
		}
	}

	readers, err := e.openReaders(ctx, files)
	if err != nil {
		return nil, err
	}
	defer func() { _ = closeReaders(readers) }()

	// Phase one: load every file's term dictionary and offsets table.
	metas := make([]*bm25FileMeta, len(readers))
	g, gctx := errgroup.WithContext(ctx)
	for i, r := range readers {
		i, r := i, r
		g.Go(func() error {
			meta, err := loadBM25Meta(gctx, r)
			if err != nil {
				return err
			}
			metas[i] = meta
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Cross-file document and token totals feed the IDF.
	var totalDocuments uint64
	totalTokenCounts := make(map[uint32]uint64, len(queryTokens))
	for _, meta := range metas {
		totalDocuments += meta.trailer.numDocuments
		for _, token := range queryTokens {
			totalTokenCounts[token] += meta.tokenCount(token)
		}
	}

	idf := make(map[uint32]float32, len(queryTokens))
	for i, token := range queryTokens {
		count := float64(totalTokenCounts[token])
		n := float64(totalDocuments)
		value := float64(queryWeights[i]) * math.Log((n-count+0.5)/(count+0.5)+1.0)
		if math.IsNaN(value) {
			return nil, fmt.Errorf("%w: NaN idf from non-negative inputs", ErrInternal)
		}
		idf[token] = float32(value)
	}

	// Phase two: score every file; chunk fetches stay inside the file's task
	// so no reader is shared between tasks.
	fileScores := make([]map[uint64]float32, len(readers))
	g, gctx = errgroup.WithContext(ctx)
	for i, r := range readers {
		i, r := i, r
		g.Go(func() error {
			scores, err := searchBM25File(gctx, r, metas[i], queryTokens, idf, e.logger)
			if err != nil {
				return err
			}
			fileScores[i] = scores
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Merge and keep the k best; the tree holds at most k+1 entries.
	top := btree.NewG(8, scoredDocLess)
	for fileID, scores := range fileScores {
		for uid, score := range scores {
			if score == 0 {
				continue
			}
			top.ReplaceOrInsert(scoredDoc{score: score, fileID: uint64(fileID), uid: uid})
			if top.Len() > k {
				top.DeleteMax()
			}
		}
	}

	results := make([]Result, 0, top.Len())
	top.Ascend(func(d scoredDoc) bool {
		results = append(results, Result{FileID: d.fileID, UID: d.uid})
		return true
	})
	e.logger.Debug("bm25 search done",
		zap.Int("files", len(files)),
		zap.Int("results", len(results)))
	return results, nil
}

// SearchSubstring returns up to k+1 documents whose text contains the query
// as a literal substring after lowercasing and skip-token removal.
func (e *Engine) SearchSubstring(ctx context.Context, files []string, query string, k int) ([]Result, error) {
	if k <= 0 {
		return nil, invalidInputf("k must be positive, got %d", k)
	}
	if len(files) == 0 {
		return nil, invalidInputf("no index files given")
	}
	if query == "" {
		return nil, invalidInputf("empty query")
	}

	readers, err := e.openReaders(ctx, files)
	if err != nil {
		return nil, err
	}
	defer func() { _ = closeReaders(readers) }()

	tok, err := loadSharedTokenizer(ctx, readers, e.logger)
	if err != nil {
		return nil, err
	}
	queryIDs, err := encodeSubstringQuery(tok, query)
	if err != nil {
		return nil, err
	}
	if len(queryIDs) == 0 {
		return nil, invalidInputf("query %q contains no searchable tokens", query)
	}
	vocabSize := tok.GetVocabSize(false)

	// Per-file tasks stream their local uid sets to the merge loop, which
	// stops the whole group once more than k distinct pairs are known.
	searchCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(searchCtx)

	type fileUIDs struct {
		fileID uint64
		uids   map[uint64]struct{}
	}
	batches := make(chan fileUIDs, len(readers))

	for i, r := range readers {
		i, r := i, r
		g.Go(func() error {
			meta, err := loadFMMeta(gctx, r)
			if err != nil {
				return err
			}
			if len(meta.cumulativeCounts) != vocabSize {
				return errDataCorruption("cumulative counts length differs from vocabulary size")
			}

			fetcher, err := newFMChunkFetcher(r, meta)
			if err != nil {
				return err
			}
			start, end, err := backwardSearch(gctx, fetcher, meta, queryIDs, e.logger)
			if err != nil {
				return err
			}
			if start >= end {
				return nil
			}

			uids, err := collectUIDs(gctx, r, meta, start, end, k, e.logger)
			if err != nil {
				return err
			}
			batches <- fileUIDs{fileID: uint64(i), uids: uids}
			return nil
		})
	}

	merged := make(map[Result]struct{})
	mergeDone := make(chan struct{})
	go func() {
		defer close(mergeDone)
		for batch := range batches {
			for uid := range batch.uids {
				merged[Result{FileID: batch.fileID, UID: uid}] = struct{}{}
			}
			if len(merged) > k {
				stop()
			}
		}
	}()

	werr := g.Wait()
	close(batches)
	<-mergeDone
	if werr != nil {
		// Cancellation by our own early stop is success; a cancelled parent
		// context is not.
		if !errors.Is(werr, context.Canceled) || ctx.Err() != nil {
			return nil, werr
		}
	}

	results := make([]Result, 0, len(merged))
	for pair := range merged {
		results = append(results, pair)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].FileID != results[j].FileID {
			return results[i].FileID < results[j].FileID
		}
		return results[i].UID < results[j].UID
	})
	if len(results) > k+1 {
		results = results[:k+1]
	}
	e.logger.Debug("substring search done",
		zap.Int("files", len(files)),
		zap.Int("queryTokens", len(queryIDs)),
		zap.Int("results", len(results)))
	return results, nil
}

// GetTokenizerVocab returns the shared vocabulary of the files, one decoded
// string per id. Fails if the files embed different tokenizers.
func (e *Engine) GetTokenizerVocab(ctx context.Context, files []string) ([]string, error) {
	if len(files) == 0 {
		return nil, invalidInputf("no index files given")
	}

	readers, err := e.openReaders(ctx, files)
	if err != nil {
		return nil, err
	}
	defer func() { _ = closeReaders(readers) }()

	tok, err := loadSharedTokenizer(ctx, readers, e.logger)
	if err != nil {
		return nil, err
	}

	vocab := make([]string, tok.GetVocabSize(false))
	for i := range vocab {
		vocab[i] = tok.Decode([]uint32{uint32(i)}, false)
	}
	return vocab, nil
}
