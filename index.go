package vash

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/vash/blobstore"
	"github.com/hupe1980/vash/encoder"
	"github.com/hupe1980/vash/feature"
	"github.com/hupe1980/vash/internal/observability"
	"github.com/hupe1980/vash/manifest"
	"github.com/hupe1980/vash/match"
	"github.com/hupe1980/vash/persistence"
	"github.com/hupe1980/vash/vocabulary"
)

const (
	// RunsPrefix is the blob prefix of all run data.
	RunsPrefix = "runs"

	vocabularyBlob = "vocabulary.bin"
	databaseBlob   = "database.bin"
)

// TrainReport describes a committed training run.
type TrainReport struct {
	Manifest    *manifest.Manifest
	Videos      int
	Descriptors int
	Skipped     []*ExtractionError
	Iterations  int
	Converged   bool
	Reseeded    int
	Duration    time.Duration
}

// QueryReport is the ranked answer to a query video.
type QueryReport struct {
	Query       encoder.VideoEncoding
	Results     []match.Result
	Manifest    *manifest.Manifest
	Descriptors int
	Duration    time.Duration
}

// Snapshot is a loaded, verified training run.
type Snapshot struct {
	Manifest   *manifest.Manifest
	Vocabulary *vocabulary.Vocabulary
	Database   encoder.Database
	matcher    *match.Matcher
}

// Matcher returns the matcher over the snapshot's database.
func (s *Snapshot) Matcher() *match.Matcher { return s.matcher }

// Index trains visual vocabularies and ranks query videos against the
// last committed run in a blob store.
//
// An Index runs one pipeline at a time; Train or Query called while
// another pipeline runs returns ErrBusy.
type Index struct {
	store     blobstore.BlobStore
	manifests *manifest.Store
	opts      options

	running atomic.Bool
	phase   atomic.Int32

	mu       sync.Mutex
	snapshot *Snapshot
}

// New creates an Index over store.
func New(store blobstore.BlobStore, optFns ...Option) (*Index, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: nil blob store", ErrInvalidConfiguration)
	}
	o := applyOptions(optFns)
	if err := validateOptions(o); err != nil {
		return nil, err
	}

	throttled := blobstore.NewThrottledStore(store, o.resources)
	return &Index{
		store:     throttled,
		manifests: manifest.NewStore(throttled, manifest.WithCodec(o.codec), manifest.WithClock(o.now)),
		opts:      o,
	}, nil
}

func validateOptions(o options) error {
	switch {
	case o.limits.Dimension <= 0:
		return fmt.Errorf("%w: dimension must be positive, got %d", ErrInvalidConfiguration, o.limits.Dimension)
	case o.limits.MaxOrientations <= 0:
		return fmt.Errorf("%w: max orientations must be positive, got %d", ErrInvalidConfiguration, o.limits.MaxOrientations)
	case o.vocabulary.Size <= 0:
		return fmt.Errorf("%w: vocabulary size must be positive, got %d", ErrInvalidConfiguration, o.vocabulary.Size)
	case o.vocabulary.MaxIterations < 0:
		return fmt.Errorf("%w: negative max iterations", ErrInvalidConfiguration)
	case !o.metric.Valid():
		return fmt.Errorf("%w: %v", ErrInvalidConfiguration, o.metric)
	case o.topK < 0:
		return fmt.Errorf("%w: top-k must not be negative", ErrInvalidConfiguration)
	case o.compression > blobstore.CompressionZstd:
		return fmt.Errorf("%w: %v", ErrInvalidConfiguration, o.compression)
	}
	return nil
}

// Phase returns the phase of the running or last finished pipeline.
func (idx *Index) Phase() Phase {
	return Phase(idx.phase.Load())
}

func (idx *Index) setPhase(p Pipeline, ph Phase) {
	idx.phase.Store(int32(ph))
	if idx.opts.phaseHook != nil {
		idx.opts.phaseHook(p, ph)
	}
}

func (idx *Index) begin(p Pipeline) error {
	if !idx.running.CompareAndSwap(false, true) {
		return ErrBusy
	}
	idx.setPhase(p, PhaseIdle)
	return nil
}

func (idx *Index) end(p Pipeline, err error) {
	if err != nil {
		idx.setPhase(p, PhaseFailed)
	}
	idx.running.Store(false)
}

// Train builds a vocabulary from the videos at paths, encodes them and
// commits the run. Videos whose features cannot be read are skipped and
// reported; their position still counts for the sequence numbers of later
// videos. Nothing is committed unless every phase succeeds.
func (idx *Index) Train(ctx context.Context, paths []string) (report *TrainReport, err error) {
	if err := idx.begin(PipelineTrain); err != nil {
		return nil, err
	}
	start := idx.opts.now()
	ctx, span := observability.StartPipelineSpan(ctx, string(PipelineTrain), attribute.Int("vash.videos", len(paths)))
	defer func() {
		err = translateError(err)
		observability.RecordError(span, err)
		span.End()

		videos, skipped := 0, 0
		if report != nil {
			report.Duration = idx.opts.now().Sub(start)
			videos, skipped = report.Videos, len(report.Skipped)
		}
		idx.opts.metricsCollector.RecordTrain(videos, skipped, idx.opts.now().Sub(start), err)
		idx.opts.logger.LogTrain(ctx, report, err)
		idx.end(PipelineTrain, err)
	}()

	if uint64(len(paths)) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: too many videos: %d", ErrInvalidConfiguration, len(paths))
	}
	trainer, err := vocabulary.NewTrainer(idx.opts.vocabulary)
	if err != nil {
		return nil, err
	}

	idx.setPhase(PipelineTrain, PhaseCollecting)
	phaseStart := idx.opts.now()
	coll, err := idx.collect(ctx, paths)
	if err != nil {
		return nil, err
	}
	defer idx.opts.resources.ReleaseMemory(coll.reserved)
	descriptors := len(coll.pool) / idx.opts.limits.Dimension
	idx.opts.logger.LogTrainPhase(ctx, PhaseCollecting, idx.opts.now().Sub(phaseStart),
		"videos", len(coll.videos), "skipped", len(coll.skipped), "descriptors", descriptors)

	idx.setPhase(PipelineTrain, PhaseClustering)
	phaseStart = idx.opts.now()
	res, err := idx.cluster(ctx, trainer, coll.pool)
	if err != nil {
		return nil, err
	}
	idx.opts.logger.LogTrainPhase(ctx, PhaseClustering, idx.opts.now().Sub(phaseStart),
		"vocabulary_size", res.Vocabulary.Size(), "iterations", res.Iterations, "converged", res.Converged)

	idx.setPhase(PipelineTrain, PhaseEncoding)
	phaseStart = idx.opts.now()
	db, err := idx.encodeAll(ctx, res.Vocabulary, coll.videos)
	if err != nil {
		return nil, err
	}
	idx.opts.metricsCollector.RecordEncode(len(db), descriptors, idx.opts.now().Sub(phaseStart))
	idx.opts.logger.LogTrainPhase(ctx, PhaseEncoding, idx.opts.now().Sub(phaseStart), "videos", len(db))

	report = &TrainReport{
		Videos:      len(db),
		Descriptors: descriptors,
		Skipped:     coll.skipped,
		Iterations:  res.Iterations,
		Converged:   res.Converged,
		Reseeded:    res.Reseeded,
	}
	m, err := idx.persist(ctx, res, db, report)
	if err != nil {
		return nil, err
	}
	report.Manifest = m
	idx.setPhase(PipelineTrain, PhasePersisted)
	return report, nil
}

type collection struct {
	videos   []encoder.Video
	pool     []float32
	skipped  []*ExtractionError
	reserved int64
}

// collect extracts the features of every path and concatenates their
// descriptors in input order.
func (idx *Index) collect(ctx context.Context, paths []string) (*collection, error) {
	ctx, span := observability.StartPhaseSpan(ctx, string(PipelineTrain), PhaseCollecting.String())
	defer span.End()

	type slot struct {
		video encoder.Video
		err   *ExtractionError
	}
	rc := idx.opts.resources
	dim := idx.opts.limits.Dimension
	slots := make([]slot, len(paths))

	var reserved atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range paths {
		if err := rc.AcquireWorker(gctx); err != nil {
			break
		}
		g.Go(func() error {
			defer rc.ReleaseWorker()

			id, err := encoder.NewVideoIdentity(p, uint32(i))
			if err == nil && (p == "" || strings.ContainsRune(p, 0)) {
				err = persistence.ErrInvalidName
			}
			if err != nil {
				slots[i].err = &ExtractionError{Identity: encoder.VideoIdentity{Name: p, Seq: uint32(i)}, Err: err}
				return nil
			}
			features, err := idx.extract(gctx, id, idx.opts.limits)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				slots[i].err = &ExtractionError{Identity: id, Err: err}
				return nil
			}

			bytes := int64(feature.Count(features)) * int64(dim) * 4
			if err := rc.ReserveMemory(bytes); err != nil {
				return fmt.Errorf("%w: descriptor pool: %w", ErrResourceExhausted, err)
			}
			reserved.Add(bytes)
			slots[i].video = encoder.Video{Identity: id, Features: features}
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		rc.ReleaseMemory(reserved.Load())
		observability.RecordError(span, err)
		return nil, err
	}

	c := &collection{reserved: reserved.Load()}
	total := 0
	for i := range slots {
		if slots[i].err == nil {
			total += feature.Count(slots[i].video.Features)
		}
	}
	c.pool = make([]float32, 0, total*dim)
	for i := range slots {
		s := &slots[i]
		if s.err != nil {
			c.skipped = append(c.skipped, s.err)
			idx.opts.logger.LogSkip(ctx, s.err)
			idx.opts.metricsCollector.RecordSkip()
			continue
		}
		c.videos = append(c.videos, s.video)
		for _, f := range s.video.Features {
			for _, d := range f.Orientations {
				c.pool = append(c.pool, d...)
			}
		}
	}
	span.SetAttributes(
		attribute.Int("vash.videos", len(c.videos)),
		attribute.Int("vash.skipped", len(c.skipped)),
	)
	return c, nil
}

func (idx *Index) extract(ctx context.Context, id encoder.VideoIdentity, limits feature.Limits) ([]feature.Feature, error) {
	features, err := idx.opts.source.Features(ctx, id.Name)
	if err != nil {
		return nil, err
	}
	return limits.Sanitize(features)
}

func (idx *Index) cluster(ctx context.Context, trainer *vocabulary.Trainer, pool []float32) (*vocabulary.Result, error) {
	ctx, span := observability.StartPhaseSpan(ctx, string(PipelineTrain), PhaseClustering.String())
	defer span.End()

	res, err := trainer.TrainFlat(ctx, pool)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("vash.iterations", res.Iterations),
		attribute.Bool("vash.converged", res.Converged),
		attribute.Int("vash.reseeded", res.Reseeded),
	)
	return res, nil
}

func (idx *Index) encodeAll(ctx context.Context, vocab *vocabulary.Vocabulary, videos []encoder.Video) (encoder.Database, error) {
	ctx, span := observability.StartPhaseSpan(ctx, string(PipelineTrain), PhaseEncoding.String())
	defer span.End()

	enc := encoder.New(vocab, encoder.WithWorkers(idx.opts.resources.Workers()))
	db, err := enc.EncodeAll(ctx, videos)
	observability.RecordError(span, err)
	return db, err
}

// persist writes the run blobs and commits a manifest naming them. Blobs of
// a run that fails to commit are removed.
func (idx *Index) persist(ctx context.Context, res *vocabulary.Result, db encoder.Database, report *TrainReport) (*manifest.Manifest, error) {
	ctx, span := observability.StartPhaseSpan(ctx, string(PipelineTrain), "persisting")
	defer span.End()

	runID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("run id: %w", err)
	}
	m := &manifest.Manifest{
		RunID:           runID.String(),
		Dimension:       idx.opts.limits.Dimension,
		VocabularySize:  res.Vocabulary.Size(),
		MaxOrientations: idx.opts.limits.MaxOrientations,
		Metric:          idx.opts.metric.String(),
		Compression:     idx.opts.compression.String(),
		Seed:            idx.opts.vocabulary.Seed,
		Iterations:      res.Iterations,
		Converged:       res.Converged,
		Reseeded:        res.Reseeded,
		Videos:          len(db),
		Descriptors:     report.Descriptors,
	}
	for _, s := range report.Skipped {
		m.Skipped = append(m.Skipped, manifest.SkippedVideo{Identity: s.Identity, Reason: s.Err.Error()})
	}
	span.SetAttributes(attribute.String("vash.run", m.RunID))

	prefix := path.Join(RunsPrefix, m.RunID)
	data := blobstore.NewCompressedStore(idx.store, idx.opts.compression)
	cleanup := func() {
		cctx := context.WithoutCancel(ctx)
		_ = idx.store.Delete(cctx, path.Join(prefix, vocabularyBlob))
		_ = idx.store.Delete(cctx, path.Join(prefix, databaseBlob))
	}
	fail := func(err error) (*manifest.Manifest, error) {
		cleanup()
		observability.RecordError(span, err)
		return nil, err
	}

	m.Vocabulary, err = writeBlob(ctx, data, path.Join(prefix, vocabularyBlob), func(w io.Writer) error {
		return persistence.WriteVocabulary(w, res.Vocabulary)
	})
	if err != nil {
		return fail(storageError("write vocabulary", err))
	}
	m.Database, err = writeBlob(ctx, data, path.Join(prefix, databaseBlob), func(w io.Writer) error {
		return persistence.WriteDatabase(w, db)
	})
	if err != nil {
		return fail(storageError("write database", err))
	}

	start := idx.opts.now()
	err = idx.manifests.Commit(ctx, m)
	idx.opts.metricsCollector.RecordCommit(idx.opts.now().Sub(start), err)
	idx.opts.logger.LogCommit(ctx, m, err)
	if err != nil {
		return fail(storageError("commit manifest", err))
	}
	return m, nil
}

func writeBlob(ctx context.Context, store blobstore.BlobStore, name string, fn func(io.Writer) error) (manifest.BlobRef, error) {
	var ref manifest.BlobRef
	err := blobstore.WriteFile(ctx, store, name, func(w io.Writer) error {
		cw := persistence.NewChecksumWriter(w)
		if err := fn(cw); err != nil {
			return err
		}
		ref = manifest.BlobRef{Name: name, Size: cw.Size(), CRC32: cw.Sum()}
		return nil
	})
	return ref, err
}

func storageError(op string, err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, blobstore.ErrCorrupt), errors.Is(err, persistence.ErrCorrupt):
		return fmt.Errorf("%w: %s: %w", ErrCorrupt, op, err)
	default:
		return &IOError{Op: op, Err: err}
	}
}

// Snapshot loads the committed run, verifying blob checksums. Loaded runs
// are cached until a newer run is committed.
func (idx *Index) Snapshot(ctx context.Context) (*Snapshot, error) {
	m, err := idx.Current(ctx)
	if err != nil {
		return nil, err
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if s := idx.snapshot; s != nil && s.Manifest.ID == m.ID && s.Manifest.RunID == m.RunID {
		return s, nil
	}
	s, err := idx.loadSnapshot(ctx, m)
	if err != nil {
		return nil, err
	}
	idx.snapshot = s
	return s, nil
}

// Current returns the manifest of the committed run without loading its
// blobs.
func (idx *Index) Current(ctx context.Context) (*manifest.Manifest, error) {
	m, err := idx.manifests.Current(ctx)
	switch {
	case err == nil:
		return m, nil
	case errors.Is(err, manifest.ErrNotFound):
		return nil, ErrNoSnapshot
	case errors.Is(err, blobstore.ErrCorrupt), errors.Is(err, manifest.ErrIncompatibleVersion):
		return nil, translateError(err)
	default:
		return nil, storageError("read manifest", err)
	}
}

func (idx *Index) loadSnapshot(ctx context.Context, m *manifest.Manifest) (*Snapshot, error) {
	compression, err := blobstore.ParseCompression(m.Compression)
	if err != nil {
		return nil, fmt.Errorf("%w: manifest %d: %w", ErrCorrupt, m.ID, err)
	}
	metric, err := match.ParseMetric(m.Metric)
	if err != nil {
		return nil, fmt.Errorf("%w: manifest %d: %w", ErrCorrupt, m.ID, err)
	}
	data := blobstore.NewCompressedStore(idx.store, compression)

	raw, err := blobstore.ReadFile(ctx, data, m.Vocabulary.Name)
	if err != nil {
		return nil, storageError("read vocabulary", err)
	}
	if err := persistence.VerifyChecksum(m.Vocabulary.CRC32, persistence.Checksum(raw)); err != nil {
		return nil, storageError("verify vocabulary", err)
	}
	vocab, err := persistence.DecodeVocabulary(raw, m.Dimension)
	if err != nil {
		return nil, storageError("decode vocabulary", err)
	}
	if vocab.Size() != m.VocabularySize {
		return nil, fmt.Errorf("%w: vocabulary has %d words, manifest says %d", ErrCorrupt, vocab.Size(), m.VocabularySize)
	}

	db, err := readDatabase(ctx, data, m)
	if err != nil {
		return nil, err
	}

	matcher, err := match.NewMatcher(db, vocab.Size(), match.WithMetric(metric), match.WithTopK(idx.opts.topK))
	if err != nil {
		return nil, translateError(err)
	}
	return &Snapshot{Manifest: m, Vocabulary: vocab, Database: db, matcher: matcher}, nil
}

func readDatabase(ctx context.Context, store blobstore.BlobStore, m *manifest.Manifest) (encoder.Database, error) {
	blob, err := store.Open(ctx, m.Database.Name)
	if err != nil {
		return nil, storageError("open database", err)
	}
	defer blob.Close()

	cr := persistence.NewChecksumReader(blobstore.NewReader(ctx, blob))
	db, err := persistence.ReadDatabase(cr, m.VocabularySize)
	if err != nil {
		return nil, storageError("read database", err)
	}
	if err := cr.Verify(m.Database.CRC32); err != nil {
		return nil, storageError("verify database", err)
	}
	if len(db) != m.Videos {
		return nil, fmt.Errorf("%w: database has %d records, manifest says %d", ErrCorrupt, len(db), m.Videos)
	}
	return db, nil
}

// Query extracts the features of the video at path, encodes it with the
// committed vocabulary and ranks the committed database against it.
func (idx *Index) Query(ctx context.Context, videoPath string) (report *QueryReport, err error) {
	if err := idx.begin(PipelineQuery); err != nil {
		return nil, err
	}
	start := idx.opts.now()
	ctx, span := observability.StartPipelineSpan(ctx, string(PipelineQuery), attribute.String("vash.query", videoPath))
	defer func() {
		err = translateError(err)
		observability.RecordError(span, err)
		span.End()

		results := 0
		if report != nil {
			report.Duration = idx.opts.now().Sub(start)
			results = len(report.Results)
		}
		idx.opts.metricsCollector.RecordQuery(results, idx.opts.now().Sub(start), err)
		idx.opts.logger.LogQuery(ctx, videoPath, results, err)
		idx.end(PipelineQuery, err)
	}()

	idx.setPhase(PipelineQuery, PhaseExtracting)
	snap, err := idx.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if snap.Manifest.Dimension != idx.opts.limits.Dimension {
		return nil, fmt.Errorf("%w: run %s has dimension %d, index uses %d",
			ErrInvalidConfiguration, snap.Manifest.RunID, snap.Manifest.Dimension, idx.opts.limits.Dimension)
	}

	// Query features obey the limits the run was trained under.
	limits := feature.Limits{Dimension: snap.Manifest.Dimension, MaxOrientations: snap.Manifest.MaxOrientations}
	id := encoder.VideoIdentity{Name: videoPath}
	features, err := idx.extract(ctx, id, limits)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &ExtractionError{Identity: id, Err: err}
	}

	idx.setPhase(PipelineQuery, PhaseEncoding)
	query, err := encoder.New(snap.Vocabulary).Encode(id, features)
	if err != nil {
		return nil, err
	}
	if len(query.Words) == 0 {
		return nil, ErrInsufficientFeatures
	}

	idx.setPhase(PipelineQuery, PhaseMatching)
	mctx, mspan := observability.StartPhaseSpan(ctx, string(PipelineQuery), PhaseMatching.String())
	results, err := snap.matcher.Match(mctx, query)
	observability.RecordError(mspan, err)
	mspan.End()
	if err != nil {
		return nil, err
	}

	idx.setPhase(PipelineQuery, PhaseRanked)
	return &QueryReport{
		Query:       query,
		Results:     results,
		Manifest:    snap.Manifest,
		Descriptors: len(query.Words),
	}, nil
}

// QueryEncoding ranks the committed database against a prepared encoding.
// It does not take part in the pipeline state machine.
func (idx *Index) QueryEncoding(ctx context.Context, query encoder.VideoEncoding) ([]match.Result, error) {
	if len(query.Words) == 0 {
		return nil, ErrInsufficientFeatures
	}
	snap, err := idx.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	results, err := snap.matcher.Match(ctx, query)
	return results, translateError(err)
}

// Runs lists the committed runs, oldest first.
func (idx *Index) Runs(ctx context.Context) ([]*manifest.Manifest, error) {
	runs, err := idx.manifests.ListVersions(ctx)
	if err != nil {
		return nil, storageError("list runs", err)
	}
	return runs, nil
}

// Prune deletes all but the newest keep runs. The committed run is always
// kept. Each pruned manifest is deleted before its blobs, so a failure never
// leaves a listed run without data.
func (idx *Index) Prune(ctx context.Context, keep int) ([]*manifest.Manifest, error) {
	if keep < 1 {
		return nil, fmt.Errorf("%w: keep must be at least 1, got %d", ErrInvalidConfiguration, keep)
	}
	runs, err := idx.Runs(ctx)
	if err != nil {
		return nil, err
	}
	var current uint64
	switch m, err := idx.Current(ctx); {
	case err == nil:
		current = m.ID
	case !errors.Is(err, ErrNoSnapshot):
		return nil, err
	}

	var pruned []*manifest.Manifest
	for _, m := range runs[:max(0, len(runs)-keep)] {
		if m.ID == current {
			continue
		}
		if err := idx.manifests.DeleteVersion(ctx, m.ID); err != nil && !errors.Is(err, blobstore.ErrNotFound) {
			return pruned, storageError("delete manifest", err)
		}
		for _, name := range []string{m.Vocabulary.Name, m.Database.Name} {
			if err := idx.store.Delete(ctx, name); err != nil && !errors.Is(err, blobstore.ErrNotFound) {
				return pruned, storageError("delete run blob", err)
			}
		}
		idx.opts.logger.InfoContext(ctx, "run pruned", "manifest", m.ID, "run", m.RunID)
		pruned = append(pruned, m)
	}
	return pruned, nil
}
