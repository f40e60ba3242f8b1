package images

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"teedops/clients"
	apperrors "teedops/errors"
	"teedops/ledger"
	"teedops/logger"
	"teedops/models"
	"teedops/output"
	"teedops/storage"

	"github.com/google/uuid"
	"github.com/guregu/null/v5"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/microcosm-cc/bluemonday"
)

// DefaultMaxPerSource is how many photos are kept per source without a limit.
const DefaultMaxPerSource = 3

// Options tune a collection run.
type Options struct {
	Bucket       string
	Concurrency  int
	MaxPerSource int
	// DryRun uploads to whatever store the collector was given but writes
	// nothing to the database or the ledger.
	DryRun bool
}

// ItemResult is the outcome of one source.
type ItemResult struct {
	Source      string   `json:"source"`
	EquipmentID string   `json:"equipment_id,omitempty"`
	Uploaded    []string `json:"uploaded,omitempty"`
	Skipped     int      `json:"skipped"`
	Errors      []string `json:"errors,omitempty"`
}

// Report is the outcome of a run.
type Report struct {
	Items   []ItemResult        `json:"items"`
	Summary output.BatchSummary `json:"summary"`
}

// Collector finds, normalizes and uploads equipment photos.
type Collector struct {
	client    *clients.SupabaseClient
	store     storage.ObjectStore
	ledger    *ledger.Ledger
	fetcher   *Fetcher
	opts      Options
	cache     *lru.Cache[string, *models.Equipment]
	sanitizer *bluemonday.Policy
	log       logger.Logger

	mu        sync.Mutex
	equipLock map[string]*sync.Mutex
}

// NewCollector wires a collector. led may be nil, which disables the local journal.
func NewCollector(client *clients.SupabaseClient, store storage.ObjectStore, led *ledger.Ledger, fetcher *Fetcher, opts Options, log logger.Logger) (*Collector, error) {
	if log == nil {
		log = logger.NewNop()
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.MaxPerSource < 1 {
		opts.MaxPerSource = DefaultMaxPerSource
	}
	if opts.Bucket == "" {
		return nil, apperrors.NewValidationError(apperrors.ErrCodeMissingField, "bucket is required", nil)
	}
	cache, err := lru.New[string, *models.Equipment](1024)
	if err != nil {
		return nil, apperrors.NewInternalError(apperrors.ErrCodeProcessingError, "failed to create equipment cache", err)
	}
	return &Collector{
		client:    client,
		store:     store,
		ledger:    led,
		fetcher:   fetcher,
		opts:      opts,
		cache:     cache,
		sanitizer: bluemonday.StrictPolicy(),
		log:       log,
		equipLock: map[string]*sync.Mutex{},
	}, nil
}

// Run processes sources with bounded concurrency. Per-item failures are counted,
// never returned; only cancellation stops the run early.
func (c *Collector) Run(ctx context.Context, sources []Source) (*Report, error) {
	start := time.Now()
	report := &Report{Items: make([]ItemResult, len(sources))}
	report.Summary.Task = "images collect"

	semaphore := make(chan struct{}, c.opts.Concurrency)
	var wg sync.WaitGroup

launch:
	for i, src := range sources {
		select {
		case <-ctx.Done():
			break launch
		case semaphore <- struct{}{}:
		}
		wg.Add(1)
		go func(i int, src Source) {
			defer wg.Done()
			defer func() { <-semaphore }()
			report.Items[i] = c.collect(ctx, src)
		}(i, src)
	}
	wg.Wait()

	for i, item := range report.Items {
		if item.Source == "" {
			report.Items[i].Source = sources[i].Key()
			report.Items[i].Skipped = 1
			report.Summary.Skipped++
			continue
		}
		report.Summary.Success += len(item.Uploaded)
		report.Summary.Skipped += item.Skipped
		report.Summary.Errors += len(item.Errors)
	}
	report.Summary.Duration = time.Since(start)
	return report, ctx.Err()
}

func (c *Collector) collect(ctx context.Context, src Source) ItemResult {
	res := ItemResult{Source: src.Key()}
	log := c.log.With(logger.String("source", res.Source))

	eq, err := c.lookup(ctx, src)
	if err != nil {
		res.Errors = append(res.Errors, err.Error())
		log.Error("images: equipment lookup failed", err)
		return res
	}
	if eq == nil {
		res.Skipped++
		log.Warn("images: no matching equipment")
		return res
	}
	res.EquipmentID = eq.ID

	candidates, err := c.candidates(ctx, src)
	if err != nil {
		res.Errors = append(res.Errors, err.Error())
		log.Error("images: no candidates", err)
		return res
	}
	if len(candidates) == 0 {
		res.Skipped++
		log.Warn("images: page has no usable images")
		return res
	}

	known, err := c.knownSourceURLs(ctx, candidates)
	if err != nil {
		res.Errors = append(res.Errors, err.Error())
		return res
	}

	limit := src.Limit
	if limit <= 0 {
		limit = c.opts.MaxPerSource
	}
	for _, cand := range candidates {
		if len(res.Uploaded) >= limit {
			break
		}
		if ctx.Err() != nil {
			res.Errors = append(res.Errors, ctx.Err().Error())
			return res
		}
		photoURL, skipped, err := c.collectOne(ctx, eq, cand, known)
		switch {
		case err != nil:
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", cand.URL, err))
			log.Warn("images: candidate failed", logger.String("url", cand.URL), logger.Any("error", err.Error()))
			c.markURL(ctx, cand.URL, eq.ID, ledger.StatusFailed)
		case skipped:
			res.Skipped++
		default:
			res.Uploaded = append(res.Uploaded, photoURL)
			log.Info("images: uploaded", logger.String("url", cand.URL), logger.String("photo_url", photoURL))
		}
	}
	return res
}

// collectOne handles a single candidate. skipped reports a dedup hit.
func (c *Collector) collectOne(ctx context.Context, eq *models.Equipment, cand Candidate, known map[string]bool) (string, bool, error) {
	if c.ledger != nil {
		seen, err := c.ledger.SeenURL(ctx, cand.URL)
		if err != nil {
			return "", false, err
		}
		if seen {
			return "", true, nil
		}
	}
	if known[cand.URL] {
		c.markURL(ctx, cand.URL, eq.ID, ledger.StatusSkipped)
		return "", true, nil
	}

	data, _, err := c.fetcher.FetchImage(ctx, cand.URL)
	if err != nil {
		return "", false, err
	}
	p, err := Process(data)
	if err != nil {
		return "", false, err
	}

	// Photos of one item are deduplicated and recorded one at a time.
	lock := c.lockFor(eq.ID)
	lock.Lock()
	defer lock.Unlock()

	dup, err := c.duplicateHash(ctx, eq.ID, p.Hash)
	if err != nil {
		return "", false, err
	}
	if dup {
		c.markURL(ctx, cand.URL, eq.ID, ledger.StatusSkipped)
		return "", true, nil
	}

	objectPath := eq.Slug() + "/" + uuid.NewString() + ".jpg"
	photoURL, err := c.store.Upload(ctx, c.opts.Bucket, objectPath, p.Data, "image/jpeg", false)
	if err != nil {
		return "", false, err
	}
	if c.opts.DryRun {
		return photoURL, false, nil
	}

	if err := c.record(ctx, eq, cand, p, photoURL); err != nil {
		if delErr := c.store.Delete(ctx, c.opts.Bucket, objectPath); delErr != nil {
			c.log.Warn("images: failed to remove orphaned upload", logger.String("path", objectPath), logger.Any("error", delErr.Error()))
		}
		return "", false, err
	}
	if c.ledger != nil {
		if err := c.ledger.MarkHash(ctx, p.Hash, eq.ID, photoURL); err != nil {
			c.log.Warn("images: ledger write failed", logger.Any("error", err.Error()))
		}
	}
	c.markURL(ctx, cand.URL, eq.ID, ledger.StatusUploaded)
	return photoURL, false, nil
}

// record inserts the photo row. The photo is primary only when it is the one
// that fills an empty equipment.image_url.
func (c *Collector) record(ctx context.Context, eq *models.Equipment, cand Candidate, p *Processed, photoURL string) error {
	var claimed []models.Equipment
	q := clients.NewQuery().Eq("id", eq.ID).Is("image_url", "null")
	if err := c.client.Update(ctx, models.TableEquipment, q, map[string]interface{}{"image_url": photoURL}, &claimed); err != nil {
		return err
	}
	primary := len(claimed) > 0

	photo := models.EquipmentPhoto{
		EquipmentID: eq.ID,
		PhotoURL:    photoURL,
		SourceURL:   null.StringFrom(cand.URL),
		ContentHash: null.StringFrom(p.Hash),
		Caption:     null.NewString(cand.Caption, cand.Caption != ""),
		Width:       null.IntFrom(int64(p.Width)),
		Height:      null.IntFrom(int64(p.Height)),
		IsPrimary:   primary,
	}
	if err := c.client.Insert(ctx, models.TableEquipmentPhotos, photo, nil); err != nil {
		if primary {
			undo := clients.NewQuery().Eq("id", eq.ID).Eq("image_url", photoURL)
			if uerr := c.client.Update(ctx, models.TableEquipment, undo, map[string]interface{}{"image_url": nil}, nil); uerr != nil {
				c.log.Warn("images: failed to reset image_url", logger.String("equipment_id", eq.ID), logger.Any("error", uerr.Error()))
			}
		}
		return err
	}
	return nil
}

func (c *Collector) lockFor(id string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.equipLock[id]
	if !ok {
		l = &sync.Mutex{}
		c.equipLock[id] = l
	}
	return l
}

// lookup resolves a source to its equipment row by case-insensitive brand and
// model. Misses are cached too.
func (c *Collector) lookup(ctx context.Context, src Source) (*models.Equipment, error) {
	key := src.Key()
	if eq, ok := c.cache.Get(key); ok {
		return eq, nil
	}

	var rows []models.Equipment
	q := clients.NewQuery().
		Select("id,brand,model,category,image_url").
		ILike("brand", escapeLike(src.Brand)).
		ILike("model", escapeLike(src.Model)).
		Limit(10)
	if err := c.client.Select(ctx, models.TableEquipment, q, &rows); err != nil {
		return nil, err
	}

	var eq *models.Equipment
	for i := range rows {
		if !strings.EqualFold(rows[i].Brand, src.Brand) || !strings.EqualFold(rows[i].Model, src.Model) {
			continue
		}
		if eq == nil || (src.Category != "" && rows[i].Category == src.Category) {
			eq = &rows[i]
		}
	}
	c.cache.Add(key, eq)
	return eq, nil
}

// escapeLike quotes LIKE wildcards. PostgREST turns * into % and offers no
// escape for it, so * is narrowed to a single-character match and lookup
// compares the returned rows exactly.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`, `*`, `_`)

func (c *Collector) candidates(ctx context.Context, src Source) ([]Candidate, error) {
	if len(src.ImageURLs) > 0 {
		out := make([]Candidate, len(src.ImageURLs))
		for i, u := range src.ImageURLs {
			out[i] = Candidate{URL: u}
		}
		return out, nil
	}
	body, final, err := c.fetcher.FetchPage(ctx, src.PageURL)
	if err != nil {
		return nil, err
	}
	if final == nil {
		final, _ = url.Parse(src.PageURL)
	}
	return ExtractCandidates(final, bytes.NewReader(body), src.Selector, c.sanitizer)
}

// knownSourceURLs returns which candidate URLs already have a photo row.
func (c *Collector) knownSourceURLs(ctx context.Context, candidates []Candidate) (map[string]bool, error) {
	urls := make([]string, len(candidates))
	for i, cand := range candidates {
		urls[i] = cand.URL
	}
	known := map[string]bool{}
	for _, chunk := range clients.Chunk(urls, 50) {
		var rows []models.EquipmentPhoto
		q := clients.NewQuery().Select("source_url").In("source_url", clients.Strings(chunk)...)
		if err := c.client.Select(ctx, models.TableEquipmentPhotos, q, &rows); err != nil {
			return nil, err
		}
		for _, r := range rows {
			if r.SourceURL.Valid {
				known[r.SourceURL.String] = true
			}
		}
	}
	return known, nil
}

// duplicateHash reports whether the item already has a photo with this content.
func (c *Collector) duplicateHash(ctx context.Context, equipmentID, hash string) (bool, error) {
	if c.ledger != nil {
		if _, seen, err := c.ledger.SeenHash(ctx, equipmentID, hash); err != nil || seen {
			return seen, err
		}
	}
	q := clients.NewQuery().Eq("equipment_id", equipmentID).Eq("content_hash", hash)
	n, err := c.client.Count(ctx, models.TableEquipmentPhotos, q)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (c *Collector) markURL(ctx context.Context, rawURL, equipmentID, status string) {
	if c.ledger == nil || c.opts.DryRun {
		return
	}
	if err := c.ledger.MarkURL(ctx, rawURL, equipmentID, status); err != nil {
		c.log.Warn("images: ledger write failed", logger.Any("error", err.Error()))
	}
}
