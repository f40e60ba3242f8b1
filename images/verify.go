package images

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"teedops/clients"
	"teedops/logger"
	"teedops/models"
)

// Link is one stored image reference.
type Link struct {
	Table string `json:"table"`
	ID    string `json:"id"`
	URL   string `json:"url"`
}

// BrokenLink is a reference whose URL did not answer 2xx/3xx.
type BrokenLink struct {
	Link
	Status int    `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

// VerifyReport is the outcome of Verify.
type VerifyReport struct {
	Links    int           `json:"links"`
	URLs     int           `json:"urls"`
	Broken   []BrokenLink  `json:"broken"`
	Cleared  int           `json:"cleared"`
	Duration time.Duration `json:"-"`
}

// Verifier checks that stored photo URLs still resolve.
type Verifier struct {
	client      *clients.SupabaseClient
	fetcher     *Fetcher
	concurrency int
	log         logger.Logger
}

func NewVerifier(client *clients.SupabaseClient, fetcher *Fetcher, concurrency int, log logger.Logger) *Verifier {
	if concurrency < 1 {
		concurrency = 1
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Verifier{client: client, fetcher: fetcher, concurrency: concurrency, log: log}
}

// Links collects equipment.image_url and equipment_photos.photo_url references.
func (v *Verifier) Links(ctx context.Context) ([]Link, error) {
	var links []Link

	equipment, err := clients.SelectAll[models.Equipment](ctx, v.client, models.TableEquipment,
		clients.NewQuery().Select("id,image_url").Not("image_url", "is", "null").Order("id", true), 1000)
	if err != nil {
		return nil, err
	}
	for _, e := range equipment {
		if e.ImageURL.String != "" {
			links = append(links, Link{Table: models.TableEquipment, ID: e.ID, URL: e.ImageURL.String})
		}
	}

	photos, err := clients.SelectAll[models.EquipmentPhoto](ctx, v.client, models.TableEquipmentPhotos,
		clients.NewQuery().Select("id,photo_url").Order("id", true), 1000)
	if err != nil {
		return nil, err
	}
	for _, p := range photos {
		if p.PhotoURL != "" {
			links = append(links, Link{Table: models.TableEquipmentPhotos, ID: p.ID, URL: p.PhotoURL})
		}
	}
	return links, nil
}

// Verify checks every distinct URL once. With clear, broken equipment.image_url
// values are set to null; photo rows are only reported.
func (v *Verifier) Verify(ctx context.Context, clear bool) (*VerifyReport, error) {
	start := time.Now()
	links, err := v.Links(ctx)
	if err != nil {
		return nil, err
	}

	byURL := map[string][]Link{}
	for _, l := range links {
		byURL[l.URL] = append(byURL[l.URL], l)
	}
	urls := make([]string, 0, len(byURL))
	for u := range byURL {
		urls = append(urls, u)
	}
	sort.Strings(urls)

	report := &VerifyReport{Links: len(links), URLs: len(urls)}
	var mu sync.Mutex
	var wg sync.WaitGroup
	semaphore := make(chan struct{}, v.concurrency)

	for _, u := range urls {
		if ctx.Err() != nil {
			break
		}
		semaphore <- struct{}{}
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			defer func() { <-semaphore }()

			status, err := v.fetcher.Check(ctx, u)
			if err == nil && status < 400 {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			for _, l := range byURL[u] {
				b := BrokenLink{Link: l, Status: status}
				if err != nil {
					b.Error = err.Error()
				}
				report.Broken = append(report.Broken, b)
			}
		}(u)
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return report, err
	}

	sort.Slice(report.Broken, func(i, j int) bool {
		if report.Broken[i].Table != report.Broken[j].Table {
			return report.Broken[i].Table < report.Broken[j].Table
		}
		return report.Broken[i].ID < report.Broken[j].ID
	})

	if clear {
		for _, b := range report.Broken {
			if b.Table != models.TableEquipment {
				continue
			}
			q := clients.NewQuery().Eq("id", b.ID).Eq("image_url", b.URL)
			if err := v.client.Update(ctx, models.TableEquipment, q, map[string]interface{}{"image_url": nil}, nil); err != nil {
				return report, fmt.Errorf("clearing image_url of %s: %w", b.ID, err)
			}
			report.Cleared++
			v.log.Info("images: cleared broken image_url", logger.String("equipment_id", b.ID), logger.String("url", b.URL))
		}
	}
	report.Duration = time.Since(start)
	return report, nil
}
