// Package seed fills catalog and demo tables with generated data.
package seed

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"
	"time"

	"teedops/clients"
	"teedops/logger"
	"teedops/models"
	"teedops/output"
)

// Retailers get one price row each per equipment item.
var Retailers = []string{
	"Golf Galaxy",
	"PGA Tour Superstore",
	"Dick's Sporting Goods",
	"Global Golf",
	"TGW",
}

const upsertBatch = 500

// Seeder writes seed data through PostgREST. With dryRun it computes everything
// and writes nothing.
type Seeder struct {
	client *clients.SupabaseClient
	dryRun bool
	log    logger.Logger
}

func NewSeeder(client *clients.SupabaseClient, dryRun bool, log logger.Logger) *Seeder {
	if log == nil {
		log = logger.NewNop()
	}
	return &Seeder{client: client, dryRun: dryRun, log: log}
}

// rngFor returns a generator that is stable for a given key.
func rngFor(key string) *rand.Rand {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return rand.New(rand.NewSource(int64(h.Sum64())))
}

// Prices returns the generated price for each retailer, in Retailers order. Each
// price is msrp shifted by -15%..+5% and rounded to the nearest x.99.
func Prices(equipmentID string, msrp float64) []float64 {
	r := rngFor(equipmentID)
	out := make([]float64, len(Retailers))
	for i := range Retailers {
		offset := -0.15 + r.Float64()*0.20
		out[i] = roundTo99(msrp * (1 + offset))
	}
	return out
}

func roundTo99(p float64) float64 {
	v := math.Round(p+0.01) - 0.01
	if v < 0.99 {
		v = 0.99
	}
	return math.Round(v*100) / 100
}

// SeedPrices creates price rows for every item with an msrp and no prices yet.
func (s *Seeder) SeedPrices(ctx context.Context) (output.BatchSummary, error) {
	start := time.Now()
	sum := output.BatchSummary{Task: "seed prices"}

	equipment, err := clients.SelectAll[models.Equipment](ctx, s.client, models.TableEquipment,
		clients.NewQuery().Select("id,brand,model,msrp").Not("msrp", "is", "null").Order("id", true), 1000)
	if err != nil {
		return sum, err
	}
	priced, err := clients.SelectAll[models.EquipmentPrice](ctx, s.client, models.TableEquipmentPrices,
		clients.NewQuery().Select("equipment_id").Order("equipment_id", true), 1000)
	if err != nil {
		return sum, err
	}
	has := make(map[string]bool, len(priced))
	for _, p := range priced {
		has[p.EquipmentID] = true
	}

	var rows []models.EquipmentPrice
	for _, e := range equipment {
		if has[e.ID] || e.MSRP.Float64 <= 0 {
			sum.Skipped++
			continue
		}
		for i, price := range Prices(e.ID, e.MSRP.Float64) {
			rows = append(rows, models.EquipmentPrice{
				EquipmentID: e.ID,
				Retailer:    Retailers[i],
				Price:       price,
				InStock:     true,
			})
		}
		sum.Success++
	}

	if !s.dryRun {
		for i := 0; i < len(rows); i += upsertBatch {
			end := i + upsertBatch
			if end > len(rows) {
				end = len(rows)
			}
			if err := s.client.Upsert(ctx, models.TableEquipmentPrices, rows[i:end], "equipment_id,retailer", nil); err != nil {
				sum.Duration = time.Since(start)
				return sum, err
			}
		}
	}
	s.log.Info("seed: prices", logger.Int("items", sum.Success), logger.Int("rows", len(rows)), logger.Bool("dry_run", s.dryRun))
	sum.Duration = time.Since(start)
	return sum, nil
}
