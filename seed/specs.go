package seed

import (
	"context"
	"strings"
	"time"

	"teedops/clients"
	"teedops/logger"
	"teedops/models"
	"teedops/output"
)

// SpecTemplates are the default specs per equipment category.
var SpecTemplates = map[string]map[string]interface{}{
	"driver":       {"loft": "10.5°", "shaft_flex": "Stiff", "head_size": "460cc"},
	"fairway_wood": {"loft": "15°", "shaft_flex": "Stiff"},
	"hybrid":       {"loft": "22°", "shaft_flex": "Regular"},
	"iron":         {"set_makeup": "4-PW", "shaft": "Steel", "shaft_flex": "Regular"},
	"wedge":        {"loft": "56°", "bounce": "12°", "grind": "S"},
	"putter":       {"length": `34"`, "head_style": "Blade"},
	"ball":         {"compression": "Mid", "layers": 3},
	"bag":          {"type": "Stand", "dividers": 14},
	"rangefinder":  {"range": "400 yds", "slope": false},
	"glove":        {"material": "Cabretta leather", "hand": "Left"},
}

var categoryAliases = map[string]string{
	"drivers":      "driver",
	"fairway":      "fairway_wood",
	"fairways":     "fairway_wood",
	"wood":         "fairway_wood",
	"woods":        "fairway_wood",
	"hybrids":      "hybrid",
	"irons":        "iron",
	"wedges":       "wedge",
	"putters":      "putter",
	"balls":        "ball",
	"golf_ball":    "ball",
	"bags":         "bag",
	"gloves":       "glove",
	"rangefinders": "rangefinder",
}

// TemplateFor returns the spec template for a category, or nil.
func TemplateFor(category string) map[string]interface{} {
	c := strings.ToLower(strings.TrimSpace(category))
	c = strings.NewReplacer(" ", "_", "-", "_").Replace(c)
	if alias, ok := categoryAliases[c]; ok {
		c = alias
	}
	return SpecTemplates[c]
}

// SeedSpecs fills empty specs from the category template. Items that already
// have specs are left alone.
func (s *Seeder) SeedSpecs(ctx context.Context) (output.BatchSummary, error) {
	start := time.Now()
	sum := output.BatchSummary{Task: "seed specs"}

	equipment, err := clients.SelectAll[models.Equipment](ctx, s.client, models.TableEquipment,
		clients.NewQuery().Select("id,brand,model,category,specs").Order("id", true), 1000)
	if err != nil {
		return sum, err
	}

	for _, e := range equipment {
		if len(e.Specs) > 0 {
			sum.Skipped++
			continue
		}
		tmpl := TemplateFor(e.Category)
		if tmpl == nil {
			s.log.Debug("seed: no spec template", logger.String("equipment_id", e.ID), logger.String("category", e.Category))
			sum.Skipped++
			continue
		}
		if !s.dryRun {
			err := s.client.Update(ctx, models.TableEquipment, clients.NewQuery().Eq("id", e.ID),
				map[string]interface{}{"specs": tmpl}, nil)
			if err != nil {
				s.log.Warn("seed: failed to set specs", logger.String("equipment_id", e.ID), logger.Any("error", err.Error()))
				sum.Errors++
				continue
			}
		}
		sum.Success++
	}
	sum.Duration = time.Since(start)
	return sum, nil
}
