package seed

import (
	"context"
	"testing"

	"teedops/clients"
	apperrors "teedops/errors"
	"teedops/logger"
	"teedops/models"
	"teedops/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSeeder(t *testing.T, dryRun bool) (*Seeder, *testutil.FakeSupabase) {
	t.Helper()
	fs := testutil.NewFakeSupabase(t)
	cfg := testutil.Config(t, fs)
	client := clients.NewSupabaseClient(cfg, cfg.Supabase.ServiceRoleKey, logger.NewNop())
	return NewSeeder(client, dryRun, nil), fs
}

func TestPrices(t *testing.T) {
	a := Prices("eq-1", 599.99)
	b := Prices("eq-1", 599.99)
	require.Len(t, a, len(Retailers))
	assert.Equal(t, a, b, "same item must always get the same prices")

	for _, p := range a {
		assert.GreaterOrEqual(t, p, 599.99*0.85-1)
		assert.LessOrEqual(t, p, 599.99*1.05+1)
		cents := int(p*100+0.5) % 100
		assert.Equal(t, 99, cents, "price %v", p)
	}
	assert.NotEqual(t, a, Prices("eq-2", 599.99))
}

func TestRoundTo99(t *testing.T) {
	assert.Equal(t, 499.99, roundTo99(500.20))
	assert.Equal(t, 499.99, roundTo99(499.60))
	assert.Equal(t, 0.99, roundTo99(0.10))
	assert.Equal(t, 12.99, roundTo99(12.80))
}

func TestSeedPrices(t *testing.T) {
	s, fs := newSeeder(t, false)
	fs.Unique(models.TableEquipmentPrices, "equipment_id", "retailer")
	fs.Seed(models.TableEquipment,
		testutil.Row{"id": "e1", "brand": "Ping", "model": "G430", "msrp": 549.99},
		testutil.Row{"id": "e2", "brand": "Titleist", "model": "Pro V1", "msrp": 54.99},
		testutil.Row{"id": "e3", "brand": "Odyssey", "model": "White Hot", "msrp": nil},
	)
	fs.Seed(models.TableEquipmentPrices,
		testutil.Row{"id": "p1", "equipment_id": "e2", "retailer": "TGW", "price": 49.99},
	)

	sum, err := s.SeedPrices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Success)
	assert.Equal(t, 1, sum.Skipped)

	rows := fs.Rows(models.TableEquipmentPrices)
	require.Len(t, rows, 1+len(Retailers))
	want := Prices("e1", 549.99)
	for _, r := range rows[1:] {
		assert.Equal(t, "e1", r["equipment_id"])
		assert.Contains(t, Retailers, r["retailer"])
		assert.Contains(t, want, r["price"])
	}

	sum, err = s.SeedPrices(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sum.Success)
	assert.Len(t, fs.Rows(models.TableEquipmentPrices), 1+len(Retailers))
}

func TestSeedPrices_DryRun(t *testing.T) {
	s, fs := newSeeder(t, true)
	fs.EnsureTable(models.TableEquipmentPrices)
	fs.Seed(models.TableEquipment, testutil.Row{"id": "e1", "brand": "Ping", "model": "G430", "msrp": 549.99})

	sum, err := s.SeedPrices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Success)
	assert.Empty(t, fs.Rows(models.TableEquipmentPrices))
}

func TestTemplateFor(t *testing.T) {
	assert.Equal(t, SpecTemplates["driver"], TemplateFor("Driver"))
	assert.Equal(t, SpecTemplates["fairway_wood"], TemplateFor("fairway-wood"))
	assert.Equal(t, SpecTemplates["fairway_wood"], TemplateFor("Fairway Wood"))
	assert.Equal(t, SpecTemplates["ball"], TemplateFor("golf ball"))
	assert.Equal(t, SpecTemplates["iron"], TemplateFor(" irons "))
	assert.Nil(t, TemplateFor("towel"))
}

func TestSeedSpecs(t *testing.T) {
	s, fs := newSeeder(t, false)
	fs.Seed(models.TableEquipment,
		testutil.Row{"id": "e1", "brand": "Ping", "model": "G430", "category": "driver", "specs": nil},
		testutil.Row{"id": "e2", "brand": "Vokey", "model": "SM10", "category": "wedges",
			"specs": map[string]interface{}{"loft": "60°"}},
		testutil.Row{"id": "e3", "brand": "Titleist", "model": "Towel", "category": "towel"},
	)

	sum, err := s.SeedSpecs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Success)
	assert.Equal(t, 2, sum.Skipped)

	rows := fs.Rows(models.TableEquipment)
	assert.Equal(t, "460cc", rows[0]["specs"].(map[string]interface{})["head_size"])
	assert.Equal(t, "60°", rows[1]["specs"].(map[string]interface{})["loft"])
	assert.Nil(t, rows[2]["specs"])
}

func TestSeedBadges(t *testing.T) {
	s, fs := newSeeder(t, false)
	fs.Unique(models.TableBadges, "name")
	fs.Seed(models.TableBadges, testutil.Row{"id": "b1", "name": "Early Adopter", "description": "old"})

	sum, err := s.SeedBadges(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len(Badges), sum.Success)

	rows := fs.Rows(models.TableBadges)
	require.Len(t, rows, len(Badges))
	assert.Equal(t, "b1", rows[0]["id"])
	assert.Equal(t, Badges[0].Description, rows[0]["description"])

	_, err = s.SeedBadges(context.Background())
	require.NoError(t, err)
	assert.Len(t, fs.Rows(models.TableBadges), len(Badges))
}

func TestDemoForum(t *testing.T) {
	s, fs := newSeeder(t, false)
	fs.Seed(models.TableProfiles, testutil.Row{"id": "u1"}, testutil.Row{"id": "u2"})
	fs.Seed(models.TableForumCategories,
		testutil.Row{"id": "c1", "name": "Equipment", "slug": "equipment"},
		testutil.Row{"id": "c2", "name": "Swing Tips", "slug": "swing-tips"},
	)
	fs.EnsureTable(models.TableForumThreads, models.TableForumPosts)

	sum, err := s.DemoForum(context.Background(), ForumOptions{Threads: 3, MaxReplies: 2, Category: "swing-tips", Seed: 7})
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Success)

	threads := fs.Rows(models.TableForumThreads)
	require.Len(t, threads, 3)
	ids := map[string]bool{}
	for _, th := range threads {
		assert.Equal(t, "c2", th["category_id"])
		assert.Contains(t, []interface{}{"u1", "u2"}, th["user_id"])
		assert.NotEmpty(t, th["title"])
		assert.Regexp(t, `^[a-z0-9-]+-[0-9a-f]{8}$`, th["slug"])
		ids[th["id"].(string)] = true
	}

	posts := fs.Rows(models.TableForumPosts)
	assert.GreaterOrEqual(t, len(posts), 3)
	assert.LessOrEqual(t, len(posts), 9)
	for _, p := range posts {
		assert.True(t, ids[p["thread_id"].(string)])
		assert.NotEmpty(t, p["content"])
	}
}

func TestDemoForum_Preconditions(t *testing.T) {
	ctx := context.Background()

	s, fs := newSeeder(t, false)
	fs.EnsureTable(models.TableProfiles, models.TableForumCategories)
	_, err := s.DemoForum(ctx, ForumOptions{Threads: 1})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeResourceNotFound))

	fs.Seed(models.TableProfiles, testutil.Row{"id": "u1"})
	_, err = s.DemoForum(ctx, ForumOptions{Threads: 1, Category: "nope"})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeResourceNotFound))

	_, err = s.DemoForum(ctx, ForumOptions{Threads: 0})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidRange))
}

func TestDemoForum_DryRun(t *testing.T) {
	s, fs := newSeeder(t, true)
	fs.Seed(models.TableProfiles, testutil.Row{"id": "u1"})
	fs.Seed(models.TableForumCategories, testutil.Row{"id": "c1", "name": "General", "slug": "general"})
	fs.EnsureTable(models.TableForumThreads)

	sum, err := s.DemoForum(context.Background(), ForumOptions{Threads: 2, MaxReplies: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Success)
	assert.Empty(t, fs.Rows(models.TableForumThreads))
}
