package checks

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"teedops/clients"
	apperrors "teedops/errors"
	"teedops/models"
	"teedops/rls"
	"teedops/waitlist"

	supabase "github.com/supabase-community/supabase-go"
)

// Deps are the handles the built-in checks need. Anon and DB are optional.
type Deps struct {
	Service  *clients.SupabaseClient
	Anon     *clients.SupabaseClient
	Official *supabase.Client
	DB       rls.Querier
	Catalog  *rls.Catalog
	Capacity int
}

// Builtin returns every built-in check in report order.
func Builtin(d Deps) []Check {
	return []Check{
		&tablesCheck{client: d.Official},
		&anonVisibilityCheck{anon: d.Anon},
		&orphanBagEquipmentCheck{client: d.Service},
		&equipmentWithoutPhotosCheck{client: d.Service},
		&likeCounterDriftCheck{client: d.Service, sample: 50},
		&waitlistCapacityCheck{client: d.Service, fallback: d.Capacity},
		&rpcFunctionsCheck{client: d.Service},
		&rlsPoliciesCheck{db: d.DB, catalog: d.Catalog},
		&migrationVersionCheck{db: d.DB},
	}
}

// --- tables ---

type tablesCheck struct {
	client *supabase.Client
}

func (c *tablesCheck) Name() string { return "tables" }

func (c *tablesCheck) Run(ctx context.Context) Result {
	if c.client == nil {
		return failf("no Supabase client")
	}
	var failed, details []string
	for _, t := range models.AllTables {
		if ctx.Err() != nil {
			return failf("interrupted: %v", ctx.Err())
		}
		var rows []map[string]interface{}
		count, err := c.client.From(t).Select("*", "exact", false).Limit(1, "").ExecuteTo(&rows)
		if err != nil {
			failed = append(failed, t)
			details = append(details, fmt.Sprintf("%s: %v", t, err))
			continue
		}
		details = append(details, fmt.Sprintf("%s: %d rows", t, count))
	}
	if len(failed) > 0 {
		return failf("%d of %d tables unreachable: %s", len(failed), len(models.AllTables), strings.Join(failed, ", ")).with(details...)
	}
	return okf("all %d tables answer", len(models.AllTables)).with(details...)
}

// --- anon-visibility ---

var (
	anonPublicTables  = []string{models.TableEquipment, models.TableFeedPosts, models.TableForumThreads, models.TableBadges}
	anonPrivateTables = []string{models.TableWaitlist, models.TableInviteCodes}
)

type anonVisibilityCheck struct {
	anon *clients.SupabaseClient
}

func (c *anonVisibilityCheck) Name() string { return "anon-visibility" }

func (c *anonVisibilityCheck) Run(ctx context.Context) Result {
	if c.anon == nil {
		return warnf("SUPABASE_ANON_KEY not set, skipped")
	}
	var problems, details []string
	for _, t := range anonPublicTables {
		n, err := c.anon.Count(ctx, t, nil)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s not readable by anon: %v", t, err))
			continue
		}
		details = append(details, fmt.Sprintf("%s: %d visible", t, n))
	}
	for _, t := range anonPrivateTables {
		n, err := c.anon.Count(ctx, t, nil)
		if err != nil {
			if apperrors.HasCode(err, apperrors.ErrCodePermissionDenied) {
				details = append(details, fmt.Sprintf("%s: permission denied", t))
				continue
			}
			problems = append(problems, fmt.Sprintf("%s: %v", t, err))
			continue
		}
		if n > 0 {
			problems = append(problems, fmt.Sprintf("%s leaks %d rows to anon", t, n))
			continue
		}
		details = append(details, fmt.Sprintf("%s: hidden", t))
	}
	if len(problems) > 0 {
		return failf("%d visibility problem(s)", len(problems)).with(append(problems, details...)...)
	}
	return okf("public tables readable, private tables hidden").with(details...)
}

// --- orphan-bag-equipment ---

type orphanBagEquipmentCheck struct {
	client *clients.SupabaseClient
}

func (c *orphanBagEquipmentCheck) Name() string { return "orphan-bag-equipment" }

// existingIDs returns which of ids exist in table.
func existingIDs(ctx context.Context, client *clients.SupabaseClient, table string, ids []string) (map[string]bool, error) {
	found := map[string]bool{}
	for _, chunk := range clients.Chunk(ids, 100) {
		var rows []struct {
			ID string `json:"id"`
		}
		if err := client.Select(ctx, table, clients.NewQuery().Select("id").In("id", clients.Strings(chunk)...), &rows); err != nil {
			return nil, err
		}
		for _, r := range rows {
			found[r.ID] = true
		}
	}
	return found, nil
}

func uniq(ids []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, id := range ids {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func (c *orphanBagEquipmentCheck) Run(ctx context.Context) Result {
	rows, err := clients.SelectAll[models.BagEquipment](ctx, c.client, models.TableBagEquipment,
		clients.NewQuery().Select("id,bag_id,equipment_id").Order("id", true), 1000)
	if err != nil {
		return failf("failed to read bag_equipment: %v", err)
	}
	if len(rows) == 0 {
		return okf("bag_equipment is empty")
	}

	var bagIDs, equipmentIDs []string
	for _, r := range rows {
		bagIDs = append(bagIDs, r.BagID)
		equipmentIDs = append(equipmentIDs, r.EquipmentID)
	}
	bags, err := existingIDs(ctx, c.client, models.TableUserBags, uniq(bagIDs))
	if err != nil {
		return failf("failed to read user_bags: %v", err)
	}
	equipment, err := existingIDs(ctx, c.client, models.TableEquipment, uniq(equipmentIDs))
	if err != nil {
		return failf("failed to read equipment: %v", err)
	}

	var orphans []string
	for _, r := range rows {
		var missing []string
		if !bags[r.BagID] {
			missing = append(missing, "bag "+r.BagID)
		}
		if !equipment[r.EquipmentID] {
			missing = append(missing, "equipment "+r.EquipmentID)
		}
		if len(missing) > 0 {
			orphans = append(orphans, fmt.Sprintf("%s: missing %s", r.ID, strings.Join(missing, " and ")))
		}
	}
	if len(orphans) > 0 {
		return warnf("%d of %d bag_equipment rows are orphaned", len(orphans), len(rows)).with(limitDetails(orphans, 10)...)
	}
	return okf("%d bag_equipment rows, none orphaned", len(rows))
}

// --- equipment-without-photos ---

type equipmentWithoutPhotosCheck struct {
	client *clients.SupabaseClient
}

func (c *equipmentWithoutPhotosCheck) Name() string { return "equipment-without-photos" }

func (c *equipmentWithoutPhotosCheck) Run(ctx context.Context) Result {
	noImage, err := clients.SelectAll[models.Equipment](ctx, c.client, models.TableEquipment,
		clients.NewQuery().Select("id,brand,model").Is("image_url", "null").Order("brand", true).Order("model", true), 1000)
	if err != nil {
		return failf("failed to read equipment: %v", err)
	}
	if len(noImage) == 0 {
		return okf("every equipment row has an image")
	}

	ids := make([]string, len(noImage))
	for i, e := range noImage {
		ids[i] = e.ID
	}
	withPhotos := map[string]bool{}
	for _, chunk := range clients.Chunk(ids, 100) {
		var photos []struct {
			EquipmentID string `json:"equipment_id"`
		}
		if err := c.client.Select(ctx, models.TableEquipmentPhotos,
			clients.NewQuery().Select("equipment_id").In("equipment_id", clients.Strings(chunk)...), &photos); err != nil {
			return failf("failed to read equipment_photos: %v", err)
		}
		for _, p := range photos {
			withPhotos[p.EquipmentID] = true
		}
	}

	var bare []string
	for _, e := range noImage {
		if !withPhotos[e.ID] {
			bare = append(bare, e.DisplayName())
		}
	}
	if len(bare) == 0 {
		return okf("%d items lack image_url but all have photos", len(noImage))
	}
	return warnf("%d equipment items have no image and no photos", len(bare)).with(limitDetails(bare, 10)...)
}

// --- like-counter-drift ---

type likeCounterDriftCheck struct {
	client *clients.SupabaseClient
	sample int
}

func (c *likeCounterDriftCheck) Name() string { return "like-counter-drift" }

func (c *likeCounterDriftCheck) Run(ctx context.Context) Result {
	var posts []models.FeedPost
	if err := c.client.Select(ctx, models.TableFeedPosts,
		clients.NewQuery().Select("id,likes_count").Order("created_at", false).Limit(c.sample), &posts); err != nil {
		return failf("failed to read feed_posts: %v", err)
	}

	var drift []string
	for _, p := range posts {
		n, err := c.client.Count(ctx, models.TableFeedLikes, clients.NewQuery().Eq("post_id", p.ID))
		if err != nil {
			return failf("failed to count likes for %s: %v", p.ID, err)
		}
		if n != p.LikesCount {
			drift = append(drift, fmt.Sprintf("%s: likes_count=%d actual=%d", p.ID, p.LikesCount, n))
		}
	}
	if len(drift) > 0 {
		return warnf("%d of %d sampled posts have a drifted like counter", len(drift), len(posts)).
			with(append(limitDetails(drift, 10), "apply migration 0004_feed_like_counters to backfill")...)
	}
	return okf("%d sampled posts consistent", len(posts))
}

// --- waitlist-capacity ---

type waitlistCapacityCheck struct {
	client   *clients.SupabaseClient
	fallback int
}

func (c *waitlistCapacityCheck) Name() string { return "waitlist-capacity" }

func (c *waitlistCapacityCheck) Run(ctx context.Context) Result {
	capacity, source, err := waitlist.Capacity(ctx, c.client, c.fallback)
	if err != nil {
		return failf("failed to read capacity: %v", err)
	}
	approved, err := c.client.Count(ctx, models.TableWaitlist, clients.NewQuery().Eq("status", models.WaitlistApproved))
	if err != nil {
		return failf("failed to count approved applications: %v", err)
	}
	detail := fmt.Sprintf("capacity from %s", source)
	switch {
	case source == waitlist.SourceUnconfigured:
		return failf("capacity is not configured; approvals are refused").
			with("set app_settings." + waitlist.CapacitySetting + " or WAITLIST_CAPACITY")
	case approved > capacity:
		return failf("%d approved exceeds capacity %d", approved, capacity).with(detail)
	case approved*10 >= capacity*9:
		return warnf("%d/%d approved (%d%%)", approved, capacity, approved*100/capacity).with(detail)
	}
	return okf("%d/%d approved", approved, capacity).with(detail)
}

// --- rpc-functions ---

// RequiredFunction is an RPC the app needs, with harmless probe arguments.
type RequiredFunction struct {
	Name      string
	Migration string
	Probe     map[string]interface{}
	Optional  bool
}

// RequiredFunctions are probed by the rpc-functions check.
var RequiredFunctions = []RequiredFunction{
	{
		Name:      "approve_user_by_email_if_capacity",
		Migration: waitlist.ApproveMigration,
		Probe:     map[string]interface{}{"p_email": "probe@teedops.invalid", "p_capacity": nil},
	},
	{
		Name:      "redeem_invite_code_atomic",
		Migration: "0003_invite_functions",
		Probe:     map[string]interface{}{"p_code": "__PROBE__", "p_user_id": "00000000-0000-0000-0000-000000000000"},
	},
	{
		// p_count 0 is rejected inside the function, which proves it exists.
		Name:      "generate_invite_codes",
		Migration: "0003_invite_functions",
		Probe:     map[string]interface{}{"p_count": 0},
	},
	{
		Name:      "exec_sql",
		Migration: "0007_exec_sql_rpc",
		Probe:     map[string]interface{}{"sql": "select 1"},
		Optional:  true,
	},
}

type rpcFunctionsCheck struct {
	client *clients.SupabaseClient
}

func (c *rpcFunctionsCheck) Name() string { return "rpc-functions" }

func (c *rpcFunctionsCheck) Run(ctx context.Context) Result {
	var missing, details []string
	for _, fn := range RequiredFunctions {
		err := c.client.RPC(ctx, fn.Name, fn.Probe, nil)
		switch {
		case apperrors.HasCode(err, apperrors.ErrCodeRPCNotFound):
			line := fmt.Sprintf("%s missing: run `teedops migrate apply %s`", fn.Name, fn.Migration)
			if fn.Optional {
				details = append(details, line+" (optional)")
				continue
			}
			missing = append(missing, line)
		case apperrors.HasCode(err, apperrors.ErrCodeInvalidCredentials),
			apperrors.HasCode(err, apperrors.ErrCodeNetworkConnection),
			apperrors.HasCode(err, apperrors.ErrCodeNetworkTimeout):
			return failf("cannot probe functions: %v", err)
		default:
			details = append(details, fn.Name+": present")
		}
	}
	if len(missing) > 0 {
		return failf("%d required function(s) missing", len(missing)).with(append(missing, details...)...)
	}
	return okf("required functions present").with(details...)
}

// --- rls-policies ---

type rlsPoliciesCheck struct {
	db      rls.Querier
	catalog *rls.Catalog
}

func (c *rlsPoliciesCheck) Name() string { return "rls-policies" }

func (c *rlsPoliciesCheck) Run(ctx context.Context) Result {
	if c.db == nil {
		return okf("skipped: DATABASE_URL not set")
	}
	if c.catalog == nil {
		return failf("no policy catalog")
	}
	r, err := rls.Verify(ctx, c.db, c.catalog)
	if err != nil {
		return failf("failed to read policies: %v", err)
	}
	var details []string
	for _, m := range r.Missing {
		details = append(details, "missing "+m)
	}
	for _, t := range r.RLSDisabled {
		details = append(details, "RLS disabled on "+t)
	}
	for _, e := range r.Extra {
		details = append(details, "not in catalog: "+e)
	}
	switch {
	case !r.OK():
		return failf("%d missing, %d tables without RLS; run `teedops rls apply`", len(r.Missing), len(r.RLSDisabled)).with(details...)
	case len(r.Extra) > 0:
		return warnf("%d policies match, %d extra", r.Matched, len(r.Extra)).with(details...)
	}
	return okf("%d policies match the catalog", r.Matched)
}
