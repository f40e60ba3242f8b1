package seed

import (
	"context"
	"time"

	"teedops/models"
	"teedops/output"
)

// Badges is the badge catalog. Rows are matched on name.
var Badges = []models.Badge{
	{Name: "Early Adopter", Description: "Joined during the private beta", Icon: "rocket", Category: "community",
		Criteria: map[string]interface{}{"type": "joined_before", "date": "2025-09-01"}, DisplayOrder: 1},
	{Name: "Bag Builder", Description: "Added 14 clubs to a bag", Icon: "golf-bag", Category: "equipment",
		Criteria: map[string]interface{}{"type": "bag_items", "count": 14}, DisplayOrder: 2},
	{Name: "Gear Photographer", Description: "Uploaded 5 equipment photos", Icon: "camera", Category: "equipment",
		Criteria: map[string]interface{}{"type": "photos_uploaded", "count": 5}, DisplayOrder: 3},
	{Name: "First Post", Description: "Shared a first post in the feed", Icon: "message", Category: "community",
		Criteria: map[string]interface{}{"type": "feed_posts", "count": 1}, DisplayOrder: 4},
	{Name: "Popular", Description: "Received 50 likes", Icon: "heart", Category: "community",
		Criteria: map[string]interface{}{"type": "likes_received", "count": 50}, DisplayOrder: 5},
	{Name: "Forum Regular", Description: "Replied in 25 forum threads", Icon: "forum", Category: "forum",
		Criteria: map[string]interface{}{"type": "forum_replies", "count": 25}, DisplayOrder: 6},
	{Name: "Helpful", Description: "Got 10 helpful reactions on forum posts", Icon: "thumbs-up", Category: "forum",
		Criteria: map[string]interface{}{"type": "reactions_received", "reaction": "helpful", "count": 10}, DisplayOrder: 7},
	{Name: "Inviter", Description: "Invited a friend who joined", Icon: "ticket", Category: "community",
		Criteria: map[string]interface{}{"type": "invites_redeemed", "count": 1}, DisplayOrder: 8},
}

// SeedBadges upserts the badge catalog.
func (s *Seeder) SeedBadges(ctx context.Context) (output.BatchSummary, error) {
	start := time.Now()
	sum := output.BatchSummary{Task: "seed badges"}
	if !s.dryRun {
		if err := s.client.Upsert(ctx, models.TableBadges, Badges, "name", nil); err != nil {
			sum.Errors = len(Badges)
			sum.Duration = time.Since(start)
			return sum, err
		}
	}
	sum.Success = len(Badges)
	sum.Duration = time.Since(start)
	return sum, nil
}
