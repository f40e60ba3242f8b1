package seed

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"teedops/clients"
	apperrors "teedops/errors"
	"teedops/logger"
	"teedops/models"
	"teedops/output"

	"github.com/google/uuid"
	"github.com/manveru/faker"
)

// ForumOptions control demo forum generation.
type ForumOptions struct {
	Threads    int
	MaxReplies int
	// Category is a forum category slug; empty picks the first category.
	Category string
	// Seed makes the run reproducible when non-zero.
	Seed int64
}

// DemoForum creates threads with an opening post and replies, authored by
// random existing profiles.
func (s *Seeder) DemoForum(ctx context.Context, opts ForumOptions) (output.BatchSummary, error) {
	start := time.Now()
	sum := output.BatchSummary{Task: "seed demo-forum"}
	if opts.Threads < 1 {
		return sum, apperrors.NewValidationError(apperrors.ErrCodeInvalidRange, "threads must be at least 1", nil)
	}
	if opts.MaxReplies < 0 {
		opts.MaxReplies = 0
	}

	var profiles []models.Profile
	if err := s.client.Select(ctx, models.TableProfiles, clients.NewQuery().Select("id").Limit(500), &profiles); err != nil {
		return sum, err
	}
	if len(profiles) == 0 {
		return sum, apperrors.NewNotFoundError(apperrors.ErrCodeResourceNotFound, "no profiles to author demo content", nil)
	}

	category, err := s.category(ctx, opts.Category)
	if err != nil {
		return sum, err
	}

	fake, err := faker.New("en")
	if err != nil {
		return sum, apperrors.NewInternalError(apperrors.ErrCodeConfigurationError, "failed to load faker dictionary", err)
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))
	author := func() string { return profiles[rng.Intn(len(profiles))].ID }

	for i := 0; i < opts.Threads; i++ {
		if ctx.Err() != nil {
			sum.Skipped += opts.Threads - i
			break
		}
		title := strings.TrimSuffix(fake.Sentence(4+rng.Intn(5), true), ".")
		thread := models.ForumThread{
			CategoryID: category.ID,
			UserID:     author(),
			Title:      title,
			Slug:       models.Slugify(title) + "-" + uuid.NewString()[:8],
		}
		posts := []models.ForumPost{{UserID: thread.UserID, Content: fake.Paragraph(2+rng.Intn(3), true)}}
		for r := rng.Intn(opts.MaxReplies + 1); r > 0; r-- {
			posts = append(posts, models.ForumPost{UserID: author(), Content: fake.Paragraph(1+rng.Intn(3), true)})
		}

		if s.dryRun {
			sum.Success++
			continue
		}
		if err := s.writeThread(ctx, thread, posts); err != nil {
			s.log.Warn("seed: failed to create thread", logger.String("title", title), logger.Any("error", err.Error()))
			sum.Errors++
			continue
		}
		sum.Success++
	}
	sum.Duration = time.Since(start)
	return sum, nil
}

func (s *Seeder) category(ctx context.Context, slug string) (*models.ForumCategory, error) {
	q := clients.NewQuery().Select("id,name,slug").Order("name", true).Limit(1)
	if slug != "" {
		q.Eq("slug", slug)
	}
	var cats []models.ForumCategory
	if err := s.client.Select(ctx, models.TableForumCategories, q, &cats); err != nil {
		return nil, err
	}
	if len(cats) == 0 {
		if slug != "" {
			return nil, apperrors.NewNotFoundError(apperrors.ErrCodeResourceNotFound,
				fmt.Sprintf("forum category %q does not exist", slug), nil)
		}
		return nil, apperrors.NewNotFoundError(apperrors.ErrCodeResourceNotFound, "no forum categories exist", nil)
	}
	return &cats[0], nil
}

func (s *Seeder) writeThread(ctx context.Context, thread models.ForumThread, posts []models.ForumPost) error {
	var created []models.ForumThread
	if err := s.client.Insert(ctx, models.TableForumThreads, thread, &created); err != nil {
		return err
	}
	if len(created) == 0 {
		return apperrors.NewExternalServiceError(apperrors.ErrCodeSupabaseAPIFailed, "thread insert returned no row", nil)
	}
	for i := range posts {
		posts[i].ThreadID = created[0].ID
	}
	return s.client.Insert(ctx, models.TableForumPosts, posts, nil)
}
