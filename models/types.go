package models

import (
	"regexp"
	"strings"
	"time"

	"github.com/guregu/null/v5"
)

// Table names in the public schema.
const (
	TableEquipment       = "equipment"
	TableEquipmentPhotos = "equipment_photos"
	TableEquipmentPrices = "equipment_prices"
	TableProfiles        = "profiles"
	TableUserBags        = "user_bags"
	TableBagEquipment    = "bag_equipment"
	TableFeedPosts       = "feed_posts"
	TableFeedLikes       = "feed_likes"
	TableForumCategories = "forum_categories"
	TableForumThreads    = "forum_threads"
	TableForumPosts      = "forum_posts"
	TableForumReactions  = "forum_reactions"
	TableBadges          = "badges"
	TableUserBadges      = "user_badges"
	TableWaitlist        = "waitlist_applications"
	TableInviteCodes     = "invite_codes"
	TableAppSettings     = "app_settings"
)

// AllTables lists every table the toolkit reads or writes.
var AllTables = []string{
	TableEquipment, TableEquipmentPhotos, TableEquipmentPrices, TableProfiles,
	TableUserBags, TableBagEquipment, TableFeedPosts, TableFeedLikes,
	TableForumCategories, TableForumThreads, TableForumPosts, TableForumReactions,
	TableBadges, TableUserBadges, TableWaitlist, TableInviteCodes, TableAppSettings,
}

// Equipment is a catalog item (club, ball, bag, accessory).
type Equipment struct {
	ID        string                 `json:"id,omitempty"`
	Brand     string                 `json:"brand"`
	Model     string                 `json:"model"`
	Category  string                 `json:"category"`
	MSRP      null.Float             `json:"msrp"`
	ImageURL  null.String            `json:"image_url"`
	Specs     map[string]interface{} `json:"specs,omitempty"`
	CreatedAt *time.Time             `json:"created_at,omitempty"`
}

// Slug is used as the storage folder for the item's photos.
func (e Equipment) Slug() string {
	return Slugify(e.Brand, e.Model)
}

// DisplayName is "Brand Model".
func (e Equipment) DisplayName() string {
	return strings.TrimSpace(e.Brand + " " + e.Model)
}

type EquipmentPhoto struct {
	ID          string      `json:"id,omitempty"`
	EquipmentID string      `json:"equipment_id"`
	UserID      null.String `json:"user_id"`
	PhotoURL    string      `json:"photo_url"`
	SourceURL   null.String `json:"source_url"`
	ContentHash null.String `json:"content_hash"`
	Caption     null.String `json:"caption"`
	Width       null.Int    `json:"width"`
	Height      null.Int    `json:"height"`
	IsPrimary   bool        `json:"is_primary"`
	CreatedAt   *time.Time  `json:"created_at,omitempty"`
}

type EquipmentPrice struct {
	ID          string      `json:"id,omitempty"`
	EquipmentID string      `json:"equipment_id"`
	Retailer    string      `json:"retailer"`
	Price       float64     `json:"price"`
	URL         null.String `json:"url"`
	InStock     bool        `json:"in_stock"`
	UpdatedAt   *time.Time  `json:"updated_at,omitempty"`
}

type Profile struct {
	ID             string      `json:"id"`
	Username       null.String `json:"username"`
	DisplayName    null.String `json:"display_name"`
	AvatarURL      null.String `json:"avatar_url"`
	InviteCodeUsed null.String `json:"invite_code_used"`
	CreatedAt      *time.Time  `json:"created_at,omitempty"`
}

type UserBag struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name"`
	IsPrimary bool   `json:"is_primary"`
}

type BagEquipment struct {
	ID          string `json:"id"`
	BagID       string `json:"bag_id"`
	EquipmentID string `json:"equipment_id"`
}

type FeedPost struct {
	ID         string      `json:"id"`
	UserID     string      `json:"user_id"`
	Type       string      `json:"type"`
	Content    null.String `json:"content"`
	LikesCount int         `json:"likes_count"`
	CreatedAt  *time.Time  `json:"created_at,omitempty"`
}

type FeedLike struct {
	ID     string `json:"id,omitempty"`
	PostID string `json:"post_id"`
	UserID string `json:"user_id"`
}

type ForumCategory struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

type ForumThread struct {
	ID         string     `json:"id,omitempty"`
	CategoryID string     `json:"category_id"`
	UserID     string     `json:"user_id"`
	Title      string     `json:"title"`
	Slug       string     `json:"slug"`
	CreatedAt  *time.Time `json:"created_at,omitempty"`
}

type ForumPost struct {
	ID        string     `json:"id,omitempty"`
	ThreadID  string     `json:"thread_id"`
	UserID    string     `json:"user_id"`
	Content   string     `json:"content"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

type ForumReaction struct {
	ID           string `json:"id,omitempty"`
	PostID       string `json:"post_id"`
	UserID       string `json:"user_id"`
	ReactionType string `json:"reaction_type"`
}

type Badge struct {
	ID           string                 `json:"id,omitempty"`
	Name         string                 `json:"name"`
	Description  string                 `json:"description"`
	Icon         string                 `json:"icon"`
	Category     string                 `json:"category"`
	Criteria     map[string]interface{} `json:"criteria"`
	DisplayOrder int                    `json:"display_order"`
}

type UserBadge struct {
	ID       string    `json:"id,omitempty"`
	UserID   string    `json:"user_id"`
	BadgeID  string    `json:"badge_id"`
	EarnedAt null.Time `json:"earned_at"`
}

// Waitlist statuses.
const (
	WaitlistPending  = "pending"
	WaitlistApproved = "approved"
	WaitlistRejected = "rejected"
)

type WaitlistApplication struct {
	ID         string      `json:"id"`
	Email      string      `json:"email"`
	Name       null.String `json:"name"`
	Status     string      `json:"status"`
	Score      null.Int    `json:"score"`
	CreatedAt  null.Time   `json:"created_at"`
	ApprovedAt null.Time   `json:"approved_at"`
}

type InviteCode struct {
	ID        string      `json:"id"`
	Code      string      `json:"code"`
	CreatedBy null.String `json:"created_by"`
	MaxUses   int         `json:"max_uses"`
	Uses      int         `json:"uses"`
	IsActive  bool        `json:"is_active"`
	ExpiresAt null.Time   `json:"expires_at"`
	CreatedAt null.Time   `json:"created_at"`
}

// Exhausted reports whether the code has no uses left.
func (c InviteCode) Exhausted() bool {
	return c.Uses >= c.MaxUses
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lower-cases and joins the parts with "-", collapsing every run of
// non-alphanumerics into a single "-".
func Slugify(parts ...string) string {
	s := strings.ToLower(strings.Join(parts, " "))
	s = nonSlug.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}
