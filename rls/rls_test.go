package rls

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	c, err := DefaultCatalog()
	require.NoError(t, err)

	assert.Equal(t, []string{
		"equipment", "equipment_photos", "equipment_prices", "profiles", "user_bags",
		"bag_equipment", "feed_posts", "feed_likes", "forum_threads", "forum_posts",
		"forum_reactions", "badges", "user_badges", "waitlist_applications", "invite_codes",
	}, c.Tables())

	for _, p := range c.ForTable("waitlist_applications") {
		if p.Command == CommandSelect {
			assert.NotContains(t, p.Roles, "anon", "waitlist must not be readable by anon")
		}
	}
}

func TestRenderTable(t *testing.T) {
	c, err := Parse([]byte(`
policies:
  - table: profiles
    name: profiles public read
    command: select
    roles: [anon, authenticated]
    using: "true"
  - table: profiles
    name: profiles_self_update
    command: UPDATE
    roles: [authenticated]
    using: "auth.uid() = id"
    with_check: "auth.uid() = id"
    permissive: false
`))
	require.NoError(t, err)

	want := `ALTER TABLE public."profiles" ENABLE ROW LEVEL SECURITY;
DROP POLICY IF EXISTS "profiles public read" ON public."profiles";
CREATE POLICY "profiles public read" ON public."profiles" AS PERMISSIVE FOR SELECT TO "anon", "authenticated"
  USING (true);
DROP POLICY IF EXISTS "profiles_self_update" ON public."profiles";
CREATE POLICY "profiles_self_update" ON public."profiles" AS RESTRICTIVE FOR UPDATE TO "authenticated"
  USING (auth.uid() = id)
  WITH CHECK (auth.uid() = id);
`
	assert.Equal(t, want, c.RenderTable("profiles"))
	assert.Equal(t, "", c.RenderTable("badges"))
}

func TestRender_PublicRoleAndQuoting(t *testing.T) {
	p := Policy{Table: `we"ird`, Name: "p", Command: CommandSelect, Roles: []string{"PUBLIC"}, Using: "true"}
	out := p.Render()
	assert.Contains(t, out, `ON public."we""ird"`)
	assert.Contains(t, out, "TO public\n")

	p.Roles = nil
	assert.Contains(t, p.Render(), "TO public\n")
}

func TestRenderAll_Deterministic(t *testing.T) {
	c, err := DefaultCatalog()
	require.NoError(t, err)
	first := c.RenderAll()
	assert.Equal(t, first, c.RenderAll())
	assert.True(t, strings.HasPrefix(first, "-- equipment\nALTER TABLE public.\"equipment\""))
	assert.Equal(t, len(c.Policies), strings.Count(first, "CREATE POLICY"))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		policy  Policy
		wantErr string
	}{
		{"insert with using", Policy{Table: "t", Name: "p", Command: CommandInsert, Using: "true"}, "cannot have USING"},
		{"select with check", Policy{Table: "t", Name: "p", Command: CommandSelect, WithCheck: "true"}, "cannot have WITH CHECK"},
		{"delete with check", Policy{Table: "t", Name: "p", Command: CommandDelete, Using: "true", WithCheck: "true"}, "cannot have WITH CHECK"},
		{"unknown command", Policy{Table: "t", Name: "p", Command: "TRUNCATE", Using: "true"}, "unknown command"},
		{"no expressions", Policy{Table: "t", Name: "p", Command: CommandAll}, "needs USING or WITH CHECK"},
		{"no name", Policy{Table: "t", Command: CommandAll, Using: "true"}, "required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := (&Catalog{Policies: []Policy{tt.policy}}).Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	dup := &Catalog{Policies: []Policy{
		{Table: "t", Name: "p", Command: CommandSelect, Using: "true"},
		{Table: "t", Name: "p", Command: CommandDelete, Using: "true"},
	}}
	assert.ErrorContains(t, dup.Validate(), "duplicate")
}

func TestParse_RejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte("policies:\n  - table: t\n    name: p\n    command: SELECT\n    usign: 'true'\n"))
	assert.Error(t, err)
}

func TestCompare(t *testing.T) {
	c := &Catalog{Policies: []Policy{
		{Table: "a", Name: "a1", Command: CommandSelect, Using: "true"},
		{Table: "a", Name: "a2", Command: CommandInsert, WithCheck: "true"},
		{Table: "b", Name: "b1", Command: CommandSelect, Using: "true"},
	}}
	r := Compare(c, []ExistingPolicy{
		{Table: "a", Name: "a1", Command: "SELECT"},
		{Table: "b", Name: "b1", Command: "SELECT"},
		{Table: "b", Name: "legacy", Command: "ALL"},
	}, map[string]bool{"a": true, "b": false})

	assert.Equal(t, []string{"a.a2"}, r.Missing)
	assert.Equal(t, []string{"b.legacy"}, r.Extra)
	assert.Equal(t, []string{"b"}, r.RLSDisabled)
	assert.Equal(t, 2, r.Matched)
	assert.False(t, r.OK())

	r = Compare(c, []ExistingPolicy{{Table: "a", Name: "a1"}, {Table: "a", Name: "a2"}, {Table: "b", Name: "b1"}, {Table: "b", Name: "x"}},
		map[string]bool{"a": true, "b": true})
	assert.True(t, r.OK())
}

func TestQueries(t *testing.T) {
	q, args, err := policiesQuery([]string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, "SELECT tablename, policyname, cmd FROM pg_policies WHERE schemaname = $1 AND tablename IN ($2,$3) ORDER BY tablename, policyname", q)
	assert.Equal(t, []interface{}{"public", "a", "b"}, args)

	q, _, err = rlsQuery([]string{"a"})
	require.NoError(t, err)
	assert.Contains(t, q, "JOIN pg_namespace n ON n.oid = c.relnamespace")
	assert.Contains(t, q, "c.relname IN ($2)")
}
