package branch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlug(t *testing.T) {
	tests := []struct {
		name  string
		title string
		want  string
	}{
		{"simple", "Build a REST API", "build-a-rest-api"},
		{"punctuation collapsed", "Fix: crash!! on startup", "fix-crash-on-startup"},
		{"leading and trailing trimmed", "  --hello--  ", "hello"},
		{"unicode stripped", "café → naïve", "caf-na-ve"},
		{"already slugged", "build-a-rest-api", "build-a-rest-api"},
		{"empty", "", ""},
		{"only punctuation", "!!!", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Slug(tt.title))
		})
	}
}

func TestSlugTruncation(t *testing.T) {
	long := "this is a very long issue title that keeps going and going and going and going"
	s := Slug(long)
	assert.LessOrEqual(t, len(s), MaxSlugLen)
	// Truncation must not leave a trailing hyphen.
	assert.NotEqual(t, byte('-'), s[len(s)-1])
}

func TestSlugIdempotent(t *testing.T) {
	titles := []string{
		"Build a REST API",
		"Fix: crash!! on startup",
		"this is a very long issue title that keeps going and going and going",
	}
	for _, title := range titles {
		once := Slug(title)
		assert.Equal(t, once, Slug(once), "slug must be idempotent for %q", title)
	}
}

func TestBranchNames(t *testing.T) {
	work := WorkBranch(42, "Build a REST API")
	assert.Equal(t, "cco/42-build-a-rest-api", work)

	em := EMBranch(work, 2)
	assert.Equal(t, "cco/42-build-a-rest-api-em2", em)

	w := WorkerBranch(em, 3)
	assert.Equal(t, "cco/42-build-a-rest-api-em2-w3", w)
}

func TestParseComponent(t *testing.T) {
	tests := []struct {
		name   string
		branch string
		want   Component
	}{
		{
			"director",
			"cco/42-build-a-rest-api",
			Component{Type: TypeDirector, IssueNumber: 42},
		},
		{
			"em",
			"cco/42-build-a-rest-api-em1",
			Component{Type: TypeEM, IssueNumber: 42, EMID: 1},
		},
		{
			"worker",
			"cco/42-build-a-rest-api-em1-w2",
			Component{Type: TypeWorker, IssueNumber: 42, EMID: 1, WorkerID: 2},
		},
		{
			"multi digit ids",
			"cco/7-x-em12-w34",
			Component{Type: TypeWorker, IssueNumber: 7, EMID: 12, WorkerID: 34},
		},
		{"not managed", "main", Component{}},
		{"feature branch", "feature/add-thing", Component{}},
		{"missing slug", "cco/42-", Component{}},
		{"no issue number", "cco/build-a-rest-api", Component{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseComponent(tt.branch))
		})
	}
}

// Any branch produced by the builders must parse back to the same component.
func TestParseRoundTrip(t *testing.T) {
	work := WorkBranch(9, "Add caching layer")

	c := ParseComponent(work)
	require.Equal(t, TypeDirector, c.Type)
	assert.Equal(t, 9, c.IssueNumber)

	for emID := 1; emID <= 3; emID++ {
		em := EMBranch(work, emID)
		c := ParseComponent(em)
		require.Equal(t, TypeEM, c.Type)
		assert.Equal(t, 9, c.IssueNumber)
		assert.Equal(t, emID, c.EMID)

		for wID := 1; wID <= 3; wID++ {
			worker := WorkerBranch(em, wID)
			c := ParseComponent(worker)
			require.Equal(t, TypeWorker, c.Type)
			assert.Equal(t, emID, c.EMID)
			assert.Equal(t, wID, c.WorkerID)
		}
	}
}

func TestBaseBranch(t *testing.T) {
	work := "cco/42-build-a-rest-api"
	em := work + "-em1"
	worker := em + "-w2"

	assert.Equal(t, em, BaseBranch(worker, "main"))
	assert.Equal(t, work, BaseBranch(em, "main"))
	assert.Equal(t, "main", BaseBranch(work, "main"))
	assert.Equal(t, "develop", BaseBranch("random-branch", "develop"))
}
