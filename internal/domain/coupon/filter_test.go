package coupon

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/paperleaf/bookstore/internal/domain/book"
)

func catalogItem(id string) Item {
	return Item{
		BookID:      id,
		PublisherID: "pub1",
		AuthorIDs:   []string{"au1", "au2"},
		CategoryIDs: []string{"fiction"},
		TagIDs:      []string{"classic"},
		Condition:   book.ConditionNew,
		UnitPrice:   dec("100"),
		Quantity:    1,
	}
}

func TestEligibleItems(t *testing.T) {
	tests := []struct {
		name   string
		rule   Rule
		items  []Item
		wantID []string
	}{
		{
			name:   "no sets keep everything",
			items:  []Item{catalogItem("b1"), catalogItem("b2")},
			wantID: []string{"b1", "b2"},
		},
		{
			name:   "exclude book",
			rule:   Rule{ExcludeBooks: []string{"b1"}},
			items:  []Item{catalogItem("b1"), catalogItem("b2")},
			wantID: []string{"b2"},
		},
		{
			name:   "exclude publisher",
			rule:   Rule{ExcludePublishers: []string{"pub1"}},
			items:  []Item{catalogItem("b1")},
			wantID: []string{},
		},
		{
			name:   "exclude author matches any of the item's authors",
			rule:   Rule{ExcludeAuthors: []string{"au2"}},
			items:  []Item{catalogItem("b1")},
			wantID: []string{},
		},
		{
			name:   "exclude category",
			rule:   Rule{ExcludeCategories: []string{"fiction"}},
			items:  []Item{catalogItem("b1")},
			wantID: []string{},
		},
		{
			name:   "exclude tag",
			rule:   Rule{ExcludeTags: []string{"classic"}},
			items:  []Item{catalogItem("b1")},
			wantID: []string{},
		},
		{
			name:   "include book keeps only listed",
			rule:   Rule{IncludeBooks: []string{"b2"}},
			items:  []Item{catalogItem("b1"), catalogItem("b2")},
			wantID: []string{"b2"},
		},
		{
			name:   "include author requires overlap",
			rule:   Rule{IncludeAuthors: []string{"au3"}},
			items:  []Item{catalogItem("b1")},
			wantID: []string{},
		},
		{
			name:   "include condition",
			rule:   Rule{IncludeConditions: []book.Condition{book.ConditionOld}},
			items:  []Item{catalogItem("b1")},
			wantID: []string{},
		},
		{
			name: "exclude wins over include",
			rule: Rule{
				IncludeBooks: []string{"b1"},
				ExcludeTags:  []string{"classic"},
			},
			items:  []Item{catalogItem("b1")},
			wantID: []string{},
		},
		{
			name: "multiple include dimensions must all match",
			rule: Rule{
				IncludePublishers: []string{"pub1"},
				IncludeCategories: []string{"history"},
			},
			items:  []Item{catalogItem("b1")},
			wantID: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EligibleItems(&tt.rule, tt.items)

			ids := make([]string, 0, len(got))
			for _, item := range got {
				ids = append(ids, item.BookID)
			}
			assert.Equal(t, tt.wantID, ids)
		})
	}
}

// The filter must not mutate its input, and adjacent items after an excluded
// one must still be visited (the classic remove-while-iterating skip).
func TestEligibleItems_AdjacentToExcluded(t *testing.T) {
	rule := Rule{ExcludeBooks: []string{"b1", "b3"}}
	items := []Item{catalogItem("b1"), catalogItem("b2"), catalogItem("b3"), catalogItem("b4")}

	got := EligibleItems(&rule, items)

	assert.Len(t, got, 2)
	assert.Equal(t, "b2", got[0].BookID)
	assert.Equal(t, "b4", got[1].BookID)
	assert.Len(t, items, 4, "input slice must be untouched")
}
