package coupon

// EligibleItems returns the order lines the rule's include/exclude sets keep.
// It always builds a fresh slice; the input is never mutated while being
// traversed.
func EligibleItems(r *Rule, items []Item) []Item {
	eligible := make([]Item, 0, len(items))
	for _, item := range items {
		if isEligible(r, item) {
			eligible = append(eligible, item)
		}
	}
	return eligible
}

// isEligible applies exclusion first (any hit disqualifies), then requires
// membership in every non-empty include dimension.
func isEligible(r *Rule, item Item) bool {
	switch {
	case contains(r.ExcludeBooks, item.BookID):
		return false
	case item.PublisherID != "" && contains(r.ExcludePublishers, item.PublisherID):
		return false
	case intersects(r.ExcludeAuthors, item.AuthorIDs):
		return false
	case intersects(r.ExcludeCategories, item.CategoryIDs):
		return false
	case intersects(r.ExcludeTags, item.TagIDs):
		return false
	}

	if len(r.IncludeConditions) > 0 && !contains(r.IncludeConditions, item.Condition) {
		return false
	}
	if len(r.IncludeBooks) > 0 && !contains(r.IncludeBooks, item.BookID) {
		return false
	}
	if len(r.IncludePublishers) > 0 && !contains(r.IncludePublishers, item.PublisherID) {
		return false
	}
	if len(r.IncludeAuthors) > 0 && !intersects(r.IncludeAuthors, item.AuthorIDs) {
		return false
	}
	if len(r.IncludeCategories) > 0 && !intersects(r.IncludeCategories, item.CategoryIDs) {
		return false
	}
	if len(r.IncludeTags) > 0 && !intersects(r.IncludeTags, item.TagIDs) {
		return false
	}
	return true
}

func contains[T comparable](set []T, v T) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// intersects reports whether any of vals is present in set.
func intersects(set, vals []string) bool {
	for _, v := range vals {
		if contains(set, v) {
			return true
		}
	}
	return false
}
