package shared

// Filter defines common list filtering parameters shared by repositories
type Filter struct {
	// Page number (1-indexed)
	Page int
	// PageSize is the number of records per page
	PageSize int
	// OrderBy is the column to order by
	OrderBy string
	// OrderDesc orders descending when true
	OrderDesc bool
}

// DefaultFilter returns a filter with sane defaults
func DefaultFilter() Filter {
	return Filter{
		Page:     1,
		PageSize: 50,
		OrderBy:  "created_at",
	}
}

// Offset returns the SQL offset for the filter
func (f Filter) Offset() int {
	page := f.Page
	if page < 1 {
		page = 1
	}
	return (page - 1) * f.Limit()
}

// Limit returns the SQL limit for the filter
func (f Filter) Limit() int {
	if f.PageSize < 1 {
		return 50
	}
	return f.PageSize
}
