package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dshills/bookshelf-mcp/pkg/types"
)

var (
	// ErrInvalidFilter is returned for an unknown field or operator
	ErrInvalidFilter = errors.New("invalid filter")
	// ErrInvalidSort is returned for an unknown sort key or direction
	ErrInvalidSort = errors.New("invalid sort")
	// ErrInvalidPage is returned for a negative page or out-of-range page size
	ErrInvalidPage = errors.New("invalid page")
)

// Text columns each filter field reads
var filterColumns = map[string]string{
	FieldTitle:       "r.title",
	FieldDescription: "e.description",
}

// Query runs a browse request: all filters must match, results are sorted
// and paginated. Total counts every match across pages.
func (s *SQLiteStorage) Query(ctx context.Context, req BrowseRequest) (*Page, error) {
	if err := normalizeBrowse(&req); err != nil {
		return nil, err
	}

	where, args, err := buildFilters(req.Filters)
	if err != nil {
		return nil, err
	}
	order, err := buildOrder(req.SortBy, req.SortDir)
	if err != nil {
		return nil, err
	}

	countQuery := `
		SELECT COUNT(*) FROM records r
		LEFT JOIN enrichments e ON e.record_id = r.id
	` + where
	var total int
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count browse results: %w", err)
	}

	page := &Page{
		Items:      make([]*types.Book, 0),
		Page:       req.Page,
		PerPage:    req.PerPage,
		Total:      total,
		TotalPages: (total + req.PerPage - 1) / req.PerPage,
	}

	offset := (req.Page - 1) * req.PerPage
	if offset >= total {
		return page, nil
	}

	query := bookSelect + where + order + " LIMIT ? OFFSET ?"
	pageArgs := append(append([]interface{}{}, args...), req.PerPage, offset)
	if err := s.collectBooks(ctx, query, pageArgs, func(b *types.Book) {
		page.Items = append(page.Items, b)
	}); err != nil {
		return nil, err
	}
	return page, nil
}

func normalizeBrowse(req *BrowseRequest) error {
	if req.Page < 0 {
		return fmt.Errorf("%w: page %d", ErrInvalidPage, req.Page)
	}
	if req.Page == 0 {
		req.Page = 1
	}
	if req.PerPage == 0 {
		req.PerPage = DefaultPerPage
	}
	if req.PerPage < 1 || req.PerPage > MaxPerPage {
		return fmt.Errorf("%w: per_page must be between 1 and %d", ErrInvalidPage, MaxPerPage)
	}
	if req.SortBy == "" {
		req.SortBy = SortTitle
	}
	if req.SortDir == "" {
		req.SortDir = SortAsc
	}
	return nil
}

func buildFilters(filters []Filter) (string, []interface{}, error) {
	if len(filters) == 0 {
		return "", nil, nil
	}

	conditions := make([]string, 0, len(filters))
	var args []interface{}
	for _, f := range filters {
		field := strings.ToLower(strings.TrimSpace(f.Field))
		op := strings.ToLower(strings.TrimSpace(f.Operator))
		if op == "" {
			op = OpContains
		}
		if strings.TrimSpace(f.Value) == "" {
			return "", nil, fmt.Errorf("%w: empty value for %q", ErrInvalidFilter, field)
		}

		cond, condArgs, err := filterCondition(field, op, f.Value)
		if err != nil {
			return "", nil, err
		}
		conditions = append(conditions, cond)
		args = append(args, condArgs...)
	}
	return " WHERE " + strings.Join(conditions, " AND "), args, nil
}

func filterCondition(field, op, value string) (string, []interface{}, error) {
	switch op {
	case OpContains:
		pattern := likePattern(value)
		switch field {
		case FieldTitle, FieldDescription:
			return `fold(COALESCE(` + filterColumns[field] + `, '')) LIKE ? ESCAPE '\'`, []interface{}{pattern}, nil
		case FieldAuthor:
			return authorContains, []interface{}{pattern}, nil
		case FieldSubject:
			return subjectContains, []interface{}{pattern}, nil
		case FieldAll:
			cond := "(fold(r.title) LIKE ? ESCAPE '\\' OR fold(COALESCE(e.description, '')) LIKE ? ESCAPE '\\' OR " +
				authorContains + " OR " + subjectContains + ")"
			return cond, []interface{}{pattern, pattern, pattern, pattern}, nil
		}
	case OpHas:
		if field == FieldSubject {
			return `EXISTS (SELECT 1 FROM json_each(e.subjects) WHERE value = ?)`, []interface{}{value}, nil
		}
		return "", nil, fmt.Errorf("%w: operator %q only applies to subject", ErrInvalidFilter, op)
	default:
		return "", nil, fmt.Errorf("%w: unknown operator %q", ErrInvalidFilter, op)
	}
	return "", nil, fmt.Errorf("%w: unknown field %q", ErrInvalidFilter, field)
}

const (
	authorContains  = `EXISTS (SELECT 1 FROM json_each(r.authors) WHERE fold(value) LIKE ? ESCAPE '\')`
	subjectContains = `EXISTS (SELECT 1 FROM json_each(e.subjects) WHERE fold(value) LIKE ? ESCAPE '\')`
)

// likePattern folds value and wraps it for a substring LIKE against a
// folded column, escaping wildcards
func likePattern(value string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(foldText(value)) + "%"
}

func buildOrder(sortBy, sortDir string) (string, error) {
	dir := strings.ToLower(sortDir)
	if dir != SortAsc && dir != SortDesc {
		return "", fmt.Errorf("%w: direction %q", ErrInvalidSort, sortDir)
	}
	sqlDir := strings.ToUpper(dir)

	switch strings.ToLower(sortBy) {
	case SortTitle:
		return " ORDER BY r.title COLLATE NOCASE " + sqlDir + ", r.id ASC", nil
	case SortAuthor:
		key := "json_extract(r.authors, '$[0]')"
		return " ORDER BY " + key + " IS NULL, " + key + " COLLATE NOCASE " + sqlDir + ", r.id ASC", nil
	case SortYear:
		return " ORDER BY e.publish_year IS NULL, e.publish_year " + sqlDir + ", r.id ASC", nil
	default:
		return "", fmt.Errorf("%w: key %q", ErrInvalidSort, sortBy)
	}
}
