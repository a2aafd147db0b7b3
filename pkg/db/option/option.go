package option

import (
	"fmt"
	"strings"
	"time"

	"smallbiznis-academy/pkg/db/pagination"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// QueryOption mutates a query before it is executed by a repository.
type QueryOption func(db *gorm.DB) *gorm.DB

type Operator string

const (
	EQ   Operator = "="
	NEQ  Operator = "<>"
	GT   Operator = ">"
	GTE  Operator = ">="
	LT   Operator = "<"
	LTE  Operator = "<="
	IN   Operator = "IN"
	NIN  Operator = "NOT IN"
	NULL Operator = "IS NULL"
)

type Condition struct {
	Field    string
	Operator Operator
	Value    any
}

type QuerySortBy struct {
	SortBy  string
	OrderBy string
	Allow   map[string]bool
}

// LockingUpdate is a gorm scope adding FOR UPDATE to every query of the session.
func LockingUpdate(db *gorm.DB) *gorm.DB {
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}

func WithLockingUpdate() QueryOption {
	return LockingUpdate
}

func ApplyOperator(conds ...Condition) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		for _, c := range conds {
			switch c.Operator {
			case NULL:
				db = db.Where(fmt.Sprintf("%s IS NULL", c.Field))
			case IN, NIN:
				db = db.Where(fmt.Sprintf("%s %s ?", c.Field, c.Operator), c.Value)
			default:
				op := c.Operator
				if op == "" {
					op = EQ
				}
				db = db.Where(fmt.Sprintf("%s %s ?", c.Field, op), c.Value)
			}
		}
		return db
	}
}

// WithSortBy orders by SortBy when it is allowed, falling back to the primary key.
func WithSortBy(s QuerySortBy) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		order := "ASC"
		if strings.EqualFold(s.OrderBy, "desc") {
			order = "DESC"
		}

		column := "id"
		if s.SortBy != "" && s.Allow[s.SortBy] {
			column = s.SortBy
		}

		return db.Order(fmt.Sprintf("%s %s", column, order))
	}
}

// ApplyPagination applies a keyset cursor on (created_at, id) and fetches one extra row
// so callers can tell whether another page exists.
func ApplyPagination(p pagination.Pagination) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		limit := p.Limit
		if limit <= 0 {
			limit = 10
		}
		if limit > 250 {
			limit = 250
		}

		if p.Cursor != "" {
			if cursor, err := pagination.DecodeCursor(p.Cursor); err == nil && cursor.ID != "" {
				if createdAt, err := time.Parse(time.RFC3339Nano, cursor.CreatedAt); err == nil {
					db = db.Where("(created_at > ?) OR (created_at = ? AND id > ?)", createdAt, createdAt, cursor.ID)
				}
			}
		}

		return db.Order("created_at ASC").Order("id ASC").Limit(limit + 1)
	}
}
