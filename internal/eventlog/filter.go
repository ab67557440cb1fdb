package eventlog

import (
	"github.com/doug-martin/goqu/v9"
)

// Order is the id ordering of a query.
type Order int

const (
	Asc Order = iota
	Desc
)

// Filter narrows an Event Log query. All set fields must match.
type Filter struct {
	NodeID         *int64   // node_id = NodeID
	ExcludedNodeID *int64   // node_id <> ExcludedNodeID
	IDGreaterThan  int64    // id > IDGreaterThan
	Email          string   // email = Email
	Action         string   // action_name = Action
	Actions        []string // action_name IN Actions; non-nil and empty matches nothing
	Search         string   // free text over email, action_name and data
}

// Page selects a window of results. Size 0 returns everything.
type Page struct {
	Size   int
	Number int // 1-based; 0 is treated as 1
	Order  Order
}

// ID returns a pointer to v for the optional Filter fields.
func ID(v int64) *int64 { return &v }

func (f Filter) expressions() []goqu.Expression {
	ex := make([]goqu.Expression, 0, 7)
	if f.NodeID != nil {
		ex = append(ex, goqu.C(colNodeID).Eq(*f.NodeID))
	}
	if f.ExcludedNodeID != nil {
		ex = append(ex, goqu.C(colNodeID).Neq(*f.ExcludedNodeID))
	}
	if f.IDGreaterThan > 0 {
		ex = append(ex, goqu.C(colID).Gt(f.IDGreaterThan))
	}
	if f.Email != "" {
		ex = append(ex, goqu.C(colEmail).Eq(f.Email))
	}
	if f.Action != "" {
		ex = append(ex, goqu.C(colAction).Eq(f.Action))
	}
	if f.Actions != nil {
		if len(f.Actions) == 0 {
			ex = append(ex, goqu.L("1 = 0"))
		} else {
			ex = append(ex, goqu.C(colAction).In(f.Actions))
		}
	}
	if f.Search != "" {
		like := "%" + f.Search + "%"
		ex = append(ex, goqu.Or(
			goqu.C(colEmail).ILike(like),
			goqu.C(colAction).ILike(like),
			goqu.Cast(goqu.C(colData), "TEXT").ILike(like),
		))
	}
	return ex
}

func (p Page) offset() uint {
	if p.Size <= 0 || p.Number <= 1 {
		return 0
	}
	return uint((p.Number - 1) * p.Size)
}
