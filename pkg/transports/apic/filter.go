package apic

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/openfroyo/fabricupgrade/pkg/engine"
)

// Eq builds an equality filter expression, e.g. eq(maintUpgJob.maintGrp,"odd").
func Eq(class, field, value string) string {
	return fmt.Sprintf("eq(%s.%s,%q)", class, field, value)
}

// Or joins filter expressions with a logical or. A single expression is
// returned unchanged.
func Or(exprs ...string) string {
	return join("or", exprs)
}

// And joins filter expressions with a logical and.
func And(exprs ...string) string {
	return join("and", exprs)
}

func join(op string, exprs []string) string {
	switch len(exprs) {
	case 0:
		return ""
	case 1:
		return exprs[0]
	}
	return op + "(" + strings.Join(exprs, ",") + ")"
}

// encodeQuery renders query options as URL parameters.
func encodeQuery(q *engine.Query) url.Values {
	v := url.Values{}
	if q == nil {
		return v
	}
	set := func(key, value string) {
		if value != "" {
			v.Set(key, value)
		}
	}
	set("query-target-filter", q.Filter)
	set("query-target", q.Target)
	set("target-subtree-class", q.TargetSubtreeClass)
	set("rsp-subtree-include", q.SubtreeInclude)
	set("rsp-subtree-class", q.SubtreeClass)
	return v
}
