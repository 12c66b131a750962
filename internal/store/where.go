package store

import "strings"

// Where accumulates AND-ed conditions and their arguments for one dialect.
// Conditions are written with "?" and rewritten to the dialect's placeholders.
type Where struct {
	d       Dialect
	clauses []string
	args    []any
}

// NewWhere starts an empty condition list.
func NewWhere(d Dialect) *Where {
	return &Where{d: d}
}

// Add appends cond; each "?" in cond consumes one of args in order.
func (w *Where) Add(cond string, args ...any) {
	var sb strings.Builder
	next := 0
	for _, r := range cond {
		if r == '?' && next < len(args) {
			w.args = append(w.args, args[next])
			sb.WriteString(w.d.Arg(len(w.args)))
			next++
			continue
		}
		sb.WriteRune(r)
	}
	w.clauses = append(w.clauses, sb.String())
}

// SQL renders " WHERE a AND b", or "" when no condition was added.
func (w *Where) SQL() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

// Arg appends a trailing argument (LIMIT, OFFSET) and returns its placeholder.
func (w *Where) Arg(v any) string {
	w.args = append(w.args, v)
	return w.d.Arg(len(w.args))
}

// Args returns the collected arguments.
func (w *Where) Args() []any {
	return w.args
}

// EscapeLike escapes LIKE wildcards so s matches literally under ESCAPE '\'.
func EscapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
