// internal/migrate/diff.go
//
// Snapshot comparison with default-expression normalization.
//
// Context
// -------
// PostgreSQL reports column defaults with dialect noise: type casts
// (`'active'::character varying`), quoting, and per-schema sequence names
// (`nextval('org_a.users_id_seq')`).  Catalog-sync tools compare their
// model against these raw strings and emit no-op ALTERs forever.  The
// normalization here is the sole mechanism that filters those out: two
// snapshots are considered equal iff they are equal after every default
// has been normalized.
//
// Normalization steps, in order:
//
//   1. Strip trailing type casts matching `::[a-z_ ]+` (case-insensitive).
//   2. Strip one leading and one trailing single quote.
//   3. Any remaining value containing `nextval` becomes the sentinel
//      `[sequence]`; all sequences are mutually equivalent.
//   4. nil stays nil; otherwise trim whitespace.
package migrate

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// ChangeKind enumerates the diff record kinds.
type ChangeKind string

const (
	TableAdded    ChangeKind = "table_added"
	TableRemoved  ChangeKind = "table_removed"
	ColumnAdded   ChangeKind = "column_added"
	ColumnRemoved ChangeKind = "column_removed"
	ColumnChanged ChangeKind = "column_changed"
)

// Change is one schema delta.  Column is empty for table-level kinds;
// Details is set only for ColumnChanged.
type Change struct {
	Kind    ChangeKind
	Table   string
	Column  string
	Details string
}

// SequenceSentinel replaces any default that references a sequence.
const SequenceSentinel = "[sequence]"

var castPattern = regexp.MustCompile(`(?i)(::[a-z_ ]+)+$`)

// NormalizeDefault canonicalizes a column default for comparison.  nil in,
// nil out.
func NormalizeDefault(v *string) *string {
	if v == nil {
		return nil
	}
	s := castPattern.ReplaceAllString(*v, "")
	if len(s) >= 2 && strings.HasPrefix(s, "'") && strings.HasSuffix(s, "'") {
		s = s[1 : len(s)-1]
	}
	if strings.Contains(s, "nextval") {
		s = SequenceSentinel
		return &s
	}
	s = strings.TrimSpace(s)
	return &s
}

// Diff compares two snapshots and returns the deltas, ordered by table
// name and then column name.  An empty result means the snapshots are
// equal modulo default normalization.
func Diff(before, after Snapshot) []Change {
	var changes []Change

	for _, table := range sortedKeys(before) {
		if _, ok := after[table]; !ok {
			changes = append(changes, Change{Kind: TableRemoved, Table: table})
		}
	}
	for _, table := range sortedKeys(after) {
		cols := after[table]
		prev, ok := before[table]
		if !ok {
			changes = append(changes, Change{Kind: TableAdded, Table: table})
			continue
		}
		changes = append(changes, diffColumns(table, prev, cols)...)
	}
	return changes
}

// diffColumns compares one table's columns.
func diffColumns(table string, before, after map[string]Column) []Change {
	var changes []Change

	for _, col := range sortedKeys(before) {
		if _, ok := after[col]; !ok {
			changes = append(changes, Change{Kind: ColumnRemoved, Table: table, Column: col})
		}
	}
	for _, col := range sortedKeys(after) {
		cur := after[col]
		prev, ok := before[col]
		if !ok {
			changes = append(changes, Change{Kind: ColumnAdded, Table: table, Column: col})
			continue
		}
		if details := columnDetails(prev, cur); details != "" {
			changes = append(changes, Change{Kind: ColumnChanged, Table: table, Column: col, Details: details})
		}
	}
	return changes
}

// columnDetails enumerates which of type, nullable, and default changed.
// Empty string means the columns are equal modulo normalization.
func columnDetails(before, after Column) string {
	var parts []string
	if before.DataType != after.DataType {
		parts = append(parts, fmt.Sprintf("type %s -> %s", before.DataType, after.DataType))
	}
	if before.IsNullable != after.IsNullable {
		parts = append(parts, fmt.Sprintf("nullable %s -> %s", before.IsNullable, after.IsNullable))
	}
	bd, ad := NormalizeDefault(before.Default), NormalizeDefault(after.Default)
	if !equalDefault(bd, ad) {
		parts = append(parts, fmt.Sprintf("default %s -> %s", renderDefault(bd), renderDefault(ad)))
	}
	return strings.Join(parts, ", ")
}

func equalDefault(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func renderDefault(v *string) string {
	if v == nil {
		return "NULL"
	}
	return *v
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
