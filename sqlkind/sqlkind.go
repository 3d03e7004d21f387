// Package sqlkind classifies a SQL statement's text as a query (a plain
// read that never needs to leave a transaction dirty) or a non-query
// (anything that can mutate state and therefore requires commit/rollback
// bookkeeping). It exists to replace the reference implementation's
// brittle "is the method named executeQuery" heuristic with a real parse
// of the statement, using github.com/pganalyze/pg_query_go/v6.
package sqlkind

import (
	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// Kind is the outcome of classifying one statement.
type Kind int

const (
	// NonQuery is the conservative default: DML, DDL, and anything this
	// package could not parse.
	NonQuery Kind = iota
	// Query is a read-only SELECT with no locking clause.
	Query
)

func (k Kind) String() string {
	if k == Query {
		return "Query"
	}
	return "NonQuery"
}

// Classify parses text and returns Query for a plain, non-locking SELECT
// and NonQuery for everything else, including statements this package
// fails to parse (e.g. a driver-specific extension pg_query_go does not
// understand). A parse failure is not returned as an error to the
// classification result itself -- it degrades to NonQuery, the safe
// choice, but the parse error is still returned so callers can log it.
func Classify(text string) (Kind, error) {
	result, err := pg_query.Parse(text)
	if err != nil {
		return NonQuery, err
	}

	if len(result.GetStmts()) != 1 {
		// Multi-statement or empty text: treat conservatively.
		return NonQuery, nil
	}

	stmt := result.GetStmts()[0].GetStmt()
	selectStmt := stmt.GetSelectStmt()
	if selectStmt == nil {
		return NonQuery, nil
	}

	// SELECT ... FOR UPDATE/SHARE takes row locks and must participate in
	// the same commit/rollback bookkeeping as a mutating statement.
	if len(selectStmt.GetLockingClause()) > 0 {
		return NonQuery, nil
	}

	return Query, nil
}
