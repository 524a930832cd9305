// Package query parses and validates the URL query grammar used to search
// JSON document resources.
//
// The grammar is a sequence of ampersand-separated clauses:
//
//	path=operator::operand[,operand...]   filter (e.g. age=gt::25)
//	order=direction::path[,path...]       sort
//	limit=N, offset=N, cursor=TOKEN       pagination
//	select=path[,path...]                 projection
//	aggregate=func::path, groupby=paths   aggregation
//
// Parsing and validation are split deliberately: Parse is a pure tokenizer
// that produces tagged raw clauses and knows nothing about operators or
// resources; Validate checks the clauses against the operator vocabulary and
// the resource's declared paths and produces a typed *Query. Both are
// all-or-nothing - the first bad clause aborts the whole request.
package query
