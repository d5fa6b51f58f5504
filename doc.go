package keypager

// Package keypager provides cursor-based pagination over mutable,
// concurrently written datasets.
//
// Overview
//
// keypager implements two cursor strategies:
//   - KeysetCursor: keyset pagination using strict comparison against the
//     position of the last (or first) element of the previous page. Pages stay
//     stable under concurrent inserts and deletes and require a deterministic
//     ordering ending with a unique column.
//   - OffsetCursor: a compatibility layer over LIMIT/OFFSET for stores that
//     cannot serve keyset predicates. It does not carry the stability
//     guarantee.
//
// Key concepts
//   - FetchPage: request-to-page orchestration with forward and backward
//     seeks, lookahead and next/prev token construction.
//   - Pager: lower-level builder that applies sorting, cursor predicates and
//     limits to GORM queries.
//   - Orderings: multi-column ordering with explicit directions; the last
//     column must be unique so the combined sort key forms a strict total
//     order.
//   - Getters: maps model fields to values when building page tokens.
//
// See README for examples and usage details.
