// Package matching resolves catalog albums to metadata release groups.
//
// Names are normalized with [Normalize] before querying and before cache lookups, so
// "The Beatles" / "Abbey Road (Remastered)" and "Beatles" / "Abbey Road" share one cache entry.
//
// [Engine.Match] tries an exact-phrase query first and a fuzzy query only when the exact attempt
// produced nothing at or above [AcceptThreshold]. Scores of 80 and above are matched, 1-79 need
// review, and no candidate is no_match with score 0.
package matching
