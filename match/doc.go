// Package match ranks a database of video encodings against a query.
//
// Every encoding is reduced to a histogram of visual-word counts. An
// inverted index of roaring bitmaps (word -> record ordinals) yields the
// candidate records sharing at least one word with the query and the
// document frequencies used by tf-idf weighting. Records outside the
// candidate set score 0 without being compared.
//
// Scores lie in [0, 1] for every metric and identical non-empty encodings
// score 1. Results are ordered by descending score; equal scores keep
// database order.
package match
