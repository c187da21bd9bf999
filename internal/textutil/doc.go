// Package textutil provides text helpers for the upload pipeline: filename
// and part-name sanitization, and piece-title similarity scoring used to
// match an analyzed score against existing catalog pieces.
//
// Title comparison tokenizes titles (lowercased, stopwords dropped, suite
// and movement numbering folded onto digits) and scores candidates with
// cosine similarity over token vectors weighted by inverse document
// frequency across the catalog's titles.
package textutil
