// Package gitignore implements gitignore-style pattern matching as
// documented at https://git-scm.com/docs/gitignore.
//
// The scanner uses one Matcher per scan, composed from the repository's
// .gitignore files and the repo-local ignore file (.crystalignore by
// default). Both use the same syntax:
//
//	*.log           ignore by extension, any depth
//	/build          anchored to the root
//	temp/           directories only (and everything inside)
//	!keep.log       negation, re-includes an earlier match
//	doc/frotz       internal slash anchors the pattern to the root
//
// Later rules win over earlier rules, so negations must follow the
// patterns they carve exceptions out of. Matching is safe for concurrent
// use once all patterns are added.
package gitignore
