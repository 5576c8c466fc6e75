// Package sourcestr implements source-tracked strings: text that remembers
// which byte range of which file every part came from. Provenance survives
// slicing, concatenation, splitting, trimming and regular-expression
// matching, and feeds file:line:col diagnostics with caret highlights.
//
// Offsets are byte offsets. Transformations that change text without a
// positional correspondence degrade the affected range to untracked.
package sourcestr
