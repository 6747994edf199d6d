// Package feed turns hub notification bodies (Atom documents pushed by the
// YouTube WebSub hub) into Event values.
//
// A body is parsed as a whole: any document that is not a well-formed Atom or
// RSS feed is rejected with a *ParseError and yields no events. Entries that
// carry no video id are silently dropped.
package feed
