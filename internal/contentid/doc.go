// Package contentid parses, encodes and orders the structured identifiers
// attached to every piece of speakable text.
//
// An identifier has two layers. The optional accessibility layer is a prefix
// of the form
//
//	[speed=<int>;isMale=<true|false>]
//
// (the gender clause is omitted when unspecified) and selects a rendering of
// the content. The identity layer that follows has the form
//
//	[tag.]scenario.mission.order[.suborder...][_chunkIndex]
//
// and determines consumption order. Two identifiers that differ only in their
// accessibility layer name the same content rendered differently.
package contentid
