// Package jt808 implements the JT/T 808 terminal protocol codec together with
// the ULV vendor extensions seen on the fleet's terminals.
//
// A frame on the wire is
//
//	0x7E | escape(header | body | checksum) | 0x7E
//
// Decode turns one such frame into a Message, Encode does the reverse. Both are
// pure functions of their input: a Codec holds nothing but its read-only
// kind registry and can be shared by any number of goroutines.
//
// Connection handling, command correlation and persistence live outside this
// package; ScanFrames and Assembler are the only helpers offered to them.
package jt808
