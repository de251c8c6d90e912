// Package filegdb reads coded-value domains straight from the system
// tables of an Esri File Geodatabase directory.
//
// Domain definitions are XML documents stored as rows of GDB_Items
// (a00000004.gdbtable). The binary row framing is ignored: blocks are
// located by their tags and decoded one by one.
package filegdb
