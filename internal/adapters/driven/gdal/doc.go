// Package gdal drives the GDAL command-line tools.
//
// Inspector reads layer schemas and coded-value domains from
// `ogrinfo -json`. Runner launches one `ogr2ogr` process per conversion
// job and exposes it as a non-blocking handle: a reader goroutine drains
// the combined output, counts it as activity for the supervisor and keeps
// the last lines for error reports.
package gdal
