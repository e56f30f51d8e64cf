// Package rangereader implements RangeReader, a sequential HTTPS object
// body reader that tolerates mid-stream connection truncation by
// reopening the request at the current offset with a Range header, per
// spec.md §4.G.
package rangereader
