// Package calibration resolves photometric zero points.
//
// A zero point depends on the instrument (detector), the filter, the
// observation date and the magnitude system. Header values are normalized
// first: instrument names are reduced to one of the known ACS detectors
// (WFC, HRC, SBC) and dates to a calendar day. The normalized Query is then
// answered by a Service.
//
// Two services are provided. StaticTable answers from a fixed list of
// calibration epochs and is used for offline runs and tests. HTTPService
// queries a remote zero-point endpoint with a per-request timeout and keeps a
// TTL cache so repeated queries for the same observation are not sent twice.
//
// # Errors
//
// Any failure to obtain a zero point is returned as a *LookupError, which
// matches ErrCalibrationLookup with errors.Is. Such a failure is fatal for a
// pipeline run: magnitudes are never produced without a trusted zero point.
package calibration
