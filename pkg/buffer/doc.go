// Package buffer provides a thread-safe generic ring buffer for sliding
// windows of recent data, such as the CLI's captured log lines. When the
// buffer is full the oldest element is overwritten.
//
// Example usage:
//
//	rb := buffer.RingN[string](100)
//	rb.Add("line")
//	recent := rb.Bytes()
package buffer
