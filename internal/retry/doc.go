// Package retry tracks failed conversion attempts per source file and decides
// when a file is abandoned.
package retry
