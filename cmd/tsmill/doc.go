// Command tsmill watches an input directory for transport stream recordings
// and converts each new file with ffmpeg.
//
// `tsmill run` starts the converter in the foreground. The remaining
// subcommands inspect a configuration, the attempt journal, the staging area,
// and the external dependencies without touching a running instance.
package main
