package encoding

import (
	"bufio"
	"bytes"
	"io"
	"iter"
	"strconv"
	"strings"
	"time"
)

// Progress is one parsed ffmpeg status line.
type Progress struct {
	Frame int64
	FPS   float64
	Time  time.Duration
	Speed float64
}

// ParseProgress extracts frame, time, and speed from an ffmpeg status line.
// Lines missing any of the three are not progress.
func ParseProgress(line string) (Progress, bool) {
	if !strings.Contains(line, "frame=") || !strings.Contains(line, "time=") || !strings.Contains(line, "speed=") {
		return Progress{}, false
	}
	var p Progress
	if v, ok := fieldValue(line, "frame="); ok {
		p.Frame, _ = strconv.ParseInt(v, 10, 64)
	}
	if v, ok := fieldValue(line, "fps="); ok {
		p.FPS, _ = strconv.ParseFloat(v, 64)
	}
	if v, ok := fieldValue(line, "time="); ok {
		p.Time = parseClock(v)
	}
	if v, ok := fieldValue(line, "speed="); ok {
		p.Speed, _ = strconv.ParseFloat(strings.TrimSuffix(v, "x"), 64)
	}
	return p, true
}

// fieldValue returns the token after key, tolerating ffmpeg's padding spaces.
func fieldValue(line, key string) (string, bool) {
	idx := strings.Index(line, key)
	if idx == -1 {
		return "", false
	}
	rest := strings.TrimLeft(line[idx+len(key):], " ")
	if end := strings.IndexAny(rest, " \t"); end >= 0 {
		rest = rest[:end]
	}
	return rest, rest != ""
}

// parseClock parses HH:MM:SS.ss; N/A and malformed values yield zero.
func parseClock(value string) time.Duration {
	parts := strings.Split(value, ":")
	if len(parts) != 3 {
		return 0
	}
	hours, err1 := strconv.Atoi(parts[0])
	minutes, err2 := strconv.Atoi(parts[1])
	seconds, err3 := strconv.ParseFloat(parts[2], 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return 0
	}
	return time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds*float64(time.Second))
}

// Lines yields trimmed, non-empty lines from r. Both \r and \n end a line
// because ffmpeg redraws its status line with carriage returns.
func Lines(r io.Reader) iter.Seq[string] {
	return func(yield func(string) bool) {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		scanner.Split(scanLinesWithCR)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if !yield(line) {
				return
			}
		}
	}
}

func scanLinesWithCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		advance = i + 1
		for advance < len(data) && (data[advance] == '\r' || data[advance] == '\n') {
			advance++
		}
		return advance, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// tail keeps the last n lines written to it.
type tail struct {
	n     int
	lines []string
}

func (t *tail) add(line string) {
	if t.n <= 0 {
		return
	}
	if len(t.lines) == t.n {
		copy(t.lines, t.lines[1:])
		t.lines = t.lines[:t.n-1]
	}
	t.lines = append(t.lines, line)
}
