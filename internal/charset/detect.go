// Package charset guesses the text encoding of files from a bounded sample.
package charset

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os"
	"strings"

	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding/htmlindex"
)

const (
	// DefaultSampleLimit bounds the bytes fed to the detector per file.
	DefaultSampleLimit = 64 * 1024

	// ConfidenceThreshold (0-100) ends sampling early.
	ConfidenceThreshold = 90

	checkInterval  = 4 * 1024
	lineBufferSize = 4 * 1024
)

var boms = []struct {
	mark []byte
	name string
}{
	// UTF-32LE must be tested before UTF-16LE, they share a prefix.
	{[]byte{0xFF, 0xFE, 0x00, 0x00}, "utf-32le"},
	{[]byte{0x00, 0x00, 0xFE, 0xFF}, "utf-32be"},
	{[]byte{0xEF, 0xBB, 0xBF}, "utf-8"},
	{[]byte{0xFF, 0xFE}, "utf-16le"},
	{[]byte{0xFE, 0xFF}, "utf-16be"},
}

// Result is the outcome of a detection.
type Result struct {
	Name       string
	Confidence int
	// Fallback is set when Name is the configured default rather than a guess.
	Fallback bool
}

// Accumulator collects a sample incrementally and reports when it is
// confident enough to stop. It is not safe for concurrent use.
type Accumulator struct {
	limit       int
	buf         []byte
	bomChecked  bool
	lastChecked int
	done        bool
	full        bool
	result      Result
	det         *chardet.Detector
}

// NewAccumulator returns an Accumulator that keeps at most limit bytes.
// A non-positive limit selects DefaultSampleLimit.
func NewAccumulator(limit int) *Accumulator {
	if limit <= 0 {
		limit = DefaultSampleLimit
	}
	return &Accumulator{limit: limit, det: chardet.NewTextDetector()}
}

// Feed appends p to the sample and reports whether sampling is finished.
func (a *Accumulator) Feed(p []byte) bool {
	if a.done {
		return true
	}
	if room := a.limit - len(a.buf); len(p) > room {
		p = p[:room]
	}
	a.buf = append(a.buf, p...)

	if !a.bomChecked && len(a.buf) >= 4 {
		a.bomChecked = true
		if name, ok := bomEncoding(a.buf); ok {
			a.result = Result{Name: name, Confidence: 100}
			a.done = true
			return true
		}
	}

	if len(a.buf)-a.lastChecked >= checkInterval {
		a.lastChecked = len(a.buf)
		if r := a.guess(); r.Confidence >= ConfidenceThreshold && r.Name != "ascii" {
			a.result = r
			a.done = true
			return true
		}
	}

	if len(a.buf) >= a.limit {
		a.full = true
		a.done = true
	}
	return a.done
}

// Done reports whether Feed has stopped accepting input.
func (a *Accumulator) Done() bool { return a.done }

// Close finishes sampling and returns the best guess. A zero Result means
// nothing could be guessed, which includes an all-ASCII sample cut off at the
// limit: the unread remainder may hold non-ASCII bytes.
func (a *Accumulator) Close() Result {
	a.done = true
	if a.result.Name != "" {
		return a.result
	}
	if len(a.buf) == 0 {
		return Result{}
	}
	if name, ok := bomEncoding(a.buf); ok {
		a.result = Result{Name: name, Confidence: 100}
		return a.result
	}
	r := a.guess()
	if a.full && r.Name == "ascii" {
		return Result{}
	}
	a.result = r
	return a.result
}

func (a *Accumulator) guess() Result {
	if isASCII(a.buf) {
		return Result{Name: "ascii", Confidence: 100}
	}
	best, err := a.det.DetectBest(a.buf)
	if err != nil || best == nil {
		return Result{}
	}
	return Result{Name: canonicalName(best.Charset), Confidence: best.Confidence}
}

func bomEncoding(b []byte) (string, bool) {
	for _, bom := range boms {
		if bytes.HasPrefix(b, bom.mark) {
			return bom.name, true
		}
	}
	return "", false
}

func isASCII(b []byte) bool {
	for _, c := range b {
		if c >= 0x80 {
			return false
		}
	}
	return true
}

// canonicalName maps detector labels onto WHATWG encoding names when the
// index knows them.
func canonicalName(label string) string {
	if enc, err := htmlindex.Get(label); err == nil {
		if name, err := htmlindex.Name(enc); err == nil {
			return name
		}
	}
	return strings.ToLower(label)
}

// Detector runs an Accumulator over files.
type Detector struct {
	DefaultCharset string
	SampleLimit    int
}

// NewDetector returns a Detector. An empty defaultCharset selects "utf-8".
func NewDetector(defaultCharset string, sampleLimit int) *Detector {
	if defaultCharset == "" {
		defaultCharset = "utf-8"
	}
	if sampleLimit <= 0 {
		sampleLimit = DefaultSampleLimit
	}
	return &Detector{DefaultCharset: defaultCharset, SampleLimit: sampleLimit}
}

// Detect guesses the encoding of the file at path. Failures of any kind
// yield the default charset.
func (d *Detector) Detect(ctx context.Context, path string) Result {
	f, err := os.Open(path)
	if err != nil {
		return d.fallback()
	}
	defer f.Close()
	return d.DetectReader(ctx, f)
}

// DetectReader guesses the encoding of r, reading it line by line until the
// accumulator is done or r is exhausted.
func (d *Detector) DetectReader(ctx context.Context, r io.Reader) Result {
	acc := NewAccumulator(d.SampleLimit)
	br := bufio.NewReaderSize(r, lineBufferSize)
	for !acc.Done() {
		if ctx.Err() != nil {
			return d.fallback()
		}
		line, err := br.ReadSlice('\n')
		if len(line) > 0 {
			acc.Feed(line)
		}
		if err == nil || err == bufio.ErrBufferFull {
			continue
		}
		if err == io.EOF {
			break
		}
		return d.fallback()
	}

	res := acc.Close()
	if res.Name == "" || res.Confidence == 0 {
		return d.fallback()
	}
	return res
}

func (d *Detector) fallback() Result {
	return Result{Name: d.DefaultCharset, Fallback: true}
}
