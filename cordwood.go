// Package cordwood provides a leveled logger that writes to a single
// live file and rotates it through a fixed pool of numbered backups.
//
// cordwood is designed to be a small, self-contained sink in a logging
// infrastructure. A Channel stamps each record with the local wall
// clock and a severity tag, appends it to the live file, and once the
// file reaches MaxSize kilobytes shifts it into the backup pool.
//
// Import:
//
//	import "github.com/cordwood/cordwood"
//
// A Channel derives every file name from Filename by inserting a
// generation number before the extension. The live file is generation
// 0 and backups count upward, oldest last, so Filename
// /var/log/foo/server.log is written as /var/log/foo/server_0.log with
// backups server_1.log through server_N.log.
//
// cordwood is compatible with any logging package that writes to an
// io.Writer, including the standard library's log package, through
// Channel.Writer.
//
// cordwood assumes that only a single process is writing to the output
// files. Using the same Channel configuration from multiple processes
// on the same machine may result in improper behavior.
package cordwood

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"
)

const (
	compressSuffix = ".gz"
	zstdSuffix     = ".zst"

	defaultMaxSize    = 1024
	defaultMaxBackups = 3
	defaultFileMode   = os.FileMode(0644)

	// maxLogText bounds the formatted message of one record. A whole
	// record, timestamp and tags included, is bounded to twice this.
	// Overflow is cut off silently.
	maxLogText = 256
)

var (
	// ErrNoFilename is returned by Start when Filename is empty.
	ErrNoFilename = errors.New("cordwood: filename is required")

	// ErrStarted is returned by Start when the channel is already running.
	ErrStarted = errors.New("cordwood: channel already started")

	// ErrNotStarted is returned by operations that need a running channel.
	ErrNotStarted = errors.New("cordwood: channel not started")

	// ErrEmptyMessage is returned by the write calls for an empty format
	// string.
	ErrEmptyMessage = errors.New("cordwood: empty message")

	// ErrBackupIndex is returned by BackupPath for a generation index
	// outside 0..MaxBackups.
	ErrBackupIndex = errors.New("cordwood: backup index out of range")

	// ErrInvalidMaxSize is returned by Start for a negative MaxSize.
	ErrInvalidMaxSize = errors.New("cordwood: invalid MaxSize")

	// ErrInvalidMaxBackups is returned by Start for a negative MaxBackups.
	ErrInvalidMaxBackups = errors.New("cordwood: invalid MaxBackups")
)

var (
	// currentTime exists so it can be mocked out by tests.
	currentTime = time.Now

	// osStat exists so it can be mocked out by tests.
	osStat = os.Stat

	// osRename exists so it can be mocked out by tests.
	osRename = os.Rename

	// osRemove exists so it can be mocked out by tests.
	osRemove = os.Remove

	// kilobyte is the conversion factor between MaxSize and bytes. It is
	// a variable so tests can mock it out and trigger rotation without
	// writing kilobytes of data to disk.
	kilobyte = 1024
)

// Channel is a leveled logging sink backed by one live file and a fixed
// pool of numbered backups.
//
// A Channel is inert until Start. Start decomposes Filename and fixes
// the generation names; the live file itself appears on the first
// Write. Each Write formats one record, opens the live file, appends,
// and closes it again, so external tools can read or ship the file
// between writes without coordination.
//
// Before each append the channel compares the live file size, counted
// in whole kilobytes, against MaxSize. Once the threshold is reached
// the generations shift up by one: the oldest is deleted, _i becomes
// _i+1, and an empty live file takes over generation 0 with the mode
// and ownership of its predecessor. A record is never split across
// generations; the record whose write observed the threshold is the
// first record of the fresh live file.
//
// Rotation is best effort. A rename or remove that fails is reported
// on stderr, the step is skipped, and the append proceeds regardless,
// so a degraded filesystem costs backups but never log records.
//
// cordwood assumes only a single process is writing to the log files
// at a time.
type Channel struct {
	// Filename is the file the generation names derive from. The
	// channel never writes to Filename itself: the live file is
	// Filename with _0 before the extension, and backups count up from
	// _1 in the same directory. Start fails if Filename is empty.
	Filename string `json:"filename" yaml:"filename"`

	// MaxSize is the maximum size in kilobytes the live file may reach
	// before it is rotated. The check rounds down to whole kilobytes,
	// so the file rotates only once a full MaxSize kilobytes are on
	// disk. It defaults to 1024 kilobytes.
	MaxSize int `json:"maxsize" yaml:"maxsize"`

	// MaxBackups is the number of rotated generations to retain. The
	// oldest generation is deleted when the cascade pushes past it. It
	// defaults to 3.
	MaxBackups int `json:"maxbackups" yaml:"maxbackups"`

	// FileMode is the permission mode for files the channel creates. A
	// live file that already exists keeps the mode it has, and rotation
	// carries that mode onto its successor. It defaults to 0644.
	FileMode os.FileMode `json:"filemode" yaml:"filemode"`

	// Compression selects the algorithm applied to rotated generations:
	// "none", "gzip" or "zstd". Compression runs on a background
	// goroutine after each rotation; the live file is never compressed.
	// Unknown values disable compression with a note on stderr. The
	// default is no compression.
	Compression string `json:"compression,omitempty" yaml:"compression,omitempty"`

	// Internal
	dir  string // directory part of Filename, trailing separator kept
	stem string // file name without extension
	ext  string // extension, leading dot kept

	livePath    string
	maxSize     int
	maxBackups  int
	mode        os.FileMode
	compression string

	started atomic.Bool
	stateMu sync.Mutex // serializes Start and Stop

	// mu guards the write and rotation path. Start installs a
	// *sync.Mutex unless a test injected another Locker beforehand.
	mu sync.Locker

	// For mill goroutine (backup compression)
	millCh chan bool
	millWg sync.WaitGroup
}

// Start readies the channel for writing. It decomposes Filename into
// directory, stem and extension, fixes the generation names, and fills
// in defaults for every configuration field left zero. Start does not
// touch the filesystem; the live file appears on the first Write.
//
// Start fails with ErrStarted on a channel that is already running,
// ErrNoFilename when Filename is empty, and ErrInvalidMaxSize or
// ErrInvalidMaxBackups when either value is negative. A stopped
// channel may be started again, picking up configuration changes made
// in between.
func (c *Channel) Start() error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	if c.started.Load() {
		return ErrStarted
	}
	if c.Filename == "" {
		return ErrNoFilename
	}
	if c.MaxSize < 0 {
		return ErrInvalidMaxSize
	}
	if c.MaxBackups < 0 {
		return ErrInvalidMaxBackups
	}

	c.dir, c.stem, c.ext = splitPath(c.Filename)

	c.maxSize = c.MaxSize
	if c.maxSize == 0 {
		c.maxSize = defaultMaxSize
	}
	c.maxBackups = c.MaxBackups
	if c.maxBackups == 0 {
		c.maxBackups = defaultMaxBackups
	}
	c.mode = c.FileMode
	if c.mode == 0 {
		c.mode = defaultFileMode
	}
	c.compression = resolveCompression(c.Compression, c.Filename)
	c.livePath = c.generation(0)

	if c.mu == nil {
		c.mu = &sync.Mutex{}
	}
	if c.compression != "none" {
		c.millCh = make(chan bool, 1)
		c.millWg.Add(1)
		go c.millRun()
	}

	c.started.Store(true)
	return nil
}

// Stop halts the channel. Queued compression work is finished and the
// mill goroutine drained before Stop returns. Afterwards every write
// fails with ErrNotStarted until the channel is started again; the
// files on disk are left as they are.
func (c *Channel) Stop() error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	if !c.started.Load() {
		return ErrNotStarted
	}

	c.mu.Lock()
	c.started.Store(false)
	c.mu.Unlock()

	if c.millCh != nil {
		close(c.millCh)
		c.millWg.Wait()
		c.millCh = nil
	}
	return nil
}

// Write formats one record at the given level and appends it to the
// live file. The record carries the current wall-clock time with
// millisecond precision and ends in CRLF; format and args follow
// fmt.Sprintf.
//
// The size check runs before the append, so the record that pushes the
// file past MaxSize stays where it is and the rotation happens on the
// next call.
//
// Write fails with ErrNotStarted on a stopped channel and with
// ErrEmptyMessage for an empty format string, in both cases without
// touching the filesystem. Failures to open or append the live file
// are returned wrapped.
func (c *Channel) Write(level Level, format string, args ...interface{}) error {
	return c.write(level, nil, format, args...)
}

// WriteDebug is Write with a caller reference. The base name of file,
// the line number and the function name are recorded between the
// severity tag and the message. An empty file renders as "(NULL)".
func (c *Channel) WriteDebug(level Level, file string, line int, fn string, format string, args ...interface{}) error {
	return c.write(level, &callerRef{file: file, line: line, fn: fn}, format, args...)
}

// WriteCaller is WriteDebug with the caller reference filled in from
// the calling frame, so call sites need not spell out file, line and
// function themselves.
func (c *Channel) WriteCaller(level Level, format string, args ...interface{}) error {
	pc, file, line, ok := runtime.Caller(1)
	if !ok {
		return c.write(level, &callerRef{}, format, args...)
	}
	var fn string
	if f := runtime.FuncForPC(pc); f != nil {
		fn = f.Name()
		if i := strings.LastIndexByte(fn, '.'); i >= 0 {
			fn = fn[i+1:]
		}
	}
	return c.write(level, &callerRef{file: file, line: line, fn: fn}, format, args...)
}

// callerRef carries the caller fields of a debug record.
type callerRef struct {
	file string
	line int
	fn   string
}

func (c *Channel) write(level Level, caller *callerRef, format string, args ...interface{}) error {
	if !c.started.Load() {
		return ErrNotStarted
	}
	if format == "" {
		return ErrEmptyMessage
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// The channel may have been stopped while we waited for the lock.
	if !c.started.Load() {
		return ErrNotStarted
	}

	c.rotate(false)

	record := renderRecord(currentTime(), level, caller, fmt.Sprintf(format, args...))

	f, err := os.OpenFile(c.livePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, c.mode)
	if err != nil {
		return fmt.Errorf("can't open log file: %w", err)
	}
	_, werr := f.Write(record)
	cerr := f.Close()
	if werr != nil {
		return fmt.Errorf("can't append to log file: %w", werr)
	}
	if cerr != nil {
		return fmt.Errorf("can't close log file: %w", cerr)
	}
	return nil
}

// renderRecord lays out one record: timestamp, severity tag, optional
// caller reference, message, CRLF. The message is cut at maxLogText-1
// bytes and the whole record at 2*maxLogText-1 bytes. The cut is by
// byte count, so a multibyte rune may be split at the bound.
func renderRecord(t time.Time, level Level, caller *callerRef, msg string) []byte {
	if len(msg) > maxLogText-1 {
		msg = msg[:maxLogText-1]
	}

	b := make([]byte, 0, 2*maxLogText)
	b = fmt.Appendf(b, "%04d/%02d/%02d, %02d:%02d:%02d.%03d, %s, ",
		t.Year(), int(t.Month()), t.Day(),
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond()/int(time.Millisecond),
		level)
	if caller != nil {
		b = fmt.Appendf(b, "%s(%d), %s, ", callerBase(caller.file), caller.line, caller.fn)
	}
	b = append(b, msg...)
	b = append(b, '\r', '\n')

	if len(b) > 2*maxLogText-1 {
		b = b[:2*maxLogText-1]
	}
	return b
}

// callerBase reduces a caller file path to its final element. Both
// separator styles are handled, since build systems hand through
// either. An empty path renders as "(NULL)".
func callerBase(file string) string {
	if file == "" {
		return "(NULL)"
	}
	if i := strings.LastIndexAny(file, `/\`); i >= 0 {
		file = file[i+1:]
	}
	return file
}

// Rotate runs the rotation cascade immediately, without a size check.
// This is a helper for applications that want to divide their log at
// natural boundaries, such as in response to SIGHUP, outside the
// normal size rule. Trouble inside the cascade is reported on stderr,
// as for size-triggered rotations.
func (c *Channel) Rotate() error {
	if !c.started.Load() {
		return ErrNotStarted
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started.Load() {
		return ErrNotStarted
	}
	c.rotate(true)
	return nil
}

// backupForms lists the on-disk forms a generation can take. The
// cascade shifts every form it finds, so plain and compressed files
// travel through the pool together.
var backupForms = []string{"", compressSuffix, zstdSuffix}

// rotate shifts the generations up by one slot when the live file has
// reached MaxSize whole kilobytes, or unconditionally when force is
// set. The oldest generation is removed, the survivors are renamed one
// slot up, and an empty live file with the mode and ownership of the
// old one takes over generation 0. Every step is best effort: a failed
// step is reported on stderr and skipped, and the caller's append
// proceeds into whatever file is at the live path afterwards.
// c.mu must be held by the caller.
func (c *Channel) rotate(force bool) {
	info, err := osStat(c.livePath)
	live := err == nil && !info.IsDir()
	if !force {
		if !live {
			return
		}
		if info.Size()/int64(kilobyte) < int64(c.maxSize) {
			return
		}
	}

	oldest := c.generation(c.maxBackups)
	for _, form := range backupForms {
		if !regularFile(oldest + form) {
			continue
		}
		if err := osRemove(oldest + form); err != nil {
			fmt.Fprintf(os.Stderr, "cordwood: [%s] can't remove oldest backup %s: %v\n", c.Filename, oldest+form, err)
		}
	}

	for i := c.maxBackups - 1; i >= 0; i-- {
		src := c.generation(i)
		dst := c.generation(i + 1)
		for _, form := range backupForms {
			if !regularFile(src + form) {
				continue
			}
			if err := osRename(src+form, dst+form); err != nil {
				fmt.Fprintf(os.Stderr, "cordwood: [%s] can't rename backup %s: %v\n", c.Filename, src+form, err)
			}
		}
	}

	if live {
		// When the rename above failed the live path is still occupied;
		// O_EXCL leaves that file alone and the append continues into it.
		f, err := os.OpenFile(c.livePath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, info.Mode())
		if err == nil {
			f.Close()
			if err := chown(c.livePath, info); err != nil {
				fmt.Fprintf(os.Stderr, "cordwood: [%s] can't chown new log file: %v\n", c.Filename, err)
			}
		}
	}

	c.mill()
}

// regularFile reports whether a regular file exists at name.
// Directories never take part in rotation.
func regularFile(name string) bool {
	info, err := osStat(name)
	return err == nil && info.Mode().IsRegular()
}

// Path returns the live file path derived from Filename, or the empty
// string when the channel is not started.
func (c *Channel) Path() string {
	if !c.started.Load() {
		return ""
	}
	return c.livePath
}

// BackupPath returns the path of one generation, where index 0 names
// the live file and MaxBackups names the oldest retained generation.
// When compression is enabled the file on disk additionally carries
// the algorithm's suffix once the mill has processed it.
func (c *Channel) BackupPath(index int) (string, error) {
	if !c.started.Load() {
		return "", ErrNotStarted
	}
	if index < 0 || index > c.maxBackups {
		return "", ErrBackupIndex
	}
	return c.generation(index), nil
}

// generation returns the file name of generation i.
func (c *Channel) generation(i int) string {
	return fmt.Sprintf("%s%s_%d%s", c.dir, c.stem, i, c.ext)
}

// splitPath decomposes a path into directory (trailing separator
// kept), stem and extension (leading dot kept), such that joining the
// three yields the original path. A bare name like ".log" counts as
// extension with an empty stem.
func splitPath(path string) (dir, stem, ext string) {
	dir, file := filepath.Split(path)
	ext = filepath.Ext(file)
	stem = file[:len(file)-len(ext)]
	return dir, stem, ext
}

// resolveCompression returns "none", "gzip" or "zstd". Unknown names
// disable compression and leave a note on stderr.
func resolveCompression(name, filename string) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none":
		return "none"
	case "gzip":
		return "gzip"
	case "zstd":
		return "zstd"
	}
	fmt.Fprintf(os.Stderr, "cordwood: [%s] unknown compression %q, compression disabled\n", filename, name)
	return "none"
}

// compressedSuffix returns the file name suffix produced by the
// resolved compression algorithm.
func (c *Channel) compressedSuffix() string {
	switch c.compression {
	case "zstd":
		return zstdSuffix
	default:
		return compressSuffix
	}
}

// mill signals the mill goroutine that rotated generations may need
// compressing. The send is non-blocking; a signal already queued
// covers the new work too. c.mu must be held by the caller.
func (c *Channel) mill() {
	if c.millCh == nil {
		return
	}
	select {
	case c.millCh <- true:
	default:
	}
}

// millRun runs in a goroutine, compressing rotated generations after
// each rotation, until Stop closes the channel.
func (c *Channel) millRun() {
	defer c.millWg.Done()
	for range c.millCh {
		c.compressBackups()
	}
}

// compressBackups compresses every plain generation from 1 up; the
// live file is never touched. Compression may race the next cascade,
// but the cascade shifts plain and compressed forms alike, so a
// generation survives in one form or the other either way.
func (c *Channel) compressBackups() {
	suffix := c.compressedSuffix()
	for i := 1; i <= c.maxBackups; i++ {
		src := c.generation(i)
		if !regularFile(src) {
			continue
		}
		if err := compressLogFile(src, src+suffix); err != nil {
			fmt.Fprintf(os.Stderr, "cordwood: [%s] failed to compress backup %s: %v\n", c.Filename, src, err)
		}
	}
}

// compressLogFile compresses the given log file, removing the
// uncompressed file if successful. The algorithm follows from the dst
// suffix. The compressed file keeps the mode and ownership of the
// original.
func compressLogFile(src, dst string) (err error) {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open log file: %v", err)
	}
	defer f.Close()

	fi, err := osStat(src)
	if err != nil {
		return fmt.Errorf("failed to stat log file: %v", err)
	}

	cf, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, fi.Mode())
	if err != nil {
		return fmt.Errorf("failed to open compressed log file: %v", err)
	}
	defer func() { // Ensure cf is closed, and dst removed on error
		if errClose := cf.Close(); err == nil && errClose != nil {
			err = fmt.Errorf("failed to close compressed file: %w", errClose)
		}
		if err != nil {
			if removeErr := os.Remove(dst); removeErr != nil && !os.IsNotExist(removeErr) {
				fmt.Fprintf(os.Stderr, "cordwood: failed to remove partially compressed file %s: %v\n", dst, removeErr)
			}
		}
	}()

	var enc io.WriteCloser
	if strings.HasSuffix(dst, zstdSuffix) {
		enc, err = zstd.NewWriter(cf)
		if err != nil {
			return fmt.Errorf("failed to init zstd writer: %w", err)
		}
	} else {
		enc = gzip.NewWriter(cf)
	}

	if _, errCopy := io.Copy(enc, f); errCopy != nil {
		_ = enc.Close()
		return fmt.Errorf("failed to compress log file: %w", errCopy)
	}
	if errClose := enc.Close(); errClose != nil {
		return fmt.Errorf("failed to close compression writer: %w", errClose)
	}

	// Close original file before attempting to chown or remove src
	if errClose := f.Close(); errClose != nil {
		fmt.Fprintf(os.Stderr, "cordwood: failed to close source file %s after compression: %v\n", src, errClose)
	}

	if errChown := chown(dst, fi); errChown != nil {
		fmt.Fprintf(os.Stderr, "cordwood: failed to chown compressed log file %s: %v\n", dst, errChown)
	}

	if errRemove := os.Remove(src); errRemove != nil {
		return fmt.Errorf("failed to remove original log file %s after compression: %w", src, errRemove)
	}

	return nil
}

// ensure the adapter always implements io.Writer
var _ io.Writer = (*levelWriter)(nil)

// levelWriter adapts a Channel to io.Writer at a fixed level.
type levelWriter struct {
	c     *Channel
	level Level
}

// Writer returns an io.Writer that records each Write call as one
// message at the given level, for plugging the channel into logging
// packages that expect a plain writer, such as the standard library's
// log. One trailing newline, LF or CRLF, is stripped from every call,
// since the channel terminates records itself.
func (c *Channel) Writer(level Level) io.Writer {
	return &levelWriter{c: c, level: level}
}

func (w *levelWriter) Write(p []byte) (int, error) {
	msg := string(p)
	if strings.HasSuffix(msg, "\n") {
		msg = strings.TrimSuffix(msg, "\n")
		msg = strings.TrimSuffix(msg, "\r")
	}
	if err := w.c.write(w.level, nil, "%s", msg); err != nil {
		return 0, err
	}
	return len(p), nil
}
