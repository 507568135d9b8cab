package ingestion

import (
	"bufio"
	"io"
	"os"
	"reflect"
	"strings"

	"github.com/pterm/pterm"
)

// IncrementalReader reads the access log incrementally, tracking position
// and detecting log rotation
type IncrementalReader struct {
	filePath     string
	lastPosition int64
	lastInode    int64 // File identifier (inode on Unix, file index on Windows)
	lastLine     string
	logger       *pterm.Logger
}

// NewIncrementalReader creates a reader resuming at the given position.
func NewIncrementalReader(filePath string, lastPos int64, lastInode int64, lastLine string, logger *pterm.Logger) *IncrementalReader {
	return &IncrementalReader{
		filePath:     filePath,
		lastPosition: lastPos,
		lastInode:    lastInode,
		lastLine:     lastLine,
		logger:       logger,
	}
}

// ReadBatch reads up to maxLines new complete lines from the file.
// Returns: lines read, new position, new inode, last line content, error.
// Position advances only past newline-terminated lines, so a line the
// proxy is still writing is left for the next poll. A missing or
// unreadable file is not an error, the next poll retries.
func (r *IncrementalReader) ReadBatch(maxLines int) ([]string, int64, int64, string, error) {
	if _, err := os.Stat(r.filePath); os.IsNotExist(err) {
		r.logger.Warn("Access log does not exist yet, waiting for creation",
			r.logger.Args("path", r.filePath))
		return []string{}, r.lastPosition, r.lastInode, r.lastLine, nil
	}

	file, err := os.Open(r.filePath)
	if err != nil {
		if os.IsPermission(err) {
			r.logger.Error("Permission denied accessing access log",
				r.logger.Args("path", r.filePath, "error", err))
			return []string{}, r.lastPosition, r.lastInode, r.lastLine, nil
		}
		r.logger.Warn("Failed to open access log, will retry",
			r.logger.Args("path", r.filePath, "error", err))
		return []string{}, r.lastPosition, r.lastInode, r.lastLine, nil
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		r.logger.WithCaller().Error("Failed to stat access log", r.logger.Args("path", r.filePath, "error", err))
		return nil, 0, 0, "", err
	}

	fileSize := stat.Size()

	currentInode, err := getFileInode(file)
	if err != nil {
		r.logger.WithCaller().Warn("Failed to get file inode", r.logger.Args("path", r.filePath, "error", err))
		currentInode = 0 // Continue without inode check
	}

	// ROTATION CASE 1: file identity changed (deleted and recreated).
	if r.lastInode != 0 && currentInode != 0 && currentInode != r.lastInode {
		r.logger.Info("Log rotation detected: file deleted and recreated (inode changed)",
			r.logger.Args(
				"path", r.filePath,
				"old_inode", r.lastInode,
				"new_inode", currentInode,
			))
		r.lastPosition = 0
		r.lastLine = ""
		r.lastInode = currentInode
	} else if currentInode != 0 {
		r.lastInode = currentInode
	}

	// ROTATION CASE 2: file truncated in place.
	if fileSize < r.lastPosition {
		r.logger.Info("Log rotation detected: file truncated",
			r.logger.Args(
				"path", r.filePath,
				"old_size", r.lastPosition,
				"new_size", fileSize,
			))
		r.lastPosition = 0
		r.lastLine = ""
	}

	if _, err := file.Seek(r.lastPosition, 0); err != nil {
		r.logger.WithCaller().Error("Failed to seek in access log",
			r.logger.Args("path", r.filePath, "position", r.lastPosition, "error", err))
		return nil, 0, 0, "", err
	}

	reader := bufio.NewReader(file)
	lines := []string{}
	newPos := r.lastPosition

	for len(lines) < maxLines {
		raw, err := reader.ReadString('\n')
		if err == io.EOF {
			// Partial trailing line: the proxy has not finished it yet.
			break
		}
		if err != nil {
			r.logger.WithCaller().Error("Read error while reading access log",
				r.logger.Args("path", r.filePath, "error", err))
			return nil, 0, 0, "", err
		}

		newPos += int64(len(raw))
		line := strings.TrimRight(raw, "\r\n")
		if line != "" {
			lines = append(lines, line)
		}
	}

	if len(lines) > 0 {
		lastLine := lines[len(lines)-1]

		r.logger.Trace("Read batch from access log",
			r.logger.Args(
				"path", r.filePath,
				"lines_read", len(lines),
				"old_position", r.lastPosition,
				"new_position", newPos,
			))

		return lines, newPos, r.lastInode, lastLine, nil
	}

	return []string{}, newPos, r.lastInode, r.lastLine, nil
}

// UpdatePosition confirms the position after the batch has been counted.
func (r *IncrementalReader) UpdatePosition(position int64, inode int64, lastLine string) {
	r.lastPosition = position
	r.lastInode = inode
	r.lastLine = lastLine
}

// Reset rewinds the reader to the beginning of the file.
func (r *IncrementalReader) Reset() {
	r.logger.Info("Resetting reader to beginning", r.logger.Args("path", r.filePath))
	r.lastPosition = 0
	r.lastInode = 0
	r.lastLine = ""
}

// getFileInode returns a stable identifier for the file using reflection
// to access the system-specific inode. This works across platforms
// (Linux, macOS, Windows) without build tags.
func getFileInode(file *os.File) (int64, error) {
	stat, err := file.Stat()
	if err != nil {
		return 0, err
	}

	sys := stat.Sys()
	if sys != nil {
		v := reflect.ValueOf(sys)
		if v.Kind() == reflect.Ptr {
			v = v.Elem()
		}
		if v.Kind() == reflect.Struct {
			// Ino field (Unix/Linux/macOS)
			inoField := v.FieldByName("Ino")
			if inoField.IsValid() && inoField.CanUint() {
				return int64(inoField.Uint()), nil
			}

			// FileIndex for Windows (similar to inode)
			fileIndexField := v.FieldByName("FileIndexHigh")
			if fileIndexField.IsValid() && fileIndexField.CanUint() {
				fileIndexHigh := fileIndexField.Uint()
				fileIndexLow := uint64(0)
				if lowField := v.FieldByName("FileIndexLow"); lowField.IsValid() && lowField.CanUint() {
					fileIndexLow = lowField.Uint()
				}
				return int64((fileIndexHigh << 32) | fileIndexLow), nil
			}
		}
	}

	// No real inode available; rotation falls back to truncation checks.
	return 0, nil
}
