package nginx

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"cachegate/internal/policy"

	"github.com/pterm/pterm"
)

// Parser parses the edge proxy's cache access log. The deployment uses a
// custom nginx log_format:
//
//	$remote_addr - [$time_local] "$request" $status $body_bytes_sent
//	$request_time $upstream_response_time "$upstream_cache_status"
//
// $request_time and $upstream_response_time are seconds with millisecond
// resolution (nginx convention); $upstream_response_time is "-" when the
// response never touched the upstream. The timestamp uses the CLF layout
// "02/Jan/2006:15:04:05 -0700".
type Parser struct {
	logger *pterm.Logger
	lineRe *regexp.Regexp
}

const cacheLogPattern = `^(\S+) - \[([^\]]+)\] "([A-Z]+) ([^ "]+) ([^"]*)" (\d{3}) (\d+) ([\d.]+) ([\d.]+|-) "([^"]*)"\s*$`

const clfTimeLayout = "02/Jan/2006:15:04:05 -0700"

// NewParser creates a parser with the line regex compiled once.
func NewParser(logger *pterm.Logger) *Parser {
	return &Parser{
		logger: logger,
		lineRe: regexp.MustCompile(cacheLogPattern),
	}
}

// Name returns the parser identifier.
func (p *Parser) Name() string {
	return "nginx-cache"
}

// CanParse checks whether the line matches the cache access log format.
func (p *Parser) CanParse(line string) bool {
	if line == "" {
		return false
	}
	return p.lineRe.MatchString(line)
}

// Parse turns one raw log line into an AccessEvent. Lines that do not
// match the format return an error so the caller can count them as parse
// errors instead of dropping them silently.
func (p *Parser) Parse(line string) (*AccessEvent, error) {
	matches := p.lineRe.FindStringSubmatch(strings.TrimRight(line, "\r\n"))
	if matches == nil {
		preview := line
		if len(preview) > 150 {
			preview = preview[:150] + "..."
		}
		p.logger.Trace("Line does not match cache log format",
			p.logger.Args("line_preview", preview))
		return nil, fmt.Errorf("line does not match cache log format")
	}

	clientIP := matches[1]
	timestampStr := matches[2]
	method := matches[3]
	requestPath := matches[4]
	protocol := matches[5]
	statusStr := matches[6]
	bytesStr := matches[7]
	requestTimeStr := matches[8]
	upstreamStr := matches[9]
	cacheLabel := matches[10]

	timestamp, err := time.Parse(clfTimeLayout, timestampStr)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp %q: %w", timestampStr, err)
	}

	statusCode, _ := strconv.Atoi(statusStr)
	if statusCode < 100 || statusCode >= 600 {
		return nil, fmt.Errorf("status code %d out of range", statusCode)
	}

	bytesSent, err := strconv.ParseInt(bytesStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid bytes_sent %q: %w", bytesStr, err)
	}

	requestSecs, err := strconv.ParseFloat(requestTimeStr, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid request_time %q: %w", requestTimeStr, err)
	}

	upstreamSeen := upstreamStr != "-"
	var upstreamMs float64
	if upstreamSeen {
		upstreamSecs, err := strconv.ParseFloat(upstreamStr, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid upstream_response_time %q: %w", upstreamStr, err)
		}
		upstreamMs = upstreamSecs * 1000
	}

	// Split the query string off; the route key is the bare path.
	path := requestPath
	query := ""
	if idx := strings.Index(path, "?"); idx != -1 {
		query = path[idx+1:]
		path = path[:idx]
	}

	event := &AccessEvent{
		Timestamp:      timestamp,
		ClientIP:       clientIP,
		Method:         strings.ToUpper(method),
		Path:           path,
		Query:          query,
		Protocol:       protocol,
		StatusCode:     statusCode,
		BytesSent:      bytesSent,
		RequestTimeMs:  requestSecs * 1000,
		UpstreamTimeMs: upstreamMs,
		UpstreamSeen:   upstreamSeen,
		CacheLabel:     policy.ParseStatus(cacheLabel),
	}

	p.logger.Trace("Parsed cache log line",
		p.logger.Args(
			"timestamp", event.Timestamp.Format(time.RFC3339),
			"path", event.Path,
			"status", event.StatusCode,
			"cache", string(event.CacheLabel),
		))

	return event, nil
}
