package robots

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

type parseState int

const (
	stateNoAgent parseState = iota
	stateInAgent
	stateInRules
)

// maxLineBytes bounds a single robots.txt line.
const maxLineBytes = 64 * 1024

// Parse reads robots.txt text. Malformed lines are logged at debug level and
// skipped; an error is returned only when reading fails.
func Parse(r io.Reader, logger *zap.Logger) (*Policy, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Policy{}
	state := stateNoAgent
	entry := &Entry{}

	br := bufio.NewReaderSize(r, maxLineBytes)
	lineNo := 0
	for {
		chunk, isPrefix, err := br.ReadLine()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read robots.txt: %w", err)
		}
		lineNo++
		if isPrefix {
			if err := skipLine(br); err != nil && !errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("read robots.txt: %w", err)
			}
			logger.Debug("robots: overlong line ignored", zap.Int("line", lineNo))
			continue
		}
		raw := strings.TrimRight(string(chunk), "\r")
		if lineNo == 1 {
			raw = strings.TrimPrefix(raw, "\ufeff")
		}

		if strings.TrimSpace(raw) == "" {
			switch state {
			case stateInAgent:
				logger.Debug("robots: user-agent block without rules discarded", zap.Int("line", lineNo))
				entry = &Entry{}
				state = stateNoAgent
			case stateInRules:
				p.addEntry(entry)
				entry = &Entry{}
				state = stateNoAgent
			}
			continue
		}

		line, _, _ := strings.Cut(raw, "#")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			logger.Debug("robots: line without colon ignored", zap.Int("line", lineNo), zap.String("text", line))
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		switch key {
		case "user-agent":
			if state == stateInRules {
				logger.Debug("robots: missing blank line before user-agent", zap.Int("line", lineNo))
				p.addEntry(entry)
				entry = &Entry{}
			}
			entry.UserAgents = append(entry.UserAgents, value)
			state = stateInAgent
		case "disallow", "allow":
			if state == stateNoAgent {
				logger.Debug("robots: rule without user-agent ignored", zap.Int("line", lineNo))
				continue
			}
			entry.Rules = append(entry.Rules, newRuleLine(value, key == "allow"))
			state = stateInRules
		case "crawl-delay":
			if state == stateNoAgent {
				logger.Debug("robots: crawl-delay without user-agent ignored", zap.Int("line", lineNo))
				continue
			}
			delay, err := strconv.Atoi(value)
			if err != nil || delay < 0 {
				logger.Debug("robots: invalid crawl-delay ignored", zap.Int("line", lineNo), zap.String("value", value))
				continue
			}
			entry.CrawlDelay = delay
			state = stateInRules
		case "sitemap":
			p.Sitemaps = append(p.Sitemaps, Sitemap{URL: value, Line: lineNo})
		default:
			logger.Debug("robots: unknown directive ignored", zap.Int("line", lineNo), zap.String("key", key))
		}
	}
	if state != stateNoAgent {
		p.addEntry(entry)
	}
	return p, nil
}

// skipLine discards the remainder of a line longer than the read buffer.
func skipLine(br *bufio.Reader) error {
	for {
		_, more, err := br.ReadLine()
		if err != nil || !more {
			return err
		}
	}
}

// ParseString is Parse over an in-memory document.
func ParseString(text string, logger *zap.Logger) (*Policy, error) {
	return Parse(strings.NewReader(text), logger)
}
