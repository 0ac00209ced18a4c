package model

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ValidateCron checks a 5-field cron expression or an @macro.
func ValidateCron(expr string) error {
	e := strings.TrimSpace(expr)
	if e == "" {
		return errors.New("empty cron expression")
	}

	// @daily, @every 1h etc. are handled by ParseStandard
	if strings.HasPrefix(e, "@") {
		_, err := cron.ParseStandard(e)
		return err
	}

	parser5 := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	_, err := parser5.Parse(e)
	return err
}

var retentionRx = regexp.MustCompile(`^(\d+d)?(\d+h)?(\d+m)?(\d+s)?$`)

// ParseRetention parses retention ages like "7d", "12h", "1d6h" into a
// time.Duration. Segments must appear in day/hour/minute/second order.
func ParseRetention(s string) (time.Duration, error) {
	if s == "" {
		return 0, errors.New("empty retention")
	}
	m := retentionRx.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid retention %q, expected segments like 7d12h", s)
	}

	var total time.Duration
	for _, seg := range m[1:] {
		if seg == "" {
			continue
		}
		val, err := strconv.ParseInt(seg[:len(seg)-1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid number in %q", seg)
		}
		switch seg[len(seg)-1] {
		case 'd':
			total += time.Duration(val) * 24 * time.Hour
		case 'h':
			total += time.Duration(val) * time.Hour
		case 'm':
			total += time.Duration(val) * time.Minute
		case 's':
			total += time.Duration(val) * time.Second
		}
	}
	if total <= 0 {
		return 0, fmt.Errorf("retention %q must be positive", s)
	}
	return total, nil
}
