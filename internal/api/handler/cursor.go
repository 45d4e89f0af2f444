package handler

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Tim-0lu/env-can-wx-app/internal/jobqueue"
)

// ErrInvalidCursor is returned for page tokens this server did not issue.
var ErrInvalidCursor = errors.New("invalid cursor")

// DecodeJobCursor parses a next_cursor token. An empty token means the first
// page and yields nil.
func DecodeJobCursor(token string) (*jobqueue.JobCursor, error) {
	if token == "" {
		return nil, nil
	}

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}

	nanos, jobID, ok := strings.Cut(string(raw), "|")
	if !ok || jobID == "" {
		return nil, fmt.Errorf("%w: missing job id", ErrInvalidCursor)
	}

	n, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad created_at: %v", ErrInvalidCursor, err)
	}

	return &jobqueue.JobCursor{
		CreatedAt: time.Unix(0, n).UTC(),
		JobID:     jobID,
	}, nil
}

// EncodeJobCursor renders the keyset position of the last row of a page.
func EncodeJobCursor(cursor *jobqueue.JobCursor) string {
	raw := strconv.FormatInt(cursor.CreatedAt.UnixNano(), 10) + "|" + cursor.JobID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}
